package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/earlywatch/sentinel/internal/models"
)

// Payload is the wire format sent to external alerting systems.
type Payload struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Content    string              `json:"content"`
	Language   string              `json:"language"`
	Severity   string              `json:"severity"`
	Source     PayloadSource       `json:"source"`
	Timestamp  string              `json:"timestamp"`
	Confidence float64             `json:"confidence_score"`
	Locations  []PayloadLocation   `json:"locations"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
}

type PayloadSource struct {
	System   string `json:"system"`
	Detector string `json:"detector"`
}

type PayloadLocation struct {
	Name       string `json:"name"`
	AdminLevel int    `json:"admin_level"`
}

// BuildPayload formats an alert for the external API.
func BuildPayload(a *models.Alert, detectionID, language string) Payload {
	locs := make([]PayloadLocation, 0, len(a.Locations))
	for _, l := range a.Locations {
		locs = append(locs, PayloadLocation{Name: l.Name, AdminLevel: l.AdminLevel})
	}
	return Payload{
		ID:         fmt.Sprintf("sentinel-%s", detectionID),
		Title:      a.Title,
		Content:    a.Text,
		Language:   language,
		Severity:   severityLabel(a.Confidence),
		Source:     PayloadSource{System: "sentinel", Detector: a.Source},
		Timestamp:  a.EventDate.UTC().Format(time.RFC3339),
		Confidence: a.Confidence,
		Locations:  locs,
		Metadata: map[string]any{
			"detection_id": detectionID,
			"category":     a.Category,
			"valid_from":   a.ValidFrom.UTC().Format(time.RFC3339),
			"valid_until":  a.ValidUntil.UTC().Format(time.RFC3339),
		},
	}
}

func severityLabel(confidence float64) string {
	switch {
	case confidence >= 0.9:
		return "critical"
	case confidence >= 0.7:
		return "high"
	case confidence >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

// APIClient talks to one external alerting system.
type APIClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAPIClient(name, baseURL, apiKey string, timeout time.Duration) *APIClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		name:    name,
		baseURL: trimSlash(baseURL),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) Name() string { return c.name }

// Publish creates the alert remotely and returns the external ID plus
// the decoded response body.
func (c *APIClient) Publish(ctx context.Context, p Payload) (string, map[string]any, error) {
	resp, err := c.do(ctx, http.MethodPost, "/alerts", p)
	if err != nil {
		return "", nil, err
	}
	externalID, _ := resp["id"].(string)
	if externalID == "" {
		return "", resp, fmt.Errorf("alert API %s returned no alert id", c.name)
	}
	log.Printf("Published alert to %s: %s", c.name, externalID)
	return externalID, resp, nil
}

func (c *APIClient) Update(ctx context.Context, externalID string, p Payload) (map[string]any, error) {
	return c.do(ctx, http.MethodPut, "/alerts/"+externalID, p)
}

func (c *APIClient) Cancel(ctx context.Context, externalID, reason string) error {
	_, err := c.do(ctx, http.MethodPost, "/alerts/"+externalID+"/cancel", map[string]string{"reason": reason})
	return err
}

func (c *APIClient) Status(ctx context.Context, externalID string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, "/alerts/"+externalID+"/status", nil)
}

func (c *APIClient) HealthCheck(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *APIClient) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alert API %s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("alert API %s returned %d: %s", c.name, resp.StatusCode, string(b))
	}

	decoded := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode response from %s: %w", c.name, err)
	}
	return decoded, nil
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Publisher multiplexes alert publication across the configured
// external systems by name.
type Publisher struct {
	clients map[string]*APIClient
}

func NewPublisher(clients ...*APIClient) *Publisher {
	m := make(map[string]*APIClient, len(clients))
	for _, c := range clients {
		m[c.Name()] = c
	}
	return &Publisher{clients: m}
}

func (p *Publisher) Client(name string) (*APIClient, error) {
	c, ok := p.clients[name]
	if !ok {
		return nil, fmt.Errorf("alert API %q not configured", name)
	}
	return c, nil
}

func (p *Publisher) Names() []string {
	out := make([]string, 0, len(p.clients))
	for name := range p.clients {
		out = append(out, name)
	}
	return out
}

// CheckHealth probes every configured API and returns a per-name error
// map (nil entry means healthy).
func (p *Publisher) CheckHealth(ctx context.Context) map[string]error {
	results := make(map[string]error, len(p.clients))
	for name, c := range p.clients {
		results[name] = c.HealthCheck(ctx)
	}
	return results
}
