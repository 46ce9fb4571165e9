// Package eventbus connects the detection pipeline to NATS: detection
// and publication events go out, and remote detector-run triggers come
// in.
package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/earlywatch/sentinel/internal/models"
)

const (
	SubjectDetectionCreated = "detections.created"
	SubjectAlertPublished   = "alerts.published"
	SubjectRunDetector      = "detectors.run"
)

// Publisher publishes pipeline lifecycle events to NATS. It satisfies
// the task runner's Events interface; publish failures are logged and
// never fail the pipeline.
type Publisher struct {
	conn *nats.Conn
}

func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.Printf("Sentinel (Pub) connected to NATS at %s", natsURL)

	return &Publisher{conn: conn}, nil
}

func (p *Publisher) DetectionCreated(_ context.Context, d *models.Detection) {
	data, err := json.Marshal(d)
	if err != nil {
		log.Printf("Failed to marshal detection event: %v", err)
		return
	}
	if err := p.conn.Publish(SubjectDetectionCreated, data); err != nil {
		log.Printf("Failed to publish detection event: %v", err)
		return
	}
	log.Printf("Published detection to event bus: [%s] %s", d.DetectorName, d.Title)
}

func (p *Publisher) AlertPublished(_ context.Context, record *models.PublishedAlert) {
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("Failed to marshal publication event: %v", err)
		return
	}
	if err := p.conn.Publish(SubjectAlertPublished, data); err != nil {
		log.Printf("Failed to publish publication event: %v", err)
		return
	}
	log.Printf("Published alert publication to event bus: api=%s external_id=%s", record.APIName, record.ExternalID)
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		log.Println("Sentinel (Pub) disconnected from NATS")
	}
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}
