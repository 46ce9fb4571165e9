package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/earlywatch/sentinel/internal/tasks"
)

// RunDetectorEvent is a remote trigger asking the pipeline to run a
// detector. Start and end are optional ISO-8601 timestamps.
type RunDetectorEvent struct {
	DetectorID  string `json:"detector_id"`
	Start       string `json:"start_date,omitempty"`
	End         string `json:"end_date,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// Subscriber listens for detector-run triggers and dispatches them to
// the task runner.
type Subscriber struct {
	conn         *nats.Conn
	subscription *nats.Subscription
	runner       *tasks.Runner
}

func NewSubscriber(natsURL string, runner *tasks.Runner) (*Subscriber, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.Printf("Sentinel (Sub) connected to NATS at %s", natsURL)

	return &Subscriber{conn: conn, runner: runner}, nil
}

// Start begins listening for detector-run triggers.
func (s *Subscriber) Start() error {
	var err error

	log.Printf("Subscribing to %q for remote detector triggers...", SubjectRunDetector)

	s.subscription, err = s.conn.Subscribe(SubjectRunDetector, func(msg *nats.Msg) {
		s.handleRunDetector(msg)
	})
	if err != nil {
		return err
	}

	log.Printf("Subscribed to %q", SubjectRunDetector)

	return nil
}

func (s *Subscriber) handleRunDetector(msg *nats.Msg) {
	var event RunDetectorEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("Failed to unmarshal run trigger: %v", err)
		return
	}
	if event.DetectorID == "" {
		log.Printf("Ignoring run trigger without detector_id")
		return
	}

	start, err := parseOptionalTime(event.Start)
	if err != nil {
		log.Printf("Ignoring run trigger with bad start_date %q: %v", event.Start, err)
		return
	}
	end, err := parseOptionalTime(event.End)
	if err != nil {
		log.Printf("Ignoring run trigger with bad end_date %q: %v", event.End, err)
		return
	}

	log.Printf("Received run trigger for detector %s (triggered_by=%s)", event.DetectorID, event.TriggeredBy)

	status := s.runner.Dispatch(context.Background(), event.DetectorID, start, end)
	log.Printf("Dispatched detector %s: task=%s mode=%s", event.DetectorID, status.TaskID, status.Mode)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Subscriber) Close() {
	if s.subscription != nil {
		s.subscription.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
		log.Println("Sentinel (Sub) disconnected from NATS")
	}
}
