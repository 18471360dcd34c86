package probe

import (
	"encoding/json"
	"log"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"

	"github.com/nats-io/nats.go"
)

// ResultBatch is the wire format published by ns-scanner agents after each
// scan cycle: the devices seen and one ScanResult per device.
type ResultBatch struct {
	Agent     string             `json:"agent"`
	Timestamp time.Time          `json:"timestamp"`
	Devices   []model.Device     `json:"devices"`
	Results   []model.ScanResult `json:"results"`
}

// Publisher is responsible for publishing scan result batches to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish serializes a ResultBatch to JSON and publishes it to the configured
// NATS subject.
func (p *Publisher) Publish(batch *ResultBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
