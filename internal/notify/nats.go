package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// natsConn is the subset of *nats.Conn used for publishing.
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSPublisher publishes events as JSON on a NATS subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
	closer  func()
}

// NATSOpts holds parameters for creating a NATSPublisher.
type NATSOpts struct {
	URL     string
	Subject string
	Conn    natsConn // for testing
}

// NewNATS connects to the NATS server (unless Conn is injected).
func NewNATS(opts NATSOpts) (*NATSPublisher, error) {
	if opts.Subject == "" {
		return nil, fmt.Errorf("notify: nats subject is required")
	}
	p := &NATSPublisher{conn: opts.Conn, subject: opts.Subject, closer: func() {}}
	if p.conn == nil {
		if opts.URL == "" {
			return nil, fmt.Errorf("notify: nats url is required")
		}
		nc, err := nats.Connect(opts.URL, nats.Name("cohost-notify"))
		if err != nil {
			return nil, fmt.Errorf("notify: nats connect %s: %w", opts.URL, err)
		}
		p.conn = nc
		p.closer = nc.Close
	}
	return p, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close releases the NATS connection if this publisher owns it.
func (p *NATSPublisher) Close() {
	p.closer()
}
