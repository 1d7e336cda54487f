package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNATSPublisher(url, subjectPrefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("ml-service"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, logger: logger}, nil
}

func (p *NATSPublisher) subject(e Event) string {
	if p.prefix == "" {
		return e.Type
	}
	return p.prefix + "." + e.Type
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	data, err := e.marshal()
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject(e), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject(e), err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
