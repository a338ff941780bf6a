// Package nats publishes literature lifecycle events to NATS subjects of the
// form <prefix>.<event type>.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/resilience"
)

const defaultSubjectPrefix = "literature"

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Breaker        *resilience.Breaker
}

type Publisher struct {
	conn    *nats.Conn
	prefix  string
	breaker *resilience.Breaker
	publish func(subject string, data []byte) error
}

func NewPublisher(url, subjectPrefix string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("literature-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	p := newPublisher(subjectPrefix, options.Breaker, conn.Publish)
	p.conn = conn
	return p, nil
}

func newPublisher(subjectPrefix string, breaker *resilience.Breaker, publish func(string, []byte) error) *Publisher {
	prefix := strings.Trim(strings.TrimSpace(subjectPrefix), ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &Publisher{prefix: prefix, breaker: breaker, publish: publish}
}

// Close drains pending messages before closing the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

func (p *Publisher) Subject(eventType domain.LiteratureEventType) string {
	return p.prefix + "." + string(eventType)
}

func (p *Publisher) PublishLiteratureEvent(ctx context.Context, event domain.LiteratureEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal literature event: %w", err)
	}
	subject := p.Subject(event.Type)

	err = p.breaker.Execute(ctx, "nats_publish", func(context.Context) error {
		if err := p.publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}, recordsFailure)
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}
