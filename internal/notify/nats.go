// Package notify delivers dispatched notifications to chat bridges.
//
// Notifications are published as JSON on NATS, one subject per destination
// channel (<prefix>.<channel>). Bots for the actual chat platforms
// subscribe to the subjects they serve.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ernie/killfeed/internal/domain"
)

// ErrUnresolvedChannel is returned when a channel reference cannot be
// mapped to a subject
var ErrUnresolvedChannel = errors.New("unresolved notification channel")

// NATSPublisher publishes notifications to NATS
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher connects to the NATS server at url
func NewNATSPublisher(url, subjectPrefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("killfeed"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, logger: logger}, nil
}

// Subject returns the subject notifications for channel are published on
func (p *NATSPublisher) Subject(channel string) (string, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" || strings.ContainsAny(channel, " \t\r\n*>") {
		return "", fmt.Errorf("%w: %q", ErrUnresolvedChannel, channel)
	}
	for _, token := range strings.Split(channel, ".") {
		if token == "" {
			return "", fmt.Errorf("%w: %q", ErrUnresolvedChannel, channel)
		}
	}
	return p.prefix + "." + channel, nil
}

// Notify publishes n on its channel subject
func (p *NATSPublisher) Notify(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, err := p.Subject(n.Channel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", "error", err)
		p.conn.Close()
	}
}
