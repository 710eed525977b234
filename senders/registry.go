package senders

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib/models"
	"go.uber.org/zap"
)

// Sender delivers a rendered notification to one channel.
type Sender interface {
	// Ready returns nil once the transport can accept sends.
	Ready(ctx context.Context) error
	// Send delivers n and returns the transport's message id.
	Send(ctx context.Context, n *models.Notification) (string, error)
}

type Registry map[string]Sender

func NewSenderRegistry(log *zap.Logger, cfg *config.Config, client *http.Client) Registry {
	base := base{log, cfg, client}
	return map[string]Sender{
		"discord":  &discordSender{base},
		"telegram": &telegramSender{base: base},
		"email":    &mailgunSender{base},
	}
}

// NewSender picks the configured transport and bounds each call by the send timeout.
func NewSender(registry Registry, cfg *config.Config) (Sender, error) {
	sender, ok := registry[cfg.Transport]
	if !ok {
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
	return &boundedSender{cfg.Transport, sender, cfg.SendTimeout()}, nil
}

type base struct {
	log    *zap.Logger
	cfg    *config.Config
	client *http.Client
}

// TransportError is returned when one notification could not be delivered.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type boundedSender struct {
	name    string
	inner   Sender
	timeout time.Duration
}

func (b *boundedSender) Ready(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	if err := b.inner.Ready(ctx); err != nil {
		return &TransportError{b.name, err}
	}
	return nil
}

func (b *boundedSender) Send(ctx context.Context, n *models.Notification) (string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	id, err := b.inner.Send(ctx, n)
	if err != nil {
		return "", &TransportError{b.name, err}
	}
	return id, nil
}

func (b *boundedSender) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}
