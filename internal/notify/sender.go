// Package notify delivers discount codes to subscribers over email and
// WhatsApp. Delivery is best-effort: a failure only affects the code's
// delivery status, never its validity.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jozer-rami/resonancial-api/internal/db"
)

// Delivery carries everything a channel needs to notify a subscriber of
// their discount code.
type Delivery struct {
	CodeID    uuid.UUID
	Code      string
	Value     string
	ExpiresAt time.Time
	Channel   string
	To        string // email address or phone number in E.164 form
}

// Sender is the unified interface for all delivery channels.
// Implementations: email (SES), WhatsApp (provider HTTP API).
type Sender interface {
	Send(ctx context.Context, d *Delivery) error
	SupportsChannel(channel string) bool
}

// MultiSender routes a delivery to the first sender that supports its channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over multiple underlying senders
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the delivery to the appropriate sender based on channel
func (m *MultiSender) Send(ctx context.Context, d *Delivery) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(d.Channel) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", d.Channel),
				zap.String("code_id", d.CodeID.String()),
			)
			return sender.Send(ctx, d)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", d.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of sending them (development mode)
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d *Delivery) error {
	s.logger.Info("logging delivery (development mode)",
		zap.String("code_id", d.CodeID.String()),
		zap.String("channel", d.Channel),
		zap.String("to", d.To),
		zap.String("code", d.Code),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail || channel == db.ChannelWhatsapp
}
