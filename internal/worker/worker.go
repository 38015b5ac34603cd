// Package worker polls for discount codes awaiting delivery and dispatches
// them through the configured channels.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jozer-rami/resonancial-api/internal/db"
	"github.com/jozer-rami/resonancial-api/internal/metrics"
	"github.com/jozer-rami/resonancial-api/internal/notify"
)

// Repository provides the pending deliveries to dispatch
type Repository interface {
	GetPendingDeliveries(ctx context.Context, limit int) ([]*db.PendingDelivery, error)
}

// StatusUpdater records delivery outcomes. Implemented by the promo engine so
// the sent-at timestamp rule lives in one place.
type StatusUpdater interface {
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, deliveredAt *time.Time) error
}

type Worker struct {
	repo    Repository
	updater StatusUpdater
	sender  notify.Sender
	config  Config
	logger  *zap.Logger
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func New(repo Repository, updater StatusUpdater, sender notify.Sender, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	return &Worker{
		repo:    repo,
		updater: updater,
		sender:  sender,
		config:  cfg,
		logger:  logger,
	}
}

// Start runs the polling loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("delivery worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	deliveries, err := w.repo.GetPendingDeliveries(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to get pending deliveries", zap.Error(err))
		return
	}
	if len(deliveries) == 0 {
		return
	}

	w.logger.Debug("processing pending deliveries", zap.Int("count", len(deliveries)))

	for _, pd := range deliveries {
		w.processDelivery(ctx, pd)
	}
}

// processDelivery makes exactly one attempt per code. Failures are terminal
// from the engine's perspective; retrying a failed delivery is an operator
// decision, not something this loop does on its own.
func (w *Worker) processDelivery(ctx context.Context, pd *db.PendingDelivery) {
	d := &notify.Delivery{
		CodeID:    pd.CodeID,
		Code:      pd.Code,
		Value:     pd.Value,
		ExpiresAt: pd.ExpiresAt,
		Channel:   pd.Channel,
		To:        destination(pd),
	}

	err := w.sender.Send(ctx, d)
	if err != nil {
		w.logger.Error("failed to deliver discount code",
			zap.Error(err),
			zap.String("code_id", pd.CodeID.String()),
			zap.String("channel", pd.Channel),
		)
		metrics.RecordDeliveryAttempt(pd.Channel, db.DeliveryFailed)
		if updErr := w.updater.UpdateDeliveryStatus(ctx, pd.CodeID, db.DeliveryFailed, nil); updErr != nil {
			w.logger.Error("failed to mark delivery failed",
				zap.Error(updErr),
				zap.String("code_id", pd.CodeID.String()),
			)
		}
		return
	}

	w.logger.Info("discount code delivered",
		zap.String("code_id", pd.CodeID.String()),
		zap.String("channel", pd.Channel),
	)
	metrics.RecordDeliveryAttempt(pd.Channel, db.DeliverySent)

	if updErr := w.updater.UpdateDeliveryStatus(ctx, pd.CodeID, db.DeliverySent, nil); updErr != nil {
		w.logger.Error("failed to mark delivery sent",
			zap.Error(updErr),
			zap.String("code_id", pd.CodeID.String()),
		)
	}
}

// destination picks the channel-appropriate contact field. WhatsApp numbers
// are stored split into country code and local number.
func destination(pd *db.PendingDelivery) string {
	if pd.Channel == db.ChannelWhatsapp {
		cc := ""
		if pd.PhoneCountryCode != nil {
			cc = *pd.PhoneCountryCode
		}
		phone := ""
		if pd.Phone != nil {
			phone = *pd.Phone
		}
		return cc + phone
	}
	return pd.Email
}
