package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jozer-rami/resonancial-api/internal/db"
)

const (
	// maxGenerationAttempts bounds the retry loop on code collision. At 32^8
	// possible codes a collision is astronomically rare, so exhausting the
	// ceiling signals a store problem rather than bad luck.
	maxGenerationAttempts = 5

	// validityWindow is the fixed lifetime of every code, computed once at
	// creation. No sliding expiration, no renewal.
	validityWindow = 30 * 24 * time.Hour
)

// Validation-category errors: expected, user-facing outcomes that handlers
// map to 400 responses. Everything else out of the engine is an
// infrastructure fault.
var (
	ErrInvalidFormat    = errors.New("discount code format invalid")
	ErrNotFound         = errors.New("discount code not found")
	ErrAlreadyRedeemed  = errors.New("discount code already redeemed")
	ErrExpired          = errors.New("discount code expired")
	ErrExhaustedRetries = errors.New("could not generate a unique discount code")
)

// UserMessage returns the Spanish-language message shown to site visitors for
// a validation-category error, or an empty string for anything else.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFormat):
		return "El formato del código no es válido"
	case errors.Is(err, ErrNotFound):
		return "Código de descuento no encontrado"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "Este código ya ha sido utilizado"
	case errors.Is(err, ErrExpired):
		return "Este código ha expirado"
	default:
		return ""
	}
}

// IsValidationError reports whether err belongs to the validation category.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrExpired)
}

// Store defines the persistence operations the engine needs
type Store interface {
	CreateDiscountCode(ctx context.Context, code *db.DiscountCode) error
	GetDiscountCodeByCode(ctx context.Context, code string) (*db.DiscountCode, error)
	GetDiscountCodeBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*db.DiscountCode, error)
	RedeemDiscountCode(ctx context.Context, code, orderID string, at time.Time) (bool, error)
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, deliveredAt *time.Time) error
	ListActiveCodes(ctx context.Context, limit, offset int) ([]*db.DiscountCode, error)
}

// Engine orchestrates discount code creation, validation, and redemption
// against the store.
type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a discount code engine
func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Create generates a unique code for a subscriber and persists it with
// delivery status pending. Generation retries up to the attempt ceiling on
// collision; the insert's unique constraint is what detects the collision.
func (e *Engine) Create(ctx context.Context, subscriberID uuid.UUID, channel string) (*db.DiscountCode, error) {
	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		code := &db.DiscountCode{
			ID:              uuid.New(),
			Code:            GenerateCode(),
			Type:            db.TypeTenPercent,
			Value:           "10.00",
			SubscriberID:    subscriberID,
			DeliveryChannel: channel,
			DeliveryStatus:  db.DeliveryPending,
			ExpiresAt:       e.now().Add(validityWindow),
		}

		err := e.store.CreateDiscountCode(ctx, code)
		if errors.Is(err, db.ErrDuplicateCode) {
			e.logger.Warn("discount code collision, regenerating",
				zap.String("code", code.Code),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create discount code: %w", err)
		}

		return code, nil
	}

	return nil, ErrExhaustedRetries
}

// Validate checks a candidate code against format, existence, redemption
// state, and expiry. Side-effect free, so it is safe to call repeatedly;
// Redeem reuses it internally.
func (e *Engine) Validate(ctx context.Context, code string) (*db.DiscountCode, error) {
	normalized := NormalizeCode(code)

	// Cheap rejection of garbage input before touching the store.
	if !ValidateCodeFormat(normalized) {
		return nil, ErrInvalidFormat
	}

	rec, err := e.store.GetDiscountCodeByCode(ctx, normalized)
	if errors.Is(err, db.ErrCodeNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up discount code: %w", err)
	}

	if rec.RedeemedAt != nil {
		return nil, ErrAlreadyRedeemed
	}

	if e.now().After(rec.ExpiresAt) {
		return nil, ErrExpired
	}

	return rec, nil
}

// Redeem marks a code as consumed against an order. Redemption is single-use:
// the store's conditional update resolves concurrent attempts, so a lost race
// surfaces as ErrAlreadyRedeemed rather than a silent double redemption.
func (e *Engine) Redeem(ctx context.Context, code, orderID string) error {
	rec, err := e.Validate(ctx, code)
	if err != nil {
		return err
	}

	redeemed, err := e.store.RedeemDiscountCode(ctx, rec.Code, orderID, e.now())
	if err != nil {
		return fmt.Errorf("redeem discount code: %w", err)
	}
	if !redeemed {
		return ErrAlreadyRedeemed
	}

	e.logger.Info("discount code redeemed",
		zap.String("code_id", rec.ID.String()),
		zap.String("order_id", orderID),
	)

	return nil
}

// UpdateDeliveryStatus records the outcome of a delivery attempt. A sent
// transition without an explicit timestamp stamps the current time.
func (e *Engine) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, deliveredAt *time.Time) error {
	if status == db.DeliverySent && deliveredAt == nil {
		now := e.now()
		deliveredAt = &now
	}

	if err := e.store.UpdateDeliveryStatus(ctx, id, status, deliveredAt); err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}

	return nil
}

// CodeBySubscriber returns the code most recently issued to a subscriber.
func (e *Engine) CodeBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*db.DiscountCode, error) {
	rec, err := e.store.GetDiscountCodeBySubscriber(ctx, subscriberID)
	if errors.Is(err, db.ErrCodeNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up code by subscriber: %w", err)
	}
	return rec, nil
}

// ActiveCodes returns unredeemed, unexpired codes with pagination.
func (e *Engine) ActiveCodes(ctx context.Context, limit, offset int) ([]*db.DiscountCode, error) {
	codes, err := e.store.ListActiveCodes(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list active codes: %w", err)
	}
	return codes, nil
}
