package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Sentinel errors surfaced by the repository. Callers branch with errors.Is;
// anything else is an infrastructure fault.
var (
	ErrDuplicateEmail     = errors.New("email already subscribed")
	ErrDuplicateCode      = errors.New("discount code already exists")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrCodeNotFound       = errors.New("discount code not found")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Repository handles database operations for subscribers and discount codes
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateSubscriber inserts a new subscriber. The unique constraint on email
// is the race-resolution point for concurrent signups: a duplicate insert
// fails with ErrDuplicateEmail and the caller re-reads the existing row.
func (r *Repository) CreateSubscriber(ctx context.Context, sub *Subscriber) error {
	query := `
		INSERT INTO newsletter_subscribers (
			id, email, phone, phone_country_code, contact_preference,
			consent_whatsapp, consent_email
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING subscribed_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		sub.ID,
		sub.Email,
		sub.Phone,
		sub.PhoneCountryCode,
		sub.ContactPreference,
		sub.ConsentWhatsapp,
		sub.ConsentEmail,
	).Scan(&sub.SubscribedAt)

	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		r.logger.Error("failed to create subscriber",
			zap.Error(err),
			zap.String("subscriber_id", sub.ID.String()),
		)
		return fmt.Errorf("insert subscriber: %w", err)
	}

	r.logger.Info("subscriber created",
		zap.String("subscriber_id", sub.ID.String()),
		zap.String("contact_preference", sub.ContactPreference),
	)

	return nil
}

// GetSubscriberByEmail retrieves a subscriber by email address
func (r *Repository) GetSubscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	query := `
		SELECT
			id, email, phone, phone_country_code, contact_preference,
			consent_whatsapp, consent_email, subscribed_at
		FROM newsletter_subscribers
		WHERE email = $1
	`

	var sub Subscriber
	err := r.db.Pool().QueryRow(ctx, query, email).Scan(
		&sub.ID,
		&sub.Email,
		&sub.Phone,
		&sub.PhoneCountryCode,
		&sub.ContactPreference,
		&sub.ConsentWhatsapp,
		&sub.ConsentEmail,
		&sub.SubscribedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscriber: %w", err)
	}

	return &sub, nil
}

// CreateDiscountCode inserts a new discount code. The unique constraint on
// code makes the insert itself resolve generation collisions; the engine's
// retry loop handles the expected-collision case.
func (r *Repository) CreateDiscountCode(ctx context.Context, code *DiscountCode) error {
	query := `
		INSERT INTO discount_codes (
			id, code, type, value, subscriber_id,
			delivery_channel, delivery_status, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		code.ID,
		code.Code,
		code.Type,
		code.Value,
		code.SubscriberID,
		code.DeliveryChannel,
		code.DeliveryStatus,
		code.ExpiresAt,
	).Scan(&code.CreatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	if err != nil {
		r.logger.Error("failed to create discount code",
			zap.Error(err),
			zap.String("code_id", code.ID.String()),
		)
		return fmt.Errorf("insert discount code: %w", err)
	}

	r.logger.Info("discount code created",
		zap.String("code_id", code.ID.String()),
		zap.String("subscriber_id", code.SubscriberID.String()),
		zap.String("channel", code.DeliveryChannel),
	)

	return nil
}

// GetDiscountCodeByCode retrieves a discount code by its code string
func (r *Repository) GetDiscountCodeByCode(ctx context.Context, code string) (*DiscountCode, error) {
	query := `
		SELECT
			id, code, type, value, subscriber_id,
			delivery_channel, delivery_status, delivered_at,
			expires_at, redeemed_at, redeemed_order_id, created_at
		FROM discount_codes
		WHERE code = $1
	`

	var dc DiscountCode
	err := r.db.Pool().QueryRow(ctx, query, code).Scan(
		&dc.ID,
		&dc.Code,
		&dc.Type,
		&dc.Value,
		&dc.SubscriberID,
		&dc.DeliveryChannel,
		&dc.DeliveryStatus,
		&dc.DeliveredAt,
		&dc.ExpiresAt,
		&dc.RedeemedAt,
		&dc.RedeemedOrderID,
		&dc.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query discount code: %w", err)
	}

	return &dc, nil
}

// GetDiscountCodeBySubscriber retrieves the most recently issued code for a
// subscriber. The signup flow issues at most one code per subscriber, but the
// schema deliberately allows more for future promotions.
func (r *Repository) GetDiscountCodeBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*DiscountCode, error) {
	query := `
		SELECT
			id, code, type, value, subscriber_id,
			delivery_channel, delivery_status, delivered_at,
			expires_at, redeemed_at, redeemed_order_id, created_at
		FROM discount_codes
		WHERE subscriber_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var dc DiscountCode
	err := r.db.Pool().QueryRow(ctx, query, subscriberID).Scan(
		&dc.ID,
		&dc.Code,
		&dc.Type,
		&dc.Value,
		&dc.SubscriberID,
		&dc.DeliveryChannel,
		&dc.DeliveryStatus,
		&dc.DeliveredAt,
		&dc.ExpiresAt,
		&dc.RedeemedAt,
		&dc.RedeemedOrderID,
		&dc.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query discount code by subscriber: %w", err)
	}

	return &dc, nil
}

// RedeemDiscountCode atomically marks a code as redeemed. The conditional
// update is the only guard against concurrent redemptions: when two calls
// race, exactly one matches the redeemed_at IS NULL predicate. Returns false
// when the code was already redeemed.
func (r *Repository) RedeemDiscountCode(ctx context.Context, code, orderID string, at time.Time) (bool, error) {
	query := `
		UPDATE discount_codes
		SET redeemed_at = $1, redeemed_order_id = $2
		WHERE code = $3 AND redeemed_at IS NULL
	`

	result, err := r.db.Pool().Exec(ctx, query, at, orderID, code)
	if err != nil {
		r.logger.Error("failed to redeem discount code",
			zap.Error(err),
			zap.String("code", code),
		)
		return false, fmt.Errorf("redeem discount code: %w", err)
	}

	if result.RowsAffected() == 0 {
		return false, nil
	}

	r.logger.Info("discount code redeemed",
		zap.String("code", code),
		zap.String("order_id", orderID),
	)

	return true, nil
}

// UpdateDeliveryStatus sets the delivery status and timestamp of a code
func (r *Repository) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, deliveredAt *time.Time) error {
	query := `
		UPDATE discount_codes
		SET delivery_status = $1, delivered_at = $2
		WHERE id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, status, deliveredAt, id)
	if err != nil {
		r.logger.Error("failed to update delivery status",
			zap.Error(err),
			zap.String("code_id", id.String()),
		)
		return fmt.Errorf("update delivery status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrCodeNotFound
	}

	return nil
}

// ListActiveCodes retrieves unredeemed, unexpired codes with pagination
func (r *Repository) ListActiveCodes(ctx context.Context, limit, offset int) ([]*DiscountCode, error) {
	query := `
		SELECT
			id, code, type, value, subscriber_id,
			delivery_channel, delivery_status, delivered_at,
			expires_at, redeemed_at, redeemed_order_id, created_at
		FROM discount_codes
		WHERE redeemed_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query active codes: %w", err)
	}
	defer rows.Close()

	var codes []*DiscountCode
	for rows.Next() {
		var dc DiscountCode
		err := rows.Scan(
			&dc.ID,
			&dc.Code,
			&dc.Type,
			&dc.Value,
			&dc.SubscriberID,
			&dc.DeliveryChannel,
			&dc.DeliveryStatus,
			&dc.DeliveredAt,
			&dc.ExpiresAt,
			&dc.RedeemedAt,
			&dc.RedeemedOrderID,
			&dc.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan discount code: %w", err)
		}
		codes = append(codes, &dc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return codes, nil
}

// GetPendingDeliveries retrieves codes awaiting delivery, joined with the
// contact details of their owners. Consumed by the delivery worker.
func (r *Repository) GetPendingDeliveries(ctx context.Context, limit int) ([]*PendingDelivery, error) {
	query := `
		SELECT
			c.id, c.code, c.value, c.expires_at, c.delivery_channel,
			s.email, s.phone, s.phone_country_code
		FROM discount_codes c
		JOIN newsletter_subscribers s ON s.id = c.subscriber_id
		WHERE c.delivery_status = 'pending'
		ORDER BY c.created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*PendingDelivery
	for rows.Next() {
		var d PendingDelivery
		err := rows.Scan(
			&d.CodeID,
			&d.Code,
			&d.Value,
			&d.ExpiresAt,
			&d.Channel,
			&d.Email,
			&d.Phone,
			&d.PhoneCountryCode,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending delivery: %w", err)
		}
		deliveries = append(deliveries, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return deliveries, nil
}
