package promo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jozer-rami/resonancial-api/internal/db"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory promo.Store for engine tests.
type memStore struct {
	codes map[string]*db.DiscountCode

	// failInserts forces the next n inserts to fail as duplicates.
	failInserts int
	// failAll makes every operation return errStoreDown.
	failAll bool
	// rejectRedeem makes the conditional redemption update match zero rows,
	// simulating a concurrent redemption landing between read and write.
	rejectRedeem bool

	insertCalls int
	updateCalls int
}

func newMemStore() *memStore {
	return &memStore{codes: make(map[string]*db.DiscountCode)}
}

func (m *memStore) CreateDiscountCode(ctx context.Context, code *db.DiscountCode) error {
	m.insertCalls++
	if m.failAll {
		return errStoreDown
	}
	if m.failInserts > 0 {
		m.failInserts--
		return db.ErrDuplicateCode
	}
	if _, exists := m.codes[code.Code]; exists {
		return db.ErrDuplicateCode
	}
	code.CreatedAt = time.Now()
	cp := *code
	m.codes[code.Code] = &cp
	return nil
}

func (m *memStore) GetDiscountCodeByCode(ctx context.Context, code string) (*db.DiscountCode, error) {
	if m.failAll {
		return nil, errStoreDown
	}
	rec, ok := m.codes[code]
	if !ok {
		return nil, db.ErrCodeNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) GetDiscountCodeBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*db.DiscountCode, error) {
	if m.failAll {
		return nil, errStoreDown
	}
	for _, rec := range m.codes {
		if rec.SubscriberID == subscriberID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, db.ErrCodeNotFound
}

func (m *memStore) RedeemDiscountCode(ctx context.Context, code, orderID string, at time.Time) (bool, error) {
	if m.failAll {
		return false, errStoreDown
	}
	if m.rejectRedeem {
		return false, nil
	}
	rec, ok := m.codes[code]
	if !ok || rec.RedeemedAt != nil {
		return false, nil
	}
	rec.RedeemedAt = &at
	rec.RedeemedOrderID = &orderID
	return true, nil
}

func (m *memStore) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, deliveredAt *time.Time) error {
	m.updateCalls++
	if m.failAll {
		return errStoreDown
	}
	for _, rec := range m.codes {
		if rec.ID == id {
			rec.DeliveryStatus = status
			rec.DeliveredAt = deliveredAt
			return nil
		}
	}
	return db.ErrCodeNotFound
}

func (m *memStore) ListActiveCodes(ctx context.Context, limit, offset int) ([]*db.DiscountCode, error) {
	if m.failAll {
		return nil, errStoreDown
	}
	var out []*db.DiscountCode
	now := time.Now()
	for _, rec := range m.codes {
		if rec.RedeemedAt == nil && rec.ExpiresAt.After(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestEngine(store Store) *Engine {
	return NewEngine(store, zap.NewNop())
}

func TestCreatePersistsExpectedDefaults(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)
	subID := uuid.New()

	before := time.Now()
	code, err := engine.Create(context.Background(), subID, db.ChannelEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !ValidateCodeFormat(code.Code) {
		t.Errorf("created code fails format validation: %s", code.Code)
	}
	if code.Type != db.TypeTenPercent {
		t.Errorf("expected type %s, got %s", db.TypeTenPercent, code.Type)
	}
	if code.Value != "10.00" {
		t.Errorf("expected value 10.00, got %s", code.Value)
	}
	if code.DeliveryStatus != db.DeliveryPending {
		t.Errorf("expected pending delivery status, got %s", code.DeliveryStatus)
	}
	if code.SubscriberID != subID {
		t.Errorf("expected subscriber %s, got %s", subID, code.SubscriberID)
	}

	// expiresAt ~ now + 30 days
	wantExpiry := before.Add(30 * 24 * time.Hour)
	if code.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || code.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expected expiry near %v, got %v", wantExpiry, code.ExpiresAt)
	}
}

func TestCreateNeverReturnsDuplicateCodes(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		if seen[code.Code] {
			t.Fatalf("duplicate code returned: %s", code.Code)
		}
		seen[code.Code] = true
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	store := newMemStore()
	store.failInserts = 3
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelWhatsapp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code == nil {
		t.Fatal("expected a code after retries")
	}
	if store.insertCalls != 4 {
		t.Errorf("expected 4 insert attempts, got %d", store.insertCalls)
	}
}

func TestCreateExhaustsRetries(t *testing.T) {
	store := newMemStore()
	store.failInserts = 5
	engine := newTestEngine(store)

	_, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("expected ErrExhaustedRetries, got %v", err)
	}
	if store.insertCalls != 5 {
		t.Errorf("expected exactly 5 insert attempts, got %d", store.insertCalls)
	}
}

func TestCreatePropagatesStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failAll = true
	engine := newTestEngine(store)

	_, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if err == nil || errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error in chain, got %v", err)
	}
}

func TestValidateInvalidFormatSkipsStore(t *testing.T) {
	store := newMemStore()
	store.failAll = true // any store access would error
	engine := newTestEngine(store)

	_, err := engine.Validate(context.Background(), "not-a-code")
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestValidateNotFound(t *testing.T) {
	engine := newTestEngine(newMemStore())

	// Well-formed code that was never issued.
	code := GenerateCode()
	_, err := engine.Validate(context.Background(), code)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateNormalizesInput(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	rec, err := engine.Validate(context.Background(), "  "+code.Code+"  ")
	if err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if rec.Code != code.Code {
		t.Errorf("expected %s, got %s", code.Code, rec.Code)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		rec, err := engine.Validate(context.Background(), code.Code)
		if err != nil {
			t.Fatalf("validate %d failed: %v", i, err)
		}
		if rec.RedeemedAt != nil {
			t.Fatalf("validate %d mutated redemption state", i)
		}
	}

	stored := store.codes[code.Code]
	if stored.RedeemedAt != nil || stored.RedeemedOrderID != nil {
		t.Error("validate mutated the stored record")
	}
}

func TestValidateExpiryBoundary(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// One second before expiry: still valid.
	engine.now = func() time.Time { return code.ExpiresAt.Add(-1 * time.Second) }
	if _, err := engine.Validate(context.Background(), code.Code); err != nil {
		t.Fatalf("expected valid 1s before expiry, got %v", err)
	}

	// One second after expiry: rejected.
	engine.now = func() time.Time { return code.ExpiresAt.Add(1 * time.Second) }
	if _, err := engine.Validate(context.Background(), code.Code); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired 1s after expiry, got %v", err)
	}
}

func TestRedeemIsSingleUse(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := engine.Redeem(context.Background(), code.Code, "ORD-1"); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}

	err = engine.Redeem(context.Background(), code.Code, "ORD-2")
	if !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}

	stored := store.codes[code.Code]
	if stored.RedeemedOrderID == nil || *stored.RedeemedOrderID != "ORD-1" {
		t.Errorf("expected order ORD-1 preserved, got %v", stored.RedeemedOrderID)
	}
}

func TestRedeemLostRaceSurfacesAlreadyRedeemed(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// The engine's read sees an unredeemed record, but the conditional
	// update matches zero rows because a concurrent redemption committed in
	// between. The lost race must surface as AlreadyRedeemed, not success.
	store.rejectRedeem = true

	err = engine.Redeem(context.Background(), code.Code, "ORD-LOSER")
	if !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed on lost race, got %v", err)
	}
}

func TestRedeemExpiredCode(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	engine.now = func() time.Time { return code.ExpiresAt.Add(time.Hour) }
	if err := engine.Redeem(context.Background(), code.Code, "ORD-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if store.codes[code.Code].RedeemedAt != nil {
		t.Error("expired redemption mutated the record")
	}
}

func TestUpdateDeliveryStatusStampsSentTime(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelEmail)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := engine.UpdateDeliveryStatus(context.Background(), code.ID, db.DeliverySent, nil); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored := store.codes[code.Code]
	if stored.DeliveryStatus != db.DeliverySent {
		t.Errorf("expected sent, got %s", stored.DeliveryStatus)
	}
	if stored.DeliveredAt == nil {
		t.Error("expected delivered_at to be stamped")
	}
}

func TestUpdateDeliveryStatusFailedLeavesTimestampUnset(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)

	code, err := engine.Create(context.Background(), uuid.New(), db.ChannelWhatsapp)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := engine.UpdateDeliveryStatus(context.Background(), code.ID, db.DeliveryFailed, nil); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored := store.codes[code.Code]
	if stored.DeliveryStatus != db.DeliveryFailed {
		t.Errorf("expected failed, got %s", stored.DeliveryStatus)
	}
	if stored.DeliveredAt != nil {
		t.Error("failed delivery should not stamp delivered_at")
	}
}

func TestUserMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidFormat, "El formato del código no es válido"},
		{ErrNotFound, "Código de descuento no encontrado"},
		{ErrAlreadyRedeemed, "Este código ya ha sido utilizado"},
		{ErrExpired, "Este código ha expirado"},
		{errStoreDown, ""},
	}

	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
