package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jozer-rami/resonancial-api/internal/db"
	"github.com/jozer-rami/resonancial-api/internal/notify"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		RecoveryTimeout:     recovery,
		HalfOpenMaxRequests: 1,
	}, zap.NewNop())
}

func TestBreakerStartsClosed(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state, got %v", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed breaker must allow requests")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state after 3 failures, got %v", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open breaker must reject requests")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Errorf("interleaved success should keep the breaker closed, got %v", cb.GetState())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %v", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected a probe request after the recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open state, got %v", cb.GetState())
	}

	// Only one probe fits through.
	if cb.Allow() {
		t.Error("second request during the probe must be rejected")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("successful probe should close the breaker, got %v", cb.GetState())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected a probe request")
	}
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("failed probe should re-open the breaker, got %v", cb.GetState())
	}
}

func TestBreakerStats(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.Allow()
	cb.RecordFailure()
	cb.Allow() // rejected, circuit open

	requests, failures, rejected := cb.Stats()
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
	if failures != 1 {
		t.Errorf("expected 1 failure, got %d", failures)
	}
	if rejected != 1 {
		t.Errorf("expected 1 rejection, got %d", rejected)
	}
}

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Send(ctx context.Context, d *notify.Delivery) error {
	s.calls++
	return s.err
}

func (s *stubSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}

func emailDelivery() *notify.Delivery {
	return &notify.Delivery{
		CodeID:    uuid.New(),
		Code:      "DISC-AAAA-AAAAE",
		Value:     "10.00",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		Channel:   db.ChannelEmail,
		To:        "maria@example.com",
	}
}

func TestProtectedSenderPassesThrough(t *testing.T) {
	sender := &stubSender{}
	p := NewProtectedSender(sender, newTestBreaker(3, time.Minute), zap.NewNop())

	if err := p.Send(context.Background(), emailDelivery()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sender.calls != 1 {
		t.Errorf("expected 1 underlying send, got %d", sender.calls)
	}
}

func TestProtectedSenderFailsFastWhenOpen(t *testing.T) {
	sender := &stubSender{err: errors.New("provider down")}
	p := NewProtectedSender(sender, newTestBreaker(2, time.Minute), zap.NewNop())

	for i := 0; i < 2; i++ {
		if err := p.Send(context.Background(), emailDelivery()); err == nil {
			t.Fatal("expected the provider error")
		}
	}

	err := p.Send(context.Background(), emailDelivery())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if sender.calls != 2 {
		t.Errorf("open circuit must not reach the provider, got %d calls", sender.calls)
	}
}

func TestProtectedSenderRecovers(t *testing.T) {
	sender := &stubSender{err: errors.New("provider down")}
	p := NewProtectedSender(sender, newTestBreaker(1, 10*time.Millisecond), zap.NewNop())

	if err := p.Send(context.Background(), emailDelivery()); err == nil {
		t.Fatal("expected the provider error")
	}

	sender.err = nil
	time.Sleep(20 * time.Millisecond)

	if err := p.Send(context.Background(), emailDelivery()); err != nil {
		t.Fatalf("probe send failed: %v", err)
	}
	if err := p.Send(context.Background(), emailDelivery()); err != nil {
		t.Fatalf("send after recovery failed: %v", err)
	}
}

func TestProtectedSenderSupportsChannel(t *testing.T) {
	p := NewProtectedSender(&stubSender{}, newTestBreaker(3, time.Minute), zap.NewNop())

	if !p.SupportsChannel(db.ChannelEmail) {
		t.Error("expected email channel to be supported")
	}
	if p.SupportsChannel(db.ChannelWhatsapp) {
		t.Error("whatsapp is not supported by the wrapped sender")
	}
}
