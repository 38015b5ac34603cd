package worker

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

type mockRepo struct {
	pending []*db.PendingDelivery
	err     error
}

func (m *mockRepo) GetPendingDeliveries(ctx context.Context, limit int) ([]*db.PendingDelivery, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.pending) {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

type statusCall struct {
	id          uuid.UUID
	status      string
	deliveredAt *time.Time
}

type mockUpdater struct {
	calls []statusCall
	err   error
}

func (m *mockUpdater) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, deliveredAt *time.Time) error {
	m.calls = append(m.calls, statusCall{id: id, status: status, deliveredAt: deliveredAt})
	return m.err
}

type mockSender struct {
	sent []*notify.Delivery
	err  error
}

func (m *mockSender) Send(ctx context.Context, d *notify.Delivery) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, d)
	return nil
}

func (m *mockSender) SupportsChannel(channel string) bool { return true }

func pendingEmail(id uuid.UUID) *db.PendingDelivery {
	return &db.PendingDelivery{
		CodeID:    id,
		Code:      "DISC-AAAA-AAAAE",
		Value:     "10.00",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		Channel:   db.ChannelEmail,
		Email:     "maria@example.com",
	}
}

func TestProcessBatchMarksSent(t *testing.T) {
	codeID := uuid.New()
	repo := &mockRepo{pending: []*db.PendingDelivery{pendingEmail(codeID)}}
	updater := &mockUpdater{}
	sender := &mockSender{}

	w := New(repo, updater, sender, Config{}, zap.NewNop())
	w.processBatch(context.Background())

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sender.sent))
	}
	if sender.sent[0].To != "maria@example.com" {
		t.Errorf("unexpected destination %q", sender.sent[0].To)
	}

	if len(updater.calls) != 1 {
		t.Fatalf("expected 1 status update, got %d", len(updater.calls))
	}
	call := updater.calls[0]
	if call.id != codeID || call.status != db.DeliverySent {
		t.Errorf("unexpected status update %+v", call)
	}
}

func TestProcessBatchMarksFailed(t *testing.T) {
	codeID := uuid.New()
	repo := &mockRepo{pending: []*db.PendingDelivery{pendingEmail(codeID)}}
	updater := &mockUpdater{}
	sender := &mockSender{err: errors.New("provider down")}

	w := New(repo, updater, sender, Config{}, zap.NewNop())
	w.processBatch(context.Background())

	if len(updater.calls) != 1 {
		t.Fatalf("expected 1 status update, got %d", len(updater.calls))
	}
	call := updater.calls[0]
	if call.id != codeID || call.status != db.DeliveryFailed {
		t.Errorf("unexpected status update %+v", call)
	}
	if call.deliveredAt != nil {
		t.Error("failed delivery must not carry a delivered-at timestamp")
	}
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	first := pendingEmail(uuid.New())
	second := pendingEmail(uuid.New())
	second.Email = "jose@example.com"

	repo := &mockRepo{pending: []*db.PendingDelivery{first, second}}
	updater := &mockUpdater{}
	// Fail only the first send.
	sender := &flakySender{failFirst: true}

	w := New(repo, updater, sender, Config{}, zap.NewNop())
	w.processBatch(context.Background())

	if len(updater.calls) != 2 {
		t.Fatalf("expected 2 status updates, got %d", len(updater.calls))
	}
	if updater.calls[0].status != db.DeliveryFailed {
		t.Errorf("first delivery should be failed, got %q", updater.calls[0].status)
	}
	if updater.calls[1].status != db.DeliverySent {
		t.Errorf("second delivery should be sent, got %q", updater.calls[1].status)
	}
}

type flakySender struct {
	failFirst bool
	calls     int
}

func (f *flakySender) Send(ctx context.Context, d *notify.Delivery) error {
	f.calls++
	if f.failFirst && f.calls == 1 {
		return errors.New("transient provider error")
	}
	return nil
}

func (f *flakySender) SupportsChannel(channel string) bool { return true }

func TestProcessBatchRespectsBatchSize(t *testing.T) {
	var pending []*db.PendingDelivery
	for i := 0; i < 5; i++ {
		pending = append(pending, pendingEmail(uuid.New()))
	}

	repo := &mockRepo{pending: pending}
	updater := &mockUpdater{}
	sender := &mockSender{}

	w := New(repo, updater, sender, Config{BatchSize: 2}, zap.NewNop())
	w.processBatch(context.Background())

	if len(sender.sent) != 2 {
		t.Errorf("expected the batch capped at 2, got %d", len(sender.sent))
	}
}

func TestProcessBatchRepoFailure(t *testing.T) {
	repo := &mockRepo{err: errors.New("db down")}
	updater := &mockUpdater{}
	sender := &mockSender{}

	w := New(repo, updater, sender, Config{}, zap.NewNop())
	w.processBatch(context.Background())

	if len(sender.sent) != 0 || len(updater.calls) != 0 {
		t.Error("a failed poll must not send or update anything")
	}
}

func TestDestination(t *testing.T) {
	cc := "+52"
	phone := "5512345678"

	tests := []struct {
		name string
		pd   *db.PendingDelivery
		want string
	}{
		{
			name: "email channel",
			pd:   &db.PendingDelivery{Channel: db.ChannelEmail, Email: "maria@example.com"},
			want: "maria@example.com",
		},
		{
			name: "whatsapp joins country code and number",
			pd:   &db.PendingDelivery{Channel: db.ChannelWhatsapp, PhoneCountryCode: &cc, Phone: &phone},
			want: "+525512345678",
		},
		{
			name: "whatsapp with missing phone",
			pd:   &db.PendingDelivery{Channel: db.ChannelWhatsapp, PhoneCountryCode: &cc},
			want: "+52",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := destination(tt.pd); got != tt.want {
				t.Errorf("destination() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	repo := &mockRepo{}
	w := New(repo, &mockUpdater{}, &mockSender{}, Config{PollInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
