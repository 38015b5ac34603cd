package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// guardTTL bounds how long a signup stays reserved if the request dies
	// before releasing it. Long enough to absorb a double-submitted form,
	// short enough that a retry after a genuine failure goes through.
	guardTTL = 30 * time.Second

	guardMarker = "in-flight"
)

// ErrSignupInFlight indicates another signup for the same email is currently
// being processed.
var ErrSignupInFlight = errors.New("signup already in flight for this email")

// SignupGuard deduplicates concurrent signup requests for the same email
// using SET NX. The newsletter form lives on a public landing page, so a
// double-clicked submit arrives as two near-simultaneous requests; the guard
// lets exactly one of them through and the database's unique constraint stays
// the true uniqueness authority.
type SignupGuard struct {
	client *Client
}

// NewSignupGuard creates a signup guard.
func NewSignupGuard(client *Client) *SignupGuard {
	return &SignupGuard{client: client}
}

func (g *SignupGuard) buildKey(email string) string {
	// Hash the email so addresses never appear in Redis keys.
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("signup:%s", hex.EncodeToString(sum[:8]))
}

// Reserve acquires the in-flight marker for an email. Returns
// ErrSignupInFlight if another request holds it.
func (g *SignupGuard) Reserve(ctx context.Context, email string) error {
	key := g.buildKey(email)

	set, err := g.client.rdb.SetNX(ctx, key, guardMarker, guardTTL).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return ErrSignupInFlight
	}

	return nil
}

// Release drops the in-flight marker once the signup has been processed.
func (g *SignupGuard) Release(ctx context.Context, email string) {
	key := g.buildKey(email)
	_ = g.client.rdb.Del(ctx, key).Err()
}
