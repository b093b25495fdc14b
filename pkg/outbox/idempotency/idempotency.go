package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

// ErrInFlight means another delivery of the same event holds an unexpired claim.
// Callers should nack and let the broker redeliver later.
var ErrInFlight = errors.New("event claimed by another delivery")

// Store is the slice of the redis client the manager needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	DedupeKey(consumer, eventID string) string
}

// Manager guards consumers against duplicate deliveries in two steps. Claim
// takes a short lease; Complete swaps it for a long-lived done marker once the
// side effect is durable. A crash between the two lets the lease lapse, so the
// next delivery runs the handler again instead of skipping it.
type Manager struct {
	store Store
	lease time.Duration
	ttl   time.Duration
}

func NewManager(store Store, lease, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if lease <= 0 {
		return nil, errors.New("claim lease must be positive")
	}
	if ttl < lease {
		return nil, fmt.Errorf("dedupe ttl %s shorter than claim lease %s", ttl, lease)
	}
	return &Manager{store: store, lease: lease, ttl: ttl}, nil
}

// Claim returns true when the caller now owns the event. It returns false with
// a nil error when an earlier delivery already completed it, and ErrInFlight
// while someone else holds the lease.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	won, err := m.store.SetNX(ctx, key, stateProcessing, m.lease)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if won {
		return true, nil
	}

	state, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// lease expired between the two calls
		return false, ErrInFlight
	case err != nil:
		return false, fmt.Errorf("read claim %s: %w", key, err)
	case state == stateDone:
		return false, nil
	default:
		return false, ErrInFlight
	}
}

// Complete records the event as handled for the dedupe TTL.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, key, stateDone, m.ttl); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

// Release drops a claim so the next delivery may try again.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.DedupeKey(consumer, eventID.String()), nil
}
