package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Guard marks externally-identified events (e.g. webhook event ids) as seen.
type Guard struct {
	store Store
	ttl   time.Duration
	scope string
}

func NewGuard(store Store, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Guard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark reports true when the id was already marked.
func (g *Guard) CheckAndMark(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(id), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete unmarks the id so a redelivery is processed again.
func (g *Guard) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(id))
}

func (g *Guard) key(id string) string {
	return g.scope + ":" + id
}
