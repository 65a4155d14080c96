package cache

import (
	"context"
	"time"

	"github.com/DenisArango/DENGO-POS-sub000/internal/cart"
)

// CartStore keeps open carts between requests and process restarts.
type CartStore interface {
	Get(ctx context.Context, key string) (*cart.Snapshot, bool, error)
	Set(ctx context.Context, key string, value *cart.Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func CartKey(storeID string, terminalID string) string {
	return "pos:cart:" + storeID + ":" + terminalID
}

type NoopCartStore struct{}

func (NoopCartStore) Get(_ context.Context, _ string) (*cart.Snapshot, bool, error) {
	return nil, false, nil
}

func (NoopCartStore) Set(_ context.Context, _ string, _ *cart.Snapshot, _ time.Duration) error {
	return nil
}

func (NoopCartStore) Delete(_ context.Context, _ string) error {
	return nil
}
