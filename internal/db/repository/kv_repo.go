package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gokatarajesh/geotap/internal/db/queries"
	"github.com/gokatarajesh/geotap/internal/store"
)

type kvStore interface {
	GetKV(ctx context.Context, key string) ([]byte, error)
	UpsertKV(ctx context.Context, arg queries.UpsertKVParams) error
	DeleteKV(ctx context.Context, key string) error
	ListKVKeys(ctx context.Context, prefix string) ([]string, error)
}

// KVRepository is the Postgres-backed store.Store.
type KVRepository struct {
	store kvStore
}

var _ store.Store = (*KVRepository)(nil)

// NewKVRepository constructs a new key-value repository.
func NewKVRepository(store kvStore) *KVRepository {
	return &KVRepository{store: store}
}

func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.store.GetKV(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	if err := r.store.UpsertKV(ctx, queries.UpsertKVParams{Key: key, Value: value}); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *KVRepository) Delete(ctx context.Context, key string) error {
	if err := r.store.DeleteKV(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (r *KVRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.store.ListKVKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys %s: %w", prefix, err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}
