package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gokatarajesh/geotap/internal/db/queries"
	"github.com/gokatarajesh/geotap/internal/store"
)

type mockKVStore struct {
	mock.Mock
}

func (m *mockKVStore) GetKV(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockKVStore) UpsertKV(ctx context.Context, arg queries.UpsertKVParams) error {
	return m.Called(ctx, arg).Error(0)
}

func (m *mockKVStore) DeleteKV(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockKVStore) ListKVKeys(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestKVRepository_GetMapsNoRows(t *testing.T) {
	kv := new(mockKVStore)
	repo := NewKVRepository(kv)

	kv.On("GetKV", mock.Anything, "daily_results_v1").Return(nil, pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "daily_results_v1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	kv.AssertExpectations(t)
}

func TestKVRepository_GetWrapsOtherErrors(t *testing.T) {
	kv := new(mockKVStore)
	repo := NewKVRepository(kv)
	boom := errors.New("conn reset")

	kv.On("GetKV", mock.Anything, "k").Return(nil, boom)

	_, err := repo.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestKVRepository_Set(t *testing.T) {
	kv := new(mockKVStore)
	repo := NewKVRepository(kv)

	kv.On("UpsertKV", mock.Anything, queries.UpsertKVParams{Key: "lb:2025-01-01", Value: []byte("[]")}).Return(nil)

	assert.NoError(t, repo.Set(context.Background(), "lb:2025-01-01", []byte("[]")))
	kv.AssertExpectations(t)
}

func TestKVRepository_KeysNeverNil(t *testing.T) {
	kv := new(mockKVStore)
	repo := NewKVRepository(kv)

	kv.On("ListKVKeys", mock.Anything, "lb:").Return(nil, nil)

	keys, err := repo.Keys(context.Background(), "lb:")
	assert.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)
}

func TestKVRepository_WorksBehindPrefix(t *testing.T) {
	kv := new(mockKVStore)
	scoped := store.WithPrefix(NewKVRepository(kv), "dev-1")

	kv.On("ListKVKeys", mock.Anything, "dev-1:lb:").Return([]string{"dev-1:lb:2025-01-01"}, nil)
	kv.On("DeleteKV", mock.Anything, "dev-1:lb:2025-01-01").Return(nil)

	keys, err := scoped.Keys(context.Background(), "lb:")
	assert.NoError(t, err)
	assert.Equal(t, []string{"lb:2025-01-01"}, keys)
	assert.NoError(t, scoped.Delete(context.Background(), keys[0]))
	kv.AssertExpectations(t)
}
