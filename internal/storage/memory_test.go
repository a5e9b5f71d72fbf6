package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "key", []byte("value"), 0))
	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, s.Delete(ctx, "key"))
	_, err = s.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Delete_AbsentKeyIsNotError(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	assert.NoError(t, s.Delete(context.Background(), "never-existed"))
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("value"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := s.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_NoTTLNeverExpires(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("value"), 0))
	time.Sleep(10 * time.Millisecond)

	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestMemoryStore_CompareAndSwap_CreateOnly(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CompareAndSwap(ctx, "key", nil, []byte("v1"), 0))
	err := s.CompareAndSwap(ctx, "key", nil, []byte("v2"), 0)
	assert.ErrorIs(t, err, ErrCASMismatch)

	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestMemoryStore_CompareAndSwap_UpdateMatchingValue(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("v1"), 0))
	require.NoError(t, s.CompareAndSwap(ctx, "key", []byte("v1"), []byte("v2"), 0))

	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestMemoryStore_CompareAndSwap_MismatchedValue(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("v1"), 0))
	err := s.CompareAndSwap(ctx, "key", []byte("wrong"), []byte("v2"), 0)
	assert.ErrorIs(t, err, ErrCASMismatch)
}

func TestMemoryStore_CompareAndSwap_AgainstExpiredEntryActsAsAbsent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("v1"), 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.CompareAndSwap(ctx, "key", nil, []byte("v2"), 0))
	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(n int) {
			_ = s.Set(ctx, "shared", []byte{byte(n)}, 0)
			_, _ = s.Get(ctx, "shared")
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}
