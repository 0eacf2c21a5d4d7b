package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifdevis/devis-cli/internal/config"
)

func TestMemory_GetSetExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	got, err := m.Get(ctx, "company:732829320")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.Set(ctx, "company:732829320", []byte(`{"siren":"732829320"}`), time.Hour))
	got, err = m.Get(ctx, "company:732829320")
	require.NoError(t, err)
	assert.JSONEq(t, `{"siren":"732829320"}`, string(got))

	now = now.Add(time.Hour)
	got, err = m.Get(ctx, "company:732829320")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, m.Len())
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", v, time.Minute))
	v[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

type fakeBackend struct {
	data   map[string][]byte
	ttl    time.Duration
	getErr error
}

func (f *fakeBackend) GetCache(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.data[key], nil
}

func (f *fakeBackend) SetCache(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.data[key] = value
	f.ttl = ttl
	return nil
}

func TestFromStore(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{data: map[string][]byte{}}
	c := FromStore(b)

	require.NoError(t, c.Set(ctx, CompanyKey("552100554"), []byte("x"), 30*24*time.Hour))
	assert.Equal(t, 30*24*time.Hour, b.ttl)
	assert.Contains(t, b.data, "company:552100554")

	got, err := c.Get(ctx, "company:552100554")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	b.getErr = errors.New("connection refused")
	_, err = c.Get(ctx, "company:552100554")
	assert.ErrorContains(t, err, "cache: store get")
}

func TestNew(t *testing.T) {
	c, err := New(config.CacheConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = New(config.CacheConfig{Driver: "store"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = New(config.CacheConfig{Driver: "store"}, &fakeBackend{data: map[string][]byte{}})
	require.NoError(t, err)
	assert.IsType(t, &storeCache{}, c)

	_, err = New(config.CacheConfig{Driver: "memcached"}, nil)
	assert.ErrorContains(t, err, `unknown driver "memcached"`)
}
