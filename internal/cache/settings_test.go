package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/model"
)

type countingSource struct {
	mu          sync.Mutex
	settings    model.ShippingSettings
	err         error
	reads       int
	invalidated int
}

func (s *countingSource) ShippingSettings(context.Context) (model.ShippingSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.settings, s.err
}

func (s *countingSource) Invalidate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	return nil
}

func newCache(t *testing.T, src Source) (*SettingsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSettingsCache(client, src, time.Minute, nil), mr
}

func TestSettingsCacheReadsThrough(t *testing.T) {
	src := &countingSource{settings: model.ShippingSettings{FreeThreshold: 5000, StandardRate: 500}}
	c, mr := newCache(t, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.ShippingSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, src.settings, got)
	}
	assert.Equal(t, 1, src.reads)
	assert.True(t, mr.Exists(shippingSettingsKey))
	assert.Equal(t, time.Minute, mr.TTL(shippingSettingsKey))

	mr.FastForward(2 * time.Minute)
	_, err := c.ShippingSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.reads)
}

func TestSettingsCacheInvalidate(t *testing.T) {
	src := &countingSource{settings: model.ShippingSettings{FreeThreshold: 5000, StandardRate: 500}}
	c, mr := newCache(t, src)
	ctx := context.Background()

	_, err := c.ShippingSettings(ctx)
	require.NoError(t, err)

	src.settings = model.ShippingSettings{FreeThreshold: 8000, StandardRate: 700}
	require.NoError(t, c.Invalidate(ctx))
	assert.False(t, mr.Exists(shippingSettingsKey))
	assert.Equal(t, 1, src.invalidated)

	got, err := c.ShippingSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), got.FreeThreshold)
}

func TestSettingsCacheDegradesWithoutRedis(t *testing.T) {
	src := &countingSource{settings: model.ShippingSettings{FreeThreshold: 5000, StandardRate: 500}}
	c, mr := newCache(t, src)
	mr.Close()

	got, err := c.ShippingSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.StandardRate)
}

func TestSettingsCachePropagatesSourceErrors(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	c, mr := newCache(t, src)

	_, err := c.ShippingSettings(context.Background())
	assert.Error(t, err)
	assert.False(t, mr.Exists(shippingSettingsKey))
}

func TestSettingsCacheDiscardsCorruptEntries(t *testing.T) {
	src := &countingSource{settings: model.ShippingSettings{FreeThreshold: 5000, StandardRate: 500}}
	c, mr := newCache(t, src)
	require.NoError(t, mr.Set(shippingSettingsKey, "{not json"))

	got, err := c.ShippingSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, src.settings, got)
	assert.Equal(t, 1, src.reads)
}

// gatedSource blocks its first read until release is closed.
type gatedSource struct {
	countingSource
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSource) ShippingSettings(ctx context.Context) (model.ShippingSettings, error) {
	settings, err := s.countingSource.ShippingSettings(ctx)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return settings, err
}

func (s *gatedSource) set(settings model.ShippingSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func TestSettingsCacheInvalidateDuringLoadIsNotOverwritten(t *testing.T) {
	old := model.ShippingSettings{FreeThreshold: 5000, StandardRate: 500}
	src := &gatedSource{
		countingSource: countingSource{settings: old},
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	c, mr := newCache(t, src)
	ctx := context.Background()

	done := make(chan model.ShippingSettings, 1)
	go func() {
		got, err := c.ShippingSettings(ctx)
		assert.NoError(t, err)
		done <- got
	}()

	<-src.entered
	src.set(model.ShippingSettings{})
	require.NoError(t, c.Invalidate(ctx))
	close(src.release)

	assert.Equal(t, old, <-done)
	assert.False(t, mr.Exists(shippingSettingsKey))

	got, err := c.ShippingSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ShippingSettings{}, got)
	assert.True(t, mr.Exists(shippingSettingsKey))
}
