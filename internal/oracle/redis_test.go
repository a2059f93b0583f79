package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRedisCache_DegradesAfterFailures(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	c := newRedisCache(client)

	for i := 0; i < 3; i++ {
		_, ok := c.Get(context.Background(), CoinBTC)
		assert.False(t, ok)
	}
	assert.False(t, c.available(), "после трёх ошибок подряд кэш пропускается")

	c.openedAt = time.Now().Add(-time.Minute)
	assert.True(t, c.available(), "после паузы кэш пробуется снова")
}

func TestOracle_UsesSharedCacheBeforeSources(t *testing.T) {
	shared := &mapCache{rates: map[string]decimal.Decimal{CoinETH: decimal.NewFromInt(3100)}}
	src := &countingSource{rate: decimal.NewFromInt(1)}
	o := NewWithSources([]Source{src}, nil, time.Minute, shared)

	rate, err := o.LiveRate(context.Background(), CoinETH)
	assert.NoError(t, err)
	assert.Equal(t, "3100", rate.String())
	assert.Equal(t, 0, src.calls)
}

type mapCache struct {
	rates map[string]decimal.Decimal
}

func (m *mapCache) Get(_ context.Context, coin string) (decimal.Decimal, bool) {
	r, ok := m.rates[coin]
	return r, ok
}

func (m *mapCache) Set(_ context.Context, coin string, rate decimal.Decimal, _ time.Duration) {
	m.rates[coin] = rate
}

type countingSource struct {
	rate  decimal.Decimal
	calls int
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Fetch(context.Context, string) (decimal.Decimal, error) {
	s.calls++
	return s.rate, nil
}
