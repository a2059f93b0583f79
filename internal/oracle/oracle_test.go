package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmine.pro/mining-bot/internal/common"
)

// =============================================================================
// Test servers
// =============================================================================

func binanceServer(t *testing.T, hits *int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"64250.12000000"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func coinGeckoServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":63999.5}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOracle(primary, failover string) *Oracle {
	client := &http.Client{Timeout: time.Second}
	return NewWithSources(
		[]Source{NewBinance(client, primary), NewCoinGecko(client, failover)},
		map[string]decimal.Decimal{CoinBTC: decimal.NewFromInt(65000)},
		time.Minute,
		nil,
	)
}

// =============================================================================
// Tests
// =============================================================================

func TestLiveRate_PrimaryAndCache(t *testing.T) {
	var primaryHits, failoverHits int32
	primary := binanceServer(t, &primaryHits, http.StatusOK)
	failover := coinGeckoServer(t, &failoverHits)
	o := newTestOracle(primary.URL, failover.URL)

	rate, err := o.LiveRate(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "64250.12", rate.String())

	_, err = o.LiveRate(context.Background(), CoinBTC)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&primaryHits), "второй запрос берётся из кэша")
	assert.EqualValues(t, 0, atomic.LoadInt32(&failoverHits))
}

func TestLiveRate_CacheExpires(t *testing.T) {
	var primaryHits, failoverHits int32
	primary := binanceServer(t, &primaryHits, http.StatusOK)
	failover := coinGeckoServer(t, &failoverHits)
	o := newTestOracle(primary.URL, failover.URL)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return clock }

	_, err := o.LiveRate(context.Background(), CoinBTC)
	require.NoError(t, err)
	clock = clock.Add(61 * time.Second)
	_, err = o.LiveRate(context.Background(), CoinBTC)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&primaryHits))
}

func TestLiveRate_Failover(t *testing.T) {
	var primaryHits, failoverHits int32
	primary := binanceServer(t, &primaryHits, http.StatusTeapot)
	failover := coinGeckoServer(t, &failoverHits)
	o := newTestOracle(primary.URL, failover.URL)

	rate, err := o.LiveRate(context.Background(), CoinBTC)
	require.NoError(t, err)
	assert.Equal(t, "63999.5", rate.String())
	assert.EqualValues(t, 1, atomic.LoadInt32(&failoverHits))
}

func TestSpotRate_StaticFallbackNeverFails(t *testing.T) {
	var primaryHits int32
	primary := binanceServer(t, &primaryHits, http.StatusInternalServerError)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(dead.Close)
	o := newTestOracle(primary.URL, dead.URL)

	_, err := o.LiveRate(context.Background(), CoinBTC)
	assert.ErrorIs(t, err, common.ErrDependency)

	rate := o.SpotRate(context.Background(), CoinBTC)
	assert.Equal(t, "65000", rate.String())
}

func TestStablecoinsArePegged(t *testing.T) {
	o := NewWithSources(nil, nil, time.Minute, nil)
	rate, err := o.LiveRate(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, "1", rate.String())
}

func TestNormalizeCoin(t *testing.T) {
	c, err := NormalizeCoin(" eth ")
	require.NoError(t, err)
	assert.Equal(t, CoinETH, c)

	_, err = NormalizeCoin("DOGE")
	assert.ErrorIs(t, err, common.ErrValidation)
}
