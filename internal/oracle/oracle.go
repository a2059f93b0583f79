// Package oracle отдаёт курсы монет к USD.
//
// Порядок опроса: основной источник (Binance) → один резервный (CoinGecko) →
// статический курс из конфигурации. Ответы кэшируются на ORACLE_CACHE_TTL
// в памяти и, если включён Redis, в общем кэше для всех реплик.
package oracle

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/config"
	"blockmine.pro/mining-bot/internal/metrics"
)

// Поддерживаемые монеты.
const (
	CoinBTC  = "BTC"
	CoinETH  = "ETH"
	CoinUSDT = "USDT"
	CoinUSDC = "USDC"
)

// Coins: монеты, которые принимаются для пополнения.
var Coins = []string{CoinBTC, CoinETH, CoinUSDT, CoinUSDC}

// NormalizeCoin приводит тикер к верхнему регистру и проверяет поддержку.
func NormalizeCoin(coin string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(coin))
	for _, known := range Coins {
		if c == known {
			return c, nil
		}
	}
	return "", common.Validationf("монета %q не поддерживается (доступны: %s)", coin, strings.Join(Coins, ", "))
}

func isStable(coin string) bool {
	return coin == CoinUSDT || coin == CoinUSDC
}

// Source: внешний источник курса.
type Source interface {
	Name() string
	Fetch(ctx context.Context, coin string) (decimal.Decimal, error)
}

// Cache: общий кэш курсов. Ошибки кэша не прерывают получение курса.
type Cache interface {
	Get(ctx context.Context, coin string) (decimal.Decimal, bool)
	Set(ctx context.Context, coin string, rate decimal.Decimal, ttl time.Duration)
}

type cached struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Oracle: потокобезопасный поставщик курсов.
type Oracle struct {
	sources  []Source // основной и резервный
	fallback map[string]decimal.Decimal
	ttl      time.Duration
	shared   Cache

	mu    sync.Mutex
	local map[string]cached
	now   func() time.Time
}

// New создаёт оракул с источниками из конфигурации.
// shared может быть nil: тогда используется только кэш в памяти.
func New(cfg *config.Config, shared Cache) *Oracle {
	client := &http.Client{Timeout: cfg.OracleTimeout}
	return NewWithSources(
		[]Source{
			NewBinance(client, cfg.OraclePrimaryURL),
			NewCoinGecko(client, cfg.OracleFailoverURL),
		},
		map[string]decimal.Decimal{
			CoinBTC: decimal.NewFromFloat(cfg.OracleFallbackBTC),
			CoinETH: decimal.NewFromFloat(cfg.OracleFallbackETH),
		},
		cfg.OracleCacheTTL,
		shared,
	)
}

// NewWithSources собирает оракул из произвольных источников.
func NewWithSources(sources []Source, fallback map[string]decimal.Decimal, ttl time.Duration, shared Cache) *Oracle {
	if len(sources) > 2 {
		sources = sources[:2]
	}
	return &Oracle{
		sources:  sources,
		fallback: fallback,
		ttl:      ttl,
		shared:   shared,
		local:    make(map[string]cached),
		now:      time.Now,
	}
}

// SpotRate возвращает курс монеты в USD и никогда не возвращает ошибку:
// при недоступности обоих источников отдаётся статический курс.
func (o *Oracle) SpotRate(ctx context.Context, coin string) decimal.Decimal {
	coin = strings.ToUpper(coin)
	rate, err := o.LiveRate(ctx, coin)
	if err == nil {
		return rate
	}
	metrics.RecordOracleFallback(coin, "static")
	log.WithError(err).WithField("coin", coin).Warn("[ORACLE] Источники недоступны, используем статический курс")
	return o.fallback[coin]
}

// LiveRate возвращает курс из кэша или источников.
// Ошибка (категория ErrDependency) означает, что оба источника недоступны;
// операциям, которым нужен живой курс, её следует вернуть пользователю.
func (o *Oracle) LiveRate(ctx context.Context, coin string) (decimal.Decimal, error) {
	coin = strings.ToUpper(coin)
	if isStable(coin) {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := o.fromLocal(coin); ok {
		return rate, nil
	}
	if o.shared != nil {
		if rate, ok := o.shared.Get(ctx, coin); ok {
			o.store(coin, rate)
			return rate, nil
		}
	}

	var lastErr error
	for i, src := range o.sources {
		if i > 0 {
			metrics.RecordOracleFallback(coin, "failover")
		}
		rate, err := src.Fetch(ctx, coin)
		if err == nil && rate.IsPositive() {
			o.store(coin, rate)
			if o.shared != nil {
				o.shared.Set(ctx, coin, rate, o.ttl)
			}
			return rate, nil
		}
		if err == nil {
			err = fmt.Errorf("неположительный курс %s", rate)
		}
		log.WithError(err).WithFields(log.Fields{"coin": coin, "source": src.Name()}).Warn("[ORACLE] Источник курса недоступен")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("нет источников курса")
	}
	return decimal.Zero, common.Dependency("price oracle", lastErr)
}

func (o *Oracle) fromLocal(coin string) (decimal.Decimal, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.local[coin]
	if !ok || o.now().Sub(c.fetchedAt) >= o.ttl {
		return decimal.Zero, false
	}
	return c.rate, true
}

func (o *Oracle) store(coin string, rate decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.local[coin] = cached{rate: rate, fetchedAt: o.now()}
}
