package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/config"
)

const redisKeyPrefix = "oracle:rate:"

// RedisCache: общий кэш курсов в Redis с деградацией.
// После maxFailures ошибок подряд кэш считается нездоровым и пропускается
// до истечения recoveryBackoff; оракул в это время живёт на кэше в памяти.
type RedisCache struct {
	client *redis.Client

	mu              sync.Mutex
	failures        int
	openedAt        time.Time
	maxFailures     int
	recoveryBackoff time.Duration
}

// NewRedisCache подключается к Redis. Недоступность при старте не ошибка:
// кэш начинает работу в деградированном режиме.
func NewRedisCache(ctx context.Context, cfg *config.Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	c := newRedisCache(client)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("[CACHE] Redis недоступен, курсы кэшируются только в памяти")
		c.recordFailure()
	} else {
		log.WithField("addr", cfg.RedisAddr).Info("[CACHE] Redis подключён")
	}
	return c
}

func newRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:          client,
		maxFailures:     3,
		recoveryBackoff: 30 * time.Second,
	}
}

// Get читает курс. Промах и ошибка одинаково возвращают false.
func (c *RedisCache) Get(ctx context.Context, coin string) (decimal.Decimal, bool) {
	if !c.available() {
		return decimal.Zero, false
	}
	val, err := c.client.Get(ctx, redisKeyPrefix+coin).Result()
	if errors.Is(err, redis.Nil) {
		c.recordSuccess()
		return decimal.Zero, false
	}
	if err != nil {
		c.recordFailure()
		log.WithError(err).Debug("[CACHE] Ошибка чтения курса из Redis")
		return decimal.Zero, false
	}
	c.recordSuccess()
	rate, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false
	}
	return rate, true
}

// Set сохраняет курс с TTL.
func (c *RedisCache) Set(ctx context.Context, coin string, rate decimal.Decimal, ttl time.Duration) {
	if !c.available() {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+coin, rate.String(), ttl).Err(); err != nil {
		c.recordFailure()
		log.WithError(err).Debug("[CACHE] Ошибка записи курса в Redis")
		return
	}
	c.recordSuccess()
}

// Close закрывает соединение.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures < c.maxFailures {
		return true
	}
	// полуоткрытое состояние: пробуем снова после паузы
	return time.Since(c.openedAt) >= c.recoveryBackoff
}

func (c *RedisCache) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures == c.maxFailures {
		log.Warn("[CACHE] Redis помечен нездоровым")
	}
	if c.failures >= c.maxFailures {
		c.openedAt = time.Now()
	}
}

func (c *RedisCache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}
