// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS" required:"true"`
	AdminIDs         []int64 `envconfig:"-"` // заполняется в Load
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`

	// --- Database ---
	// Дефолт "postgres" (имя сервиса в docker-compose), для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"minerbot"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"mining_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	// Часовой пояс гражданских суток: по нему считаются дни начислений и сроки пакетов.
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"America/New_York"`

	// --- Bot runtime ---
	BotMaxInflight          int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`

	// --- Ledger ---
	// При ставке <= 0 цикл начислений завершается ошибкой конфигурации.
	EarningRateUSDPerTHS   float64 `envconfig:"EARNING_RATE_USD_PER_THS" default:"0"`
	ReferralCommissionRate float64 `envconfig:"REFERRAL_COMMISSION_RATE" default:"0.15"`
	WithdrawMinUSD         float64 `envconfig:"WITHDRAW_MIN_USD" default:"20"`

	// --- Scheduler ---
	CatchUpCron     string        `envconfig:"CATCHUP_CRON" default:"1 0 * * *"`
	CatchUpCooldown time.Duration `envconfig:"CATCHUP_COOLDOWN" default:"5m"`

	// --- Price oracle ---
	OraclePrimaryURL  string        `envconfig:"ORACLE_PRIMARY_URL" default:"https://api.binance.com/api/v3/ticker/price"`
	OracleFailoverURL string        `envconfig:"ORACLE_FAILOVER_URL" default:"https://api.coingecko.com/api/v3/simple/price"`
	OracleTimeout     time.Duration `envconfig:"ORACLE_TIMEOUT" default:"5s"`
	OracleCacheTTL    time.Duration `envconfig:"ORACLE_CACHE_TTL" default:"60s"`
	OracleFallbackBTC float64       `envconfig:"ORACLE_FALLBACK_BTC_USD" default:"65000"`
	OracleFallbackETH float64       `envconfig:"ORACLE_FALLBACK_ETH_USD" default:"3000"`

	// --- Redis (общий кэш курсов, необязателен) ---
	RedisEnabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Ops ---
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Location возвращает часовой пояс гражданских суток.
// Невалидное имя отсекается в Validate, поэтому здесь ошибка уже не ожидается.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EarningRate: глобальная ставка USD за 1 TH/s в сутки.
func (c *Config) EarningRate() decimal.Decimal {
	return decimal.NewFromFloat(c.EarningRateUSDPerTHS)
}

// CommissionRate: доля реферальной комиссии от цены пакета.
func (c *Config) CommissionRate() decimal.Decimal {
	return decimal.NewFromFloat(c.ReferralCommissionRate)
}

// WithdrawMin: минимальная сумма вывода.
func (c *Config) WithdrawMin() decimal.Decimal {
	return decimal.NewFromFloat(c.WithdrawMinUSD)
}

// IsAdmin проверяет, входит ли пользователь в ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if _, err := time.LoadLocation(c.AppTimezone); err != nil {
		return fmt.Errorf("APP_TIMEZONE %q: %w", c.AppTimezone, err)
	}
	if c.ReferralCommissionRate < 0 || c.ReferralCommissionRate >= 1 {
		return fmt.Errorf("REFERRAL_COMMISSION_RATE должен быть в диапазоне [0, 1)")
	}
	if c.WithdrawMinUSD < 0 {
		return fmt.Errorf("WITHDRAW_MIN_USD не может быть отрицательным")
	}
	if c.CatchUpCooldown <= 0 {
		return fmt.Errorf("CATCHUP_COOLDOWN должен быть > 0")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT должен быть > 0")
	}
	if c.OracleFallbackBTC <= 0 || c.OracleFallbackETH <= 0 {
		return fmt.Errorf("резервные курсы ORACLE_FALLBACK_* должны быть > 0")
	}
	return nil
}

// Load читает .env-переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
