// Package app инициализирует все компоненты приложения.
// app.go создаёт БД-пул, хранилище, оракул, сервисы, обработчики,
// фильтры и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/bot"
	"blockmine.pro/mining-bot/internal/bot/filters"
	"blockmine.pro/mining-bot/internal/config"
	"blockmine.pro/mining-bot/internal/db/postgres"
	"blockmine.pro/mining-bot/internal/features/accounts"
	"blockmine.pro/mining-bot/internal/features/admin"
	"blockmine.pro/mining-bot/internal/features/deposits"
	"blockmine.pro/mining-bot/internal/features/mining"
	"blockmine.pro/mining-bot/internal/features/referral"
	"blockmine.pro/mining-bot/internal/features/settings"
	"blockmine.pro/mining-bot/internal/features/staking"
	"blockmine.pro/mining-bot/internal/features/withdrawals"
	"blockmine.pro/mining-bot/internal/jobs"
	"blockmine.pro/mining-bot/internal/oracle"
	"blockmine.pro/mining-bot/internal/ops"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Notifier  *bot.Notifier
	Ops       *ops.Server
	DB        *pgxpool.Pool
	BotAPI    *tgbotapi.BotAPI

	redis *oracle.RedisCache
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	if err := postgres.RunMigrations(ctx, pool, Migrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}
	store := postgres.NewStore(pool)

	// === 2. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	// === 3. Оракул курсов ===
	var redisCache *oracle.RedisCache
	var rates *oracle.Oracle
	if cfg.RedisEnabled {
		redisCache = oracle.NewRedisCache(ctx, cfg)
		rates = oracle.New(cfg, redisCache)
	} else {
		rates = oracle.New(cfg, nil)
	}

	// === 4. Сервисы ===
	loc := cfg.Location()
	notifier := bot.NewNotifier(botAPI)

	settingsService := settings.NewService(store)
	accountService := accounts.NewService(store)
	referralEngine := referral.NewEngine(store, cfg.CommissionRate())
	miningService := mining.NewService(store, referralEngine, loc)
	depositService := deposits.NewService(store, rates, notifier)
	withdrawalService := withdrawals.NewService(store, cfg.WithdrawMin())
	stakingService := staking.NewService(store)
	accrual := mining.NewAccrualEngine(store, cfg.EarningRate(), rates, loc)

	catchUp := jobs.NewCatchUp(accrual, settingsService, loc, cfg.CatchUpCooldown).WithStakes(stakingService)

	adminService := admin.NewService(admin.NewRepository(pool), cfg)
	adminCommands := admin.NewCommands(admin.Services{
		Store:       store,
		Accounts:    accountService,
		Mining:      miningService,
		Deposits:    depositService,
		Withdrawals: withdrawalService,
		Settings:    settingsService,
		CatchUp:     catchUp,
	})

	// === 5. Обработчики ===
	handlers := bot.Handlers{
		Accounts:    accounts.NewHandler(accountService, botAPI),
		Mining:      mining.NewHandler(miningService, botAPI),
		Deposits:    deposits.NewHandler(depositService, settingsService, botAPI),
		Withdrawals: withdrawals.NewHandler(withdrawalService, botAPI),
		Referral:    referral.NewHandler(referralEngine, botAPI),
		Staking:     staking.NewHandler(stakingService, botAPI),
		Admin:       admin.NewHandler(adminService, adminCommands, botAPI),
	}

	// === 6. Фильтры ===
	chatFilter := filters.NewChatFilter(botAPI)

	// === 7. Собираем бота ===
	b := bot.New(botAPI, cfg, handlers, catchUp, chatFilter)

	// === 8. Планировщик и служебный сервер ===
	scheduler := jobs.NewScheduler(catchUp, cfg.CatchUpCron, loc)
	opsServer := ops.NewServer(cfg.MetricsAddr, pool)

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		Notifier:  notifier,
		Ops:       opsServer,
		DB:        pool,
		BotAPI:    botAPI,
		redis:     redisCache,
	}, nil
}

// Close освобождает ресурсы после остановки бота и планировщика.
func (a *App) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Ops.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Ошибка остановки служебного сервера")
	}

	a.Notifier.Wait()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	a.DB.Close()
}
