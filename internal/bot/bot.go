// Package bot содержит главный модуль бота: запуск polling, маршрутизацию и остановку.
package bot

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/bot/filters"
	"blockmine.pro/mining-bot/internal/bot/middleware"
	"blockmine.pro/mining-bot/internal/config"
	"blockmine.pro/mining-bot/internal/features/accounts"
	"blockmine.pro/mining-bot/internal/features/admin"
	"blockmine.pro/mining-bot/internal/features/deposits"
	"blockmine.pro/mining-bot/internal/features/mining"
	"blockmine.pro/mining-bot/internal/features/referral"
	"blockmine.pro/mining-bot/internal/features/staking"
	"blockmine.pro/mining-bot/internal/features/withdrawals"
)

const helpText = `⛏ Облачный майнинг

/balance — баланс и доход
/packages — майнинг-пакеты
/buy <id> — купить пакет
/miners — мои майнеры
/deposit <сумма> <монета> — пополнить баланс
/proof <id> <tx hash> — отправить хеш транзакции
/cancel_deposit <id> — отменить заявку
/withdraw <сумма> <метод> <адрес> — вывод средств
/swap <BMT> — обменять BMT на USD
/stake [BMT] — стейкинг BMT на 14 дней
/history — история операций
/referral — реферальная программа`

// Poker: фоновый догоняющий прогон начислений.
type Poker interface {
	Poke(ctx context.Context) bool
}

// Handlers: обработчики фич.
type Handlers struct {
	Accounts    *accounts.Handler
	Mining      *mining.Handler
	Deposits    *deposits.Handler
	Withdrawals *withdrawals.Handler
	Referral    *referral.Handler
	Staking     *staking.Handler
	Admin       *admin.Handler
}

// Bot: главная структура бота, объединяющая все компоненты.
type Bot struct {
	api *tgbotapi.BotAPI
	cfg *config.Config

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	handlers    Handlers
	catchUp     Poker

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	wg       sync.WaitGroup
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(api *tgbotapi.BotAPI, cfg *config.Config, handlers Handlers, catchUp Poker, chatFilter *filters.ChatFilter) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:         api,
		cfg:         cfg,
		chatFilter:  chatFilter,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		handlers:    handlers,
		catchUp:     catchUp,
		parser:      NewCommandParser(),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram и блокируется до отмены ctx.
// После выхода дожидается завершения обработчиков, уже взятых в работу.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			b.rateLimiter.Close()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// каждое входящее событие будит догоняющий планировщик
			b.catchUp.Poke(ctx)

			// лимит параллелизма
			b.inflight <- struct{}{}
			b.wg.Add(1)
			go func(upd tgbotapi.Update) {
				defer b.wg.Done()
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic(update.UpdateID)

	if update.Message == nil || update.Message.Text == "" {
		return
	}
	message := update.Message

	if !b.chatFilter.CheckAccess(message) {
		return
	}

	chatID := message.Chat.ID
	userID := message.From.ID
	isAdmin := b.cfg.IsAdmin(userID)

	// тексты админов не пишем в лог: там бывает пароль
	middleware.LogMessage(message, isAdmin)

	if !isAdmin && !b.rateLimiter.Allow(userID) {
		log.WithField("user_id", userID).Debug("rate limited")
		return
	}

	if isAdmin && b.handlers.Admin.HandleAdminMessage(ctx, chatID, userID, message.Text) {
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}
	log.WithFields(log.Fields{
		"cmd":     cmd,
		"args":    args,
		"user_id": userID,
	}).Debug("parsed command")

	b.routeCommand(ctx, message, cmd, args)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, message *tgbotapi.Message, cmd string, args []string) {
	chatID := message.Chat.ID
	userID := message.From.ID

	switch cmd {
	case "start":
		b.handlers.Accounts.HandleStart(ctx, chatID, message.From, args)

	case "help", "помощь":
		b.sendMessage(chatID, helpText)

	case "balance", "баланс":
		b.handlers.Accounts.HandleBalance(ctx, chatID, userID)

	case "history", "история":
		b.handlers.Accounts.HandleHistory(ctx, chatID, userID)

	case "swap", "обмен":
		b.handlers.Accounts.HandleSwap(ctx, chatID, userID, args)

	case "stake", "стейк":
		b.handlers.Staking.HandleStake(ctx, chatID, userID, args)

	case "packages", "пакеты":
		b.handlers.Mining.HandlePackages(ctx, chatID)

	case "buy", "купить":
		b.handlers.Mining.HandleBuy(ctx, chatID, userID, args)

	case "miners", "майнеры":
		b.handlers.Mining.HandleMiners(ctx, chatID, userID)

	case "deposit", "пополнить":
		b.handlers.Deposits.HandleDeposit(ctx, chatID, userID, args)

	case "proof", "хеш":
		b.handlers.Deposits.HandleProof(ctx, chatID, userID, args)

	case "cancel_deposit", "отмена":
		b.handlers.Deposits.HandleCancel(ctx, chatID, userID, args)

	case "withdraw", "вывод":
		b.handlers.Withdrawals.HandleWithdraw(ctx, chatID, userID, args)

	case "referral", "ref", "рефералы":
		b.handlers.Referral.HandleReferral(ctx, chatID, userID)

	default:
		b.sendMessage(chatID, "Неизвестная команда. Список команд: /help")
	}
}

// sendMessage: утилита для отправки сообщений.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// CommandParser парсит команды с префиксами /, ! и .
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!", "."},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Суффикс @botname у команды отбрасывается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	if i := strings.Index(command, "@"); i >= 0 {
		command = command[:i]
	}
	if command == "" {
		return "", nil, false
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
