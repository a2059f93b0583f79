// Package accounts, handlers.go обрабатывает команды:
// /start (регистрация), /balance, /history, /swap.
package accounts

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

const historyLimit = 10

// Handler обрабатывает команды аккаунта.
type Handler struct {
	service *Service
	bot     *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик команд аккаунта.
func NewHandler(service *Service, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleStart регистрирует пользователя. Аргумент: реферальный код из ссылки.
func (h *Handler) HandleStart(ctx context.Context, chatID int64, from *tgbotapi.User, args []string) {
	refCode := ""
	if len(args) > 0 {
		refCode = args[0]
	}

	u, created, err := h.service.Register(ctx, Profile{
		UserID:    from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
	}, refCode)
	if err != nil {
		log.WithError(err).WithField("user_id", from.ID).Error("Ошибка регистрации")
		h.sendMessage(chatID, "❌ Не удалось зарегистрироваться, попробуйте позже")
		return
	}

	greeting := "👋 С возвращением"
	if created {
		greeting = "👋 Добро пожаловать в BlockMine"
	}
	text := fmt.Sprintf(
		"%s, %s!\n\n"+
			"⛏ /packages — майнинг-пакеты\n"+
			"📊 /miners — ваши майнеры\n"+
			"💰 /balance — баланс\n"+
			"📥 /deposit — пополнение\n"+
			"📤 /withdraw — вывод\n"+
			"👥 /ref — реферальная программа\n"+
			"🔒 /stake — стейкинг BMT\n"+
			"📋 /history — история операций",
		greeting, u.DisplayName(),
	)
	h.sendMessage(chatID, text)
}

// HandleBalance показывает кошельки пользователя.
//
//	💰 Баланс: $150.00
//	🎁 Бонус: $10.00
func (h *Handler) HandleBalance(ctx context.Context, chatID, userID int64) {
	u, err := h.service.Get(ctx, userID)
	if err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💰 Баланс: %s\n", common.FormatUSD(u.BalanceUSD)))
	if u.BonusBalanceUSD.IsPositive() {
		sb.WriteString(fmt.Sprintf("🎁 Бонус: %s\n", common.FormatUSD(u.BonusBalanceUSD)))
	}
	sb.WriteString(fmt.Sprintf("⛏ Заработано майнингом: %s\n", common.FormatUSD(u.EarningsUSD)))
	sb.WriteString(fmt.Sprintf("🪙 BMT: %s", u.BMTBalance.String()))
	if u.IsFrozen {
		sb.WriteString("\n\n🧊 Аккаунт заморожен")
	}
	h.sendMessage(chatID, sb.String())
}

// HandleHistory показывает последние операции.
func (h *Handler) HandleHistory(ctx context.Context, chatID, userID int64) {
	txs, err := h.service.History(ctx, userID, historyLimit)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения истории")
		h.sendMessage(chatID, "❌ Ошибка получения истории операций")
		return
	}
	h.sendMessage(chatID, FormatHistory(txs))
}

// FormatHistory форматирует записи журнала для чата.
func FormatHistory(txs []*ledger.Transaction) string {
	if len(txs) == 0 {
		return "📋 У вас пока нет операций"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 Последние операции (%d):\n\n", len(txs)))
	for i, t := range txs {
		wallet := ""
		if t.Wallet == ledger.WalletBonus {
			wallet = " 🎁"
		}
		sb.WriteString(fmt.Sprintf("%d. %s | %s%s | %s\n",
			i+1, t.CreatedAt.UTC().Format("02.01.2006 15:04"), common.FormatSigned(t.AmountUSD), wallet, t.Kind.Title()))
	}
	return sb.String()
}

// HandleSwap обрабатывает /swap 100: продажа BMT за USD.
func (h *Handler) HandleSwap(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) < 1 {
		h.sendMessage(chatID, "❌ Формат: /swap количество_BMT")
		return
	}
	amount, err := common.ParseUSD(args[0])
	if err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}

	res, err := h.service.Swap(ctx, userID, amount)
	if err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}
	h.sendMessage(chatID, fmt.Sprintf("✅ Обменяно %s BMT на %s\n💰 Баланс: %s\n🪙 BMT: %s",
		res.BMT.String(), common.FormatUSD(res.USD), common.FormatUSD(res.Balance), res.BMTAfter.String()))
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
