package staking

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

// Handler обрабатывает /stake.
type Handler struct {
	service *Service
	bot     *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик стейкинга.
func NewHandler(service *Service, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleStake: /stake без аргументов показывает стейки, /stake 100 открывает новый.
func (h *Handler) HandleStake(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) == 0 {
		stakes, err := h.service.List(ctx, userID)
		if err != nil {
			h.sendMessage(chatID, common.UserMessage(err))
			return
		}
		h.sendMessage(chatID, FormatStakes(stakes))
		return
	}

	amount, err := common.ParseUSD(args[0])
	if err != nil {
		h.sendMessage(chatID, "❌ Формат: /stake количество_BMT")
		return
	}
	st, balance, err := h.service.Stake(ctx, userID, amount)
	if err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}
	h.sendMessage(chatID, fmt.Sprintf("🔒 Застейкано %s BMT на %d дн.\n🎯 К возврату: %s BMT (%s)\n🪙 BMT: %s",
		st.Amount.String(), st.LockDays, st.Amount.Add(st.TotalReward()).String(),
		common.FormatDateTime(st.UnlockAt, time.UTC), balance.String()))
}

// FormatStakes форматирует список стейков для чата.
func FormatStakes(stakes []*ledger.Stake) string {
	if len(stakes) == 0 {
		return "🔒 У вас нет стейков\n\nОткрыть: /stake количество_BMT"
	}
	var sb strings.Builder
	sb.WriteString("🔒 Ваши стейки:\n\n")
	for _, st := range stakes {
		status := "✅ закрыт"
		if st.IsActive {
			status = "⏳ до " + common.FormatDateTime(st.UnlockAt, time.UTC)
		}
		sb.WriteString(fmt.Sprintf("#%d · %s BMT · +%s BMT · %s\n",
			st.ID, st.Amount.String(), st.TotalReward().String(), status))
	}
	return sb.String()
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
