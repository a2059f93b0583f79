package referral

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
)

// Handler обрабатывает команду /ref.
type Handler struct {
	engine *Engine
	bot    *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик реферальных команд.
func NewHandler(engine *Engine, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{engine: engine, bot: bot}
}

// HandleReferral показывает ссылку-приглашение и доход с рефералов.
//
//	👥 Рефералы: 3 реферала
//	💸 Заработано: $22.50 (15% с покупок)
func (h *Handler) HandleReferral(ctx context.Context, chatID, userID int64) {
	ov, err := h.engine.Overview(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения реферальной сводки")
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}

	text := fmt.Sprintf(
		"🔗 Ваша ссылка: https://t.me/%s?start=%s\n\n👥 Рефералы: %d %s\n💸 Заработано: %s (%s%% с покупок)",
		h.bot.Self.UserName, ov.Code,
		ov.Invited, common.PluralizeReferrals(ov.Invited),
		common.FormatUSD(ov.TotalEarned), ov.CommissionPc.String(),
	)
	h.sendMessage(chatID, text)
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
