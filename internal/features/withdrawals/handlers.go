// Package withdrawals, handlers.go обрабатывает команду /withdraw.
package withdrawals

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

// Handler обрабатывает команды вывода.
type Handler struct {
	service *Service
	bot     *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик команд вывода.
func NewHandler(service *Service, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleWithdraw обрабатывает /withdraw 50 trc20 TXYZ...
func (h *Handler) HandleWithdraw(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) < 3 {
		methods := make([]string, 0, len(ledger.WithdrawalMethods))
		for _, m := range ledger.WithdrawalMethods {
			methods = append(methods, string(m))
		}
		h.sendMessage(chatID, fmt.Sprintf(
			"❌ Формат: /withdraw сумма способ реквизиты\nСпособы: %s\nМинимум: %s",
			strings.Join(methods, ", "), common.FormatUSD(h.service.MinAmount()),
		))
		return
	}
	amount, err := common.ParseUSD(args[0])
	if err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}

	w, err := h.service.Request(ctx, userID, amount, args[1], args[2])
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Заявка на вывод отклонена")
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}
	h.sendMessage(chatID, fmt.Sprintf(
		"📤 Заявка #%d на %s (%s) создана\nСумма удержана с баланса до решения администратора",
		w.ID, common.FormatUSD(w.AmountUSD), w.Method,
	))
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
