// Package deposits, handlers.go обрабатывает команды:
// /deposit (заявка), /proof (хеш транзакции), /cancel_deposit.
package deposits

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/features/settings"
	"blockmine.pro/mining-bot/internal/oracle"
)

// Handler обрабатывает команды пополнения.
type Handler struct {
	service  *Service
	settings *settings.Service
	bot      *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик команд пополнения.
func NewHandler(service *Service, settingsService *settings.Service, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{service: service, settings: settingsService, bot: bot}
}

// HandleDeposit обрабатывает /deposit 100 USDT [сеть].
func (h *Handler) HandleDeposit(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) < 2 {
		h.sendMessage(chatID, fmt.Sprintf("❌ Формат: /deposit сумма_USD монета [сеть]\nМонеты: %s", strings.Join(oracle.Coins, ", ")))
		return
	}
	amount, err := common.ParseUSD(args[0])
	if err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}
	network := ""
	if len(args) > 2 {
		network = args[2]
	}

	d, err := h.service.Create(ctx, CreateInput{UserID: userID, AmountUSD: amount, Coin: args[1], Network: network})
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Заявка на пополнение отклонена")
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}

	address := "адрес уточните у поддержки"
	if st, err := h.settings.Get(ctx); err == nil {
		if a, ok := st.DepositAddresses[d.Coin]; ok {
			address = a
		}
	}
	h.sendMessage(chatID, fmt.Sprintf(
		"📥 Заявка #%d на %s создана\n\nОтправьте %s на адрес:\n%s\n\nПосле перевода: /proof %d хеш_транзакции",
		d.ID, common.FormatUSD(d.AmountUSD), common.FormatCoin(d.ExpectedCoinAmount, d.Coin), address, d.ID,
	))
}

// HandleProof обрабатывает /proof 12 0xabc... [подтверждения].
func (h *Handler) HandleProof(ctx context.Context, chatID, userID int64, args []string) {
	id, txHash, confirmations, err := parseProofArgs(args)
	if err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}

	if _, err := h.service.AttachProof(ctx, userID, id, txHash, confirmations); err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}
	h.sendMessage(chatID, fmt.Sprintf("✅ Хеш добавлен к заявке #%d, ожидайте подтверждения", id))
}

// parseProofArgs разбирает "номер хеш [подтверждения]".
func parseProofArgs(args []string) (int64, string, int, error) {
	if len(args) < 2 {
		return 0, "", 0, common.Validationf("Формат: /proof номер_заявки хеш_транзакции [подтверждения]")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		return 0, "", 0, common.Validationf("Номер заявки должен быть числом")
	}
	confirmations := 0
	if len(args) > 2 {
		confirmations, err = strconv.Atoi(args[2])
		if err != nil || confirmations < 0 {
			return 0, "", 0, common.Validationf("Число подтверждений должно быть целым неотрицательным числом")
		}
	}
	return id, args[1], confirmations, nil
}

// HandleCancel обрабатывает /cancel_deposit 12.
func (h *Handler) HandleCancel(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) < 1 {
		h.sendMessage(chatID, "❌ Формат: /cancel_deposit номер_заявки")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		h.sendMessage(chatID, "❌ Номер заявки должен быть числом")
		return
	}
	if _, err := h.service.Cancel(ctx, userID, id); err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}
	h.sendMessage(chatID, fmt.Sprintf("🚫 Заявка #%d отменена", id))
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
