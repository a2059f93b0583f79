package bot

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/features/deposits"
)

// Notifier отправляет пользователям уведомления вне диалога.
// Отправка идёт в фоне: ошибка Telegram не влияет на уже проведённую операцию.
type Notifier struct {
	api *tgbotapi.BotAPI
	wg  sync.WaitGroup
}

var _ deposits.Notifier = (*Notifier)(nil)

// NewNotifier создаёт отправителя уведомлений.
func NewNotifier(api *tgbotapi.BotAPI) *Notifier {
	return &Notifier{api: api}
}

// NotifyDepositApproved сообщает о зачислении пополнения.
func (n *Notifier) NotifyDepositApproved(ctx context.Context, userID int64, amountUSD decimal.Decimal, coin, txRef string) {
	text := fmt.Sprintf("✅ Пополнение на %s (%s) зачислено на баланс", common.FormatUSD(amountUSD), coin)
	if txRef != "" {
		text += "\nTx: " + txRef
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.SendMessageToUser(userID, text)
	}()
}

// SendMessageToUser отправляет сообщение пользователю в личку.
func (n *Notifier) SendMessageToUser(userID int64, text string) {
	msg := tgbotapi.NewMessage(userID, text)
	if _, err := n.api.Send(msg); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось отправить уведомление")
		return
	}
	log.WithField("user_id", userID).Debug("Уведомление отправлено")
}

// Wait дожидается отправки уведомлений, поставленных в очередь.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
