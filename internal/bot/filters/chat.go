// Package filters отсекает апдейты, которые бот не обслуживает.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// Sender: отправка ответа в чат.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ChatFilter пропускает только личные сообщения: операции с балансом
// не ведутся в группах. На команду в группе бот отвечает подсказкой.
type ChatFilter struct {
	bot Sender
}

// NewChatFilter создаёт фильтр. bot может быть nil, тогда отказ молчаливый.
func NewChatFilter(bot Sender) *ChatFilter {
	return &ChatFilter{bot: bot}
}

func (f *ChatFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Warn("nil message.From (service/channel message?)")
		return false
	}
	if message.From.IsBot {
		return false
	}

	if message.Chat.IsPrivate() {
		return true
	}

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	})
	logger.Debug("deny: not a private chat")

	if f.bot != nil && message.IsCommand() {
		msg := tgbotapi.NewMessage(message.Chat.ID, "ℹ️ Бот работает только в личных сообщениях")
		msg.ReplyToMessageID = message.MessageID
		if _, err := f.bot.Send(msg); err != nil {
			logger.WithError(err).Warn("failed to send deny message")
		}
	}
	return false
}
