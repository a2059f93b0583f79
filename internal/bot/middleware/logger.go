// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

const maxLoggedRunes = 50

// LogMessage логирует входящее сообщение.
// Записывает: user_id, chat_id, username, текст (первые 50 символов).
// Тексты администраторов скрываются: в них может быть пароль панели.
func LogMessage(message *tgbotapi.Message, redact bool) {
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}

	text := TruncateText(message.Text, maxLoggedRunes)
	if redact {
		text = "[скрыто]"
	}

	log.WithFields(log.Fields{
		"user_id":  message.From.ID,
		"chat_id":  message.Chat.ID,
		"username": message.From.UserName,
		"text":     text,
		"time":     time.Now().Format("15:04:05"),
	}).Debug("Входящее сообщение")
}

// TruncateText обрезает текст до n символов, не разрывая UTF-8.
func TruncateText(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
