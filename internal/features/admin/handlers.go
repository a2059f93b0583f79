// Package admin, handlers.go обрабатывает взаимодействие с админ-панелью.
// Панель работает через Reply Keyboard и текстовые команды в личных сообщениях.
// Поток: аутентификация → клавиатура → команда или пошаговый диалог.
package admin

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
)

// Кнопки клавиатуры админ-панели.
const (
	btnPending  = "Заявки"
	btnStats    = "Статистика"
	btnPackages = "Пакеты"
	btnManual   = "Ручное пополнение"
	btnCatchUp  = "Начисления"
	btnHelp     = "Команды"
	btnLogout   = "Выйти"
	btnCancel   = "Отмена"
)

// buttonCommands сопоставляет кнопки и команды без аргументов.
var buttonCommands = map[string]string{
	btnPending:  "pending",
	btnStats:    "stats",
	btnPackages: "pkg_list",
	btnCatchUp:  "catchup",
	btnHelp:     "help",
}

// Handler обрабатывает админ-команды.
type Handler struct {
	service  *Service
	commands *Commands
	bot      *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик админ-панели.
func NewHandler(service *Service, commands *Commands, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{
		service:  service,
		commands: commands,
		bot:      bot,
	}
}

// HandleAdminMessage обрабатывает сообщение администратора в DM.
// Возвращает false, если сообщение не относится к админке: тогда его
// обрабатывает пользовательский роутер (админ тоже клиент).
func (h *Handler) HandleAdminMessage(ctx context.Context, chatID int64, userID int64, text string) bool {
	if !h.service.IsAdmin(userID) {
		return false
	}
	text = strings.TrimSpace(text)
	state := h.service.GetState(userID)

	if state != nil && state.State == StateAwaitingPassword {
		h.handlePasswordInput(ctx, chatID, userID, text)
		return true
	}

	name, args, isCommand := h.parseCommand(text)
	if state == nil && !isCommand && !isPanelInput(text) {
		return false
	}

	if !h.service.HasActiveSession(ctx, userID) {
		h.sendMessage(chatID, "🔐 Введите пароль для доступа к админ-панели:")
		h.service.SetState(userID, StateAwaitingPassword, nil)
		return true
	}
	h.service.Touch(ctx, userID)

	if text == btnCancel {
		h.service.ClearState(userID)
		h.showKeyboard(chatID, "Действие отменено")
		return true
	}

	if state != nil {
		switch state.State {
		case StateManualDepositUser:
			h.handleManualUser(ctx, chatID, userID, text)
			return true
		case StateManualDepositAmount:
			h.handleManualAmount(chatID, userID, state, text)
			return true
		case StateManualDepositConfirm:
			h.handleManualConfirm(ctx, chatID, userID, state, text)
			return true
		}
	}

	if isCommand {
		h.runCommand(ctx, chatID, userID, name, args)
		return true
	}

	switch text {
	case btnManual:
		h.sendMessage(chatID, "Введите ID пользователя:")
		h.service.SetState(userID, StateManualDepositUser, nil)
	case btnLogout:
		if err := h.service.Logout(ctx, userID); err != nil {
			log.WithError(err).Error("Ошибка завершения сессии")
		}
		msg := tgbotapi.NewMessage(chatID, "👋 Сессия завершена")
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
		h.send(msg)
	case "/admin", "Админ", "Панель", "админ", "панель":
		h.showKeyboard(chatID, "✅ Админ-панель открыта")
	default:
		if cmd, ok := buttonCommands[text]; ok {
			h.runCommand(ctx, chatID, userID, cmd, nil)
		}
	}
	return true
}

// parseCommand разбирает "/cmd@bot arg1 arg2". Неизвестные команды не считаются админскими.
func (h *Handler) parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	// /admin открывает панель, /help остаётся пользовательской справкой
	if name == "admin" || name == "help" {
		return "", nil, false
	}
	if !h.commands.Has(name) {
		return "", nil, false
	}
	return name, fields[1:], true
}

func isPanelInput(text string) bool {
	switch text {
	case "/admin", "Админ", "Панель", "админ", "панель", btnManual, btnLogout, btnCancel:
		return true
	}
	_, ok := buttonCommands[text]
	return ok
}

func (h *Handler) runCommand(ctx context.Context, chatID, userID int64, name string, args []string) {
	reply, err := h.commands.Exec(ctx, name, args)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"admin_id": userID, "command": name}).Warn("[ADMIN] Команда не выполнена")
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}
	log.WithFields(log.Fields{"admin_id": userID, "command": name, "args": args}).Info("[ADMIN] Команда выполнена")
	h.sendMessage(chatID, reply)
}

// handlePasswordInput обрабатывает ввод пароля.
func (h *Handler) handlePasswordInput(ctx context.Context, chatID int64, userID int64, password string) {
	h.service.ClearState(userID)
	if err := h.service.VerifyPassword(ctx, userID, password); err != nil {
		h.sendMessage(chatID, fmt.Sprintf("❌ %s", err.Error()))
		return
	}
	h.showKeyboard(chatID, "✅ Аутентификация успешна!")
}

// --- Ручное пополнение (3 шага) ---

// handleManualUser, шаг 1: ID пользователя.
func (h *Handler) handleManualUser(ctx context.Context, chatID, userID int64, text string) {
	target, err := parseID(text)
	if err != nil {
		h.sendMessage(chatID, "❌ Неверный ID. Попробуйте ещё раз.")
		return
	}
	u, err := h.commands.svc.Accounts.Get(ctx, target)
	if err != nil {
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}
	h.sendMessage(chatID, fmt.Sprintf("Пользователь %s. Введите сумму в USD:", u.DisplayName()))
	h.service.SetState(userID, StateManualDepositAmount, &manualDepositDraft{UserID: target})
}

// handleManualAmount, шаг 2: сумма.
func (h *Handler) handleManualAmount(chatID, userID int64, state *AdminState, text string) {
	draft := state.Data.(*manualDepositDraft)
	amount, err := common.ParseUSD(text)
	if err != nil || !common.Round2(amount).IsPositive() {
		h.sendMessage(chatID, "❌ Неверная сумма. Попробуйте ещё раз.")
		return
	}
	draft.Amount = amount.String()

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Зачислить %s на основной или бонусный баланс?", common.FormatUSD(amount)))
	msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Основной"),
			tgbotapi.NewKeyboardButton("Бонусный"),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancel)),
	)
	h.send(msg)
	h.service.SetState(userID, StateManualDepositConfirm, draft)
}

// handleManualConfirm, шаг 3: выбор кошелька и зачисление.
func (h *Handler) handleManualConfirm(ctx context.Context, chatID, userID int64, state *AdminState, text string) {
	draft := state.Data.(*manualDepositDraft)
	var args []string
	switch strings.ToLower(text) {
	case "основной":
		args = []string{fmt.Sprint(draft.UserID), draft.Amount}
	case "бонусный":
		args = []string{fmt.Sprint(draft.UserID), draft.Amount, "bonus"}
	default:
		h.sendMessage(chatID, "Выберите «Основной» или «Бонусный»")
		return
	}
	h.service.ClearState(userID)

	reply, err := h.commands.Exec(ctx, "dep_manual", args)
	if err != nil {
		h.showKeyboard(chatID, common.UserMessage(err))
		return
	}
	h.showKeyboard(chatID, reply)
}

// showKeyboard отображает клавиатуру админ-панели.
func (h *Handler) showKeyboard(chatID int64, text string) {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnPending),
			tgbotapi.NewKeyboardButton(btnStats),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnPackages),
			tgbotapi.NewKeyboardButton(btnManual),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCatchUp),
			tgbotapi.NewKeyboardButton(btnHelp),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnLogout),
		),
	)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	h.send(msg)
}

func (h *Handler) sendMessage(chatID int64, text string) {
	h.send(tgbotapi.NewMessage(chatID, text))
}

func (h *Handler) send(msg tgbotapi.MessageConfig) {
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
