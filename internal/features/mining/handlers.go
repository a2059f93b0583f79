// Package mining, handlers.go обрабатывает команды:
// /packages (каталог), /buy (покупка), /miners (сводка).
package mining

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

// Handler обрабатывает команды майнинга.
type Handler struct {
	service *Service
	bot     *tgbotapi.BotAPI
}

// NewHandler создаёт обработчик команд майнинга.
func NewHandler(service *Service, bot *tgbotapi.BotAPI) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandlePackages показывает пакеты, доступные для покупки.
func (h *Handler) HandlePackages(ctx context.Context, chatID int64) {
	pkgs, err := h.service.ListPackages(ctx, true)
	if err != nil {
		log.WithError(err).Error("Ошибка получения пакетов")
		h.sendMessage(chatID, "❌ Ошибка получения пакетов")
		return
	}
	if len(pkgs) == 0 {
		h.sendMessage(chatID, "⛏ Пакетов пока нет")
		return
	}
	h.sendMessage(chatID, FormatPackages(pkgs)+"\nКупить: /buy номер")
}

// FormatPackages форматирует каталог пакетов.
func FormatPackages(pkgs []*ledger.Package) string {
	var sb strings.Builder
	sb.WriteString("⛏ Майнинг-пакеты:\n\n")
	for _, p := range pkgs {
		sb.WriteString(fmt.Sprintf("#%d %s: %s\n   %s TH/s, %d %s",
			p.ID, p.Name, common.FormatUSD(p.PriceUSD),
			p.MiningPower.String(), p.DurationDays, common.PluralizeDays(p.DurationDays)))
		if p.BMTReward.IsPositive() {
			sb.WriteString(fmt.Sprintf(", +%s BMT", p.BMTReward.String()))
		}
		if !p.IsListed {
			sb.WriteString(" (скрыт)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// HandleBuy обрабатывает /buy 3.
func (h *Handler) HandleBuy(ctx context.Context, chatID, userID int64, args []string) {
	if len(args) < 1 {
		h.sendMessage(chatID, "❌ Формат: /buy номер_пакета")
		return
	}
	packageID, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || packageID <= 0 {
		h.sendMessage(chatID, "❌ Номер пакета должен быть положительным числом")
		return
	}

	res, err := h.service.Purchase(ctx, userID, packageID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"user_id": userID, "package_id": packageID}).Warn("Покупка отклонена")
		h.sendMessage(chatID, common.UserMessage(err))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ Пакет «%s» куплен за %s\n", res.Package.Name, common.FormatUSD(res.Package.PriceUSD)))
	if res.FromBonus.IsPositive() {
		sb.WriteString(fmt.Sprintf("🎁 Из бонуса: %s\n", common.FormatUSD(res.FromBonus)))
	}
	if res.Package.BMTReward.IsPositive() {
		sb.WriteString(fmt.Sprintf("🪙 Награда: %s BMT\n", res.Package.BMTReward.String()))
	}
	sb.WriteString(fmt.Sprintf("💰 Баланс: %s", common.FormatUSD(res.Buyer.BalanceUSD)))
	h.sendMessage(chatID, sb.String())
}

// HandleMiners показывает активные майнеры.
func (h *Handler) HandleMiners(ctx context.Context, chatID, userID int64) {
	sum, err := h.service.Summary(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Ошибка получения майнеров")
		h.sendMessage(chatID, "❌ Ошибка получения майнеров")
		return
	}
	h.sendMessage(chatID, FormatSummary(sum))
}

// FormatSummary форматирует сводку майнеров.
func FormatSummary(sum *Summary) string {
	if len(sum.Active) == 0 {
		return fmt.Sprintf("📊 Активных майнеров нет\nЗаработано всего: %s", common.FormatUSD(sum.EarningsUSD))
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 Активных майнеров: %d, %s TH/s\n\n", len(sum.Active), sum.TotalPower.String()))
	for _, m := range sum.Active {
		name := m.PackageName
		if name == "" {
			name = "пакет удалён"
		}
		sb.WriteString(fmt.Sprintf("#%d %s: %s, осталось %d %s\n",
			m.Purchase.ID, name, common.FormatUSD(m.Purchase.EarningsUSD), m.DaysLeft, common.PluralizeDays(m.DaysLeft)))
	}
	sb.WriteString(fmt.Sprintf("\nЗаработано всего: %s", common.FormatUSD(sum.EarningsUSD)))
	if sum.Finished > 0 {
		sb.WriteString(fmt.Sprintf("\nЗавершено пакетов: %d", sum.Finished))
	}
	return sb.String()
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).Error("Ошибка отправки сообщения")
	}
}
