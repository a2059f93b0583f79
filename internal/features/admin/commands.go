// Package admin, commands.go: текстовые команды админ-панели.
// Каждая команда разбирает аргументы и вызывает сервис соответствующей фичи.
package admin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/features/accounts"
	"blockmine.pro/mining-bot/internal/features/deposits"
	"blockmine.pro/mining-bot/internal/features/mining"
	"blockmine.pro/mining-bot/internal/features/settings"
	"blockmine.pro/mining-bot/internal/features/withdrawals"
	"blockmine.pro/mining-bot/internal/jobs"
	"blockmine.pro/mining-bot/internal/ledger"
)

const listLimit = 20

// CatchUpRunner запускает догоняющий прогон начислений.
type CatchUpRunner interface {
	EnsureUpToDate(ctx context.Context) (*jobs.CatchUpResult, error)
}

// Services: сервисы, которыми управляет админ.
type Services struct {
	Store       ledger.Store
	Accounts    *accounts.Service
	Mining      *mining.Service
	Deposits    *deposits.Service
	Withdrawals *withdrawals.Service
	Settings    *settings.Service
	CatchUp     CatchUpRunner
}

type command struct {
	usage   string
	minArgs int
	run     func(ctx context.Context, args []string) (string, error)
}

// Commands: реестр админ-команд.
type Commands struct {
	svc   Services
	table map[string]command
}

// NewCommands собирает реестр команд.
func NewCommands(svc Services) *Commands {
	c := &Commands{svc: svc}
	c.table = map[string]command{
		"help":    {"/help", 0, c.help},
		"pending": {"/pending", 0, c.pending},
		"stats":   {"/stats", 0, c.stats},
		"catchup": {"/catchup", 0, c.catchUp},

		"dep_approve": {"/dep_approve <id>", 1, c.depositApprove},
		"dep_reject":  {"/dep_reject <id>", 1, c.depositReject},
		"dep_manual":  {"/dep_manual <user> <сумма> [bonus] [комментарий]", 2, c.depositManual},

		"wd_approve": {"/wd_approve <id>", 1, c.withdrawalAction(withdrawals.ActionApprove)},
		"wd_reject":  {"/wd_reject <id>", 1, c.withdrawalAction(withdrawals.ActionReject)},
		"wd_paid":    {"/wd_paid <id>", 1, c.withdrawalAction(withdrawals.ActionPaid)},

		"attach":   {"/attach <user> <пакет>", 2, c.attach},
		"detach":   {"/detach <покупка>", 1, c.detach},
		"pkg_list": {"/pkg_list", 0, c.packageList},
		"pkg_add":  {"/pkg_add <название> <цена> <TH/s> <дней> [ставка|global] [BMT]", 4, c.packageAdd},
		"pkg_edit": {"/pkg_edit <id> <name|price|power|days|rate|bmt|listed> <значение>", 3, c.packageEdit},
		"pkg_del":  {"/pkg_del <id>", 1, c.packageDelete},

		"user":      {"/user <user>", 1, c.userInfo},
		"bmt":       {"/bmt <user> <±количество>", 2, c.adjustBMT},
		"adjust":    {"/adjust <user> <±сумма> [bonus] [комментарий]", 2, c.adjust},
		"freeze":    {"/freeze <user>", 1, c.freeze(true)},
		"unfreeze":  {"/unfreeze <user>", 1, c.freeze(false)},
		"reconcile": {"/reconcile <user>", 1, c.reconcile},

		"toggle":    {"/toggle <stake|swap>", 1, c.toggle},
		"bmt_price": {"/bmt_price <цена>", 1, c.bmtPrice},
		"address":   {"/address <монета> [адрес]", 1, c.address},
	}
	return c
}

// Has сообщает, известна ли команда.
func (c *Commands) Has(name string) bool {
	_, ok := c.table[name]
	return ok
}

// Exec выполняет команду и возвращает текст ответа.
func (c *Commands) Exec(ctx context.Context, name string, args []string) (string, error) {
	cmd, ok := c.table[name]
	if !ok {
		return "", common.Validationf("неизвестная команда /%s", name)
	}
	if len(args) < cmd.minArgs {
		return "", common.Validationf("использование: %s", cmd.usage)
	}
	return cmd.run(ctx, args)
}

func (c *Commands) help(_ context.Context, _ []string) (string, error) {
	usages := make([]string, 0, len(c.table))
	for _, cmd := range c.table {
		usages = append(usages, cmd.usage)
	}
	sort.Strings(usages)
	return "🛠 Команды админа:\n\n" + strings.Join(usages, "\n"), nil
}

// --- Заявки ---

func (c *Commands) pending(ctx context.Context, _ []string) (string, error) {
	deps, err := c.svc.Deposits.ListPending(ctx, listLimit)
	if err != nil {
		return "", err
	}
	pendingWds, err := c.svc.Withdrawals.ListPending(ctx, listLimit)
	if err != nil {
		return "", err
	}
	approvedWds, err := c.svc.Withdrawals.ListApproved(ctx, listLimit)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("📥 Пополнения на проверке:\n")
	if len(deps) == 0 {
		sb.WriteString("нет\n")
	}
	for _, d := range deps {
		proof := "без хеша"
		if d.TxHash != "" {
			proof = fmt.Sprintf("tx %s, %d подтв.", d.TxHash, d.Confirmations)
		}
		sb.WriteString(fmt.Sprintf("#%d · user %d · %s (%s) · %s\n",
			d.ID, d.UserID, common.FormatUSD(d.AmountUSD), common.FormatCoin(d.ExpectedCoinAmount, d.Coin), proof))
	}

	sb.WriteString("\n📤 Выводы на проверке:\n")
	if len(pendingWds) == 0 {
		sb.WriteString("нет\n")
	}
	for _, w := range pendingWds {
		sb.WriteString(fmt.Sprintf("#%d · user %d · %s · %s %s\n",
			w.ID, w.UserID, common.FormatUSD(w.AmountUSD), w.Method, w.Details))
	}

	if len(approvedWds) > 0 {
		sb.WriteString("\n💸 Одобрены, ждут выплаты:\n")
		for _, w := range approvedWds {
			sb.WriteString(fmt.Sprintf("#%d · user %d · %s · %s %s\n",
				w.ID, w.UserID, common.FormatUSD(w.AmountUSD), w.Method, w.Details))
		}
	}
	return sb.String(), nil
}

func (c *Commands) depositApprove(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	d, err := c.svc.Deposits.Approve(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Пополнение #%d одобрено: %s зачислено пользователю %d",
		d.ID, common.FormatUSD(d.AmountUSD), d.UserID), nil
}

func (c *Commands) depositReject(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	d, err := c.svc.Deposits.Reject(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🚫 Пополнение #%d отклонено", d.ID), nil
}

func (c *Commands) depositManual(ctx context.Context, args []string) (string, error) {
	userID, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	amount, err := common.ParseUSD(args[1])
	if err != nil {
		return "", err
	}
	bonus, note := bonusAndNote(args[2:])
	d, err := c.svc.Deposits.ManualDeposit(ctx, userID, amount, bonus, note)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Ручное пополнение #%d: %s пользователю %d", d.ID, common.FormatUSD(d.AmountUSD), userID), nil
}

func (c *Commands) withdrawalAction(action withdrawals.Action) func(ctx context.Context, args []string) (string, error) {
	return func(ctx context.Context, args []string) (string, error) {
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		w, err := c.svc.Withdrawals.Process(ctx, id, action)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Вывод #%d: %s (%s)", w.ID, w.Status, common.FormatUSD(w.AmountUSD)), nil
	}
}

// --- Пакеты и покупки ---

func (c *Commands) attach(ctx context.Context, args []string) (string, error) {
	userID, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	pkgID, err := parseID(args[1])
	if err != nil {
		return "", err
	}
	p, err := c.svc.Mining.Attach(ctx, userID, pkgID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Пакет #%d выдан пользователю %d (покупка #%d)", pkgID, userID, p.ID), nil
}

func (c *Commands) detach(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	if err := c.svc.Mining.Detach(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Покупка #%d деактивирована", id), nil
}

func (c *Commands) packageList(ctx context.Context, _ []string) (string, error) {
	pkgs, err := c.svc.Mining.ListPackages(ctx, false)
	if err != nil {
		return "", err
	}
	if len(pkgs) == 0 {
		return "Пакетов нет", nil
	}
	var sb strings.Builder
	for _, p := range pkgs {
		rate := "global"
		if p.EarningRate != nil {
			rate = p.EarningRate.String()
		}
		listed := "в продаже"
		if !p.IsListed {
			listed = "скрыт"
		}
		sb.WriteString(fmt.Sprintf("#%d %s · %s · %s TH/s · %d дн. · ставка %s · BMT %s · %s\n",
			p.ID, p.Name, common.FormatUSD(p.PriceUSD), p.MiningPower.String(), p.DurationDays, rate, p.BMTReward.String(), listed))
	}
	return sb.String(), nil
}

func (c *Commands) packageAdd(ctx context.Context, args []string) (string, error) {
	in := mining.PackageInput{Name: strings.ReplaceAll(args[0], "_", " ")}
	var err error
	if in.PriceUSD, err = common.ParseUSD(args[1]); err != nil {
		return "", err
	}
	if in.MiningPower, err = parseDecimal(args[2]); err != nil {
		return "", err
	}
	if in.DurationDays, err = parseDays(args[3]); err != nil {
		return "", err
	}
	if len(args) > 4 && args[4] != "global" {
		rate, err := parseDecimal(args[4])
		if err != nil {
			return "", err
		}
		in.EarningRate = &rate
	}
	if len(args) > 5 {
		if in.BMTReward, err = parseDecimal(args[5]); err != nil {
			return "", err
		}
	}
	p, err := c.svc.Mining.CreatePackage(ctx, in)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Пакет #%d «%s» создан", p.ID, p.Name), nil
}

func (c *Commands) packageEdit(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	value := strings.Join(args[2:], " ")
	var e mining.PackageEdit
	switch args[1] {
	case "name":
		e.Name = &value
	case "price":
		v, err := common.ParseUSD(value)
		if err != nil {
			return "", err
		}
		e.PriceUSD = &v
	case "power":
		v, err := parseDecimal(value)
		if err != nil {
			return "", err
		}
		e.MiningPower = &v
	case "days":
		v, err := parseDays(value)
		if err != nil {
			return "", err
		}
		e.DurationDays = &v
	case "rate":
		if value == "global" {
			e.ClearRate = true
			break
		}
		v, err := parseDecimal(value)
		if err != nil {
			return "", err
		}
		e.EarningRate = &v
	case "bmt":
		v, err := parseDecimal(value)
		if err != nil {
			return "", err
		}
		e.BMTReward = &v
	case "listed":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return "", common.Validationf("listed: ожидается true или false")
		}
		e.IsListed = &v
	default:
		return "", common.Validationf("неизвестное поле %q", args[1])
	}
	p, err := c.svc.Mining.EditPackage(ctx, id, e)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Пакет #%d «%s» обновлён", p.ID, p.Name), nil
}

func (c *Commands) packageDelete(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	if err := c.svc.Mining.DeletePackage(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Пакет #%d удалён", id), nil
}

// --- Пользователи ---

func (c *Commands) userInfo(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	u, err := c.svc.Accounts.Get(ctx, id)
	if err != nil {
		return "", err
	}
	frozen := ""
	if u.IsFrozen {
		frozen = "\n🧊 Заморожен"
	}
	return fmt.Sprintf("👤 %d %s\nБаланс: %s\nБонус: %s\nДоход: %s\nBMT: %s\nКод: %s, пригласил: %s%s",
		u.ID, u.DisplayName(),
		common.FormatUSD(u.BalanceUSD), common.FormatUSD(u.BonusBalanceUSD),
		common.FormatUSD(u.EarningsUSD), u.BMTBalance.String(),
		u.OwnReferralCode, orDash(u.ReferralCode), frozen), nil
}

func (c *Commands) adjustBMT(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	delta, err := parseDecimal(args[1])
	if err != nil {
		return "", err
	}
	balance, err := c.svc.Accounts.AdjustBMT(ctx, id, delta)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ BMT пользователя %d: %s", id, balance.String()), nil
}

func (c *Commands) adjust(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	amount, err := common.ParseUSD(args[1])
	if err != nil {
		return "", err
	}
	bonus, note := bonusAndNote(args[2:])
	wallet := ledger.WalletUSD
	if bonus {
		wallet = ledger.WalletBonus
	}
	u, err := c.svc.Accounts.AdjustBalance(ctx, id, wallet, amount, note)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Корректировка %s: баланс %s, бонус %s",
		common.FormatSigned(common.Round2(amount)), common.FormatUSD(u.BalanceUSD), common.FormatUSD(u.BonusBalanceUSD)), nil
}

func (c *Commands) freeze(frozen bool) func(ctx context.Context, args []string) (string, error) {
	return func(ctx context.Context, args []string) (string, error) {
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		if err := c.svc.Accounts.SetFrozen(ctx, id, frozen); err != nil {
			return "", err
		}
		if frozen {
			return fmt.Sprintf("🧊 Пользователь %d заморожен", id), nil
		}
		return fmt.Sprintf("✅ Пользователь %d разморожен", id), nil
	}
}

func (c *Commands) reconcile(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	rec, err := ledger.Reconcile(ctx, c.svc.Store, id)
	if err != nil {
		return "", err
	}
	status := "✅ Сходится"
	if !rec.OK() {
		status = "⚠️ Расхождение"
	}
	return fmt.Sprintf("%s\nБаланс %s / журнал %s\nБонус %s / журнал %s",
		status,
		common.FormatUSD(rec.Balance), common.FormatUSD(rec.Ledger),
		common.FormatUSD(rec.Bonus), common.FormatUSD(rec.BonusSum)), nil
}

// --- Настройки ---

func (c *Commands) toggle(ctx context.Context, args []string) (string, error) {
	enabled, err := c.svc.Settings.Toggle(ctx, settings.Flag(args[0]))
	if err != nil {
		return "", err
	}
	state := "выключен"
	if enabled {
		state = "включён"
	}
	return fmt.Sprintf("✅ %s %s", args[0], state), nil
}

func (c *Commands) bmtPrice(ctx context.Context, args []string) (string, error) {
	price, err := common.ParseUSD(args[0])
	if err != nil {
		return "", err
	}
	if err := c.svc.Settings.SetBMTPrice(ctx, price); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Курс BMT: $%s", price.Round(4).String()), nil
}

func (c *Commands) address(ctx context.Context, args []string) (string, error) {
	address := ""
	if len(args) > 1 {
		address = args[1]
	}
	if err := c.svc.Settings.SetDepositAddress(ctx, args[0], address); err != nil {
		return "", err
	}
	if address == "" {
		return fmt.Sprintf("✅ Адрес %s удалён", strings.ToUpper(args[0])), nil
	}
	return fmt.Sprintf("✅ Адрес %s: %s", strings.ToUpper(args[0]), address), nil
}

// --- Система ---

func (c *Commands) catchUp(ctx context.Context, _ []string) (string, error) {
	res, err := c.svc.CatchUp.EnsureUpToDate(ctx)
	if err != nil {
		return "", err
	}
	if res.Initialized {
		return "✅ Маркер начислений инициализирован", nil
	}
	if res.Days == 0 {
		return "✅ Начисления актуальны", nil
	}
	return fmt.Sprintf("✅ Прогнано %d %s", res.Days, common.PluralizeDays(res.Days)), nil
}

func (c *Commands) stats(ctx context.Context, _ []string) (string, error) {
	st, err := c.svc.Store.Stats(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📊 Статистика\n\nПользователей: %d\nАктивных майнеров: %d\nПополнено: %s\nВыведено: %s\nНачислено дохода: %s\nНа проверке: %d пополн., %d выв.",
		st.Users, st.ActivePurchases,
		common.FormatUSD(st.ApprovedDepositUSD), common.FormatUSD(st.WithdrawnUSD),
		common.FormatUSD(st.EarningsUSD), st.PendingDeposits, st.PendingWithdrawals), nil
}

// --- Разбор аргументов ---

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, common.Validationf("некорректный ID %q", s)
	}
	return id, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return decimal.Zero, common.Validationf("некорректное число %q", s)
	}
	return d, nil
}

func parseDays(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, common.Validationf("некорректный срок %q", s)
	}
	return n, nil
}

// bonusAndNote отделяет флаг bonus от комментария.
func bonusAndNote(args []string) (bool, string) {
	if len(args) > 0 && args[0] == "bonus" {
		return true, strings.Join(args[1:], " ")
	}
	return false, strings.Join(args, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
