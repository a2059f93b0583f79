package mining

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
	"blockmine.pro/mining-bot/internal/metrics"
)

// SpotRater: источник курса для справочного BTC-эквивалента в заметках.
// Ошибок не возвращает: при сбое отдаёт статический курс.
type SpotRater interface {
	SpotRate(ctx context.Context, coin string) decimal.Decimal
}

// CycleReport: итог цикла начислений за один день.
type CycleReport struct {
	Day      time.Time
	Users    int
	Credited int // начислений (покупка × день)
	Orphaned int // покупок без пакета
	Failed   int // пользователей с ошибкой
	TotalUSD decimal.Decimal
}

// ExpiryReport: итог прохода по срокам.
type ExpiryReport struct {
	Expired     int
	Deferred    int // истёкшие, но с неначисленными днями
	Refunded    int
	Failed      int
	RefundedUSD decimal.Decimal
}

// AccrualEngine начисляет суточный доход и закрывает истёкшие покупки.
type AccrualEngine struct {
	store  ledger.Store
	rate   decimal.Decimal // глобальная ставка USD за 1 TH/s в сутки
	oracle SpotRater
	loc    *time.Location
	now    func() time.Time

	// пользователи, чьё начисление упало в последнем цикле
	mu         sync.Mutex
	failedDay  time.Time
	failedUser map[int64]bool
}

// NewAccrualEngine создаёт движок начислений. oracle может быть nil.
func NewAccrualEngine(store ledger.Store, rate decimal.Decimal, oracle SpotRater, loc *time.Location) *AccrualEngine {
	return &AccrualEngine{store: store, rate: rate, oracle: oracle, loc: loc, now: time.Now}
}

// SetClock подменяет источник времени.
func (e *AccrualEngine) SetClock(now func() time.Time) { e.now = now }

// RunDailyEarningsCycle начисляет доход за гражданский день day.
//
// Покупка получает начисление за каждый день из (AccruedThrough, day], начиная
// со следующего дня после покупки и не дальше срока. Повторный запуск за тот же
// день ничего не начисляет. Каждый пользователь обрабатывается в своей
// транзакции; ошибка по пользователю логируется, цикл продолжается.
// Ставка <= 0 прерывает цикл до любых изменений.
func (e *AccrualEngine) RunDailyEarningsCycle(ctx context.Context, day time.Time) (*CycleReport, error) {
	started := time.Now()
	day = common.CivilDay(day, e.loc)

	if !e.rate.IsPositive() {
		err := common.Configurationf("глобальная ставка начислений %s <= 0", e.rate.String())
		log.WithError(err).WithField("component", "accrual").Error("[ACCRUAL] Цикл прерван")
		metrics.RecordAccrualCycle("config_error", time.Since(started))
		return nil, err
	}

	ids, err := e.store.ListUserIDsWithActivePurchases(ctx)
	if err != nil {
		metrics.RecordAccrualCycle("error", time.Since(started))
		return nil, fmt.Errorf("ошибка получения пользователей с активными покупками: %w", err)
	}
	pkgs, err := e.packageIndex(ctx)
	if err != nil {
		metrics.RecordAccrualCycle("error", time.Since(started))
		return nil, err
	}

	btcRate := decimal.Zero
	if e.oracle != nil {
		btcRate = e.oracle.SpotRate(ctx, "BTC")
	}

	e.resetFailures(day)
	report := &CycleReport{Day: day, TotalUSD: decimal.Zero}
	for _, userID := range ids {
		if err := ctx.Err(); err != nil {
			metrics.RecordAccrualCycle("canceled", time.Since(started))
			return report, err
		}
		r, err := e.accrueUser(ctx, userID, day, pkgs, btcRate)
		report.Users++
		if err != nil {
			report.Failed++
			e.markFailed(userID)
			metrics.RecordAccrualUserFailure()
			log.WithError(err).WithFields(log.Fields{
				"component": "accrual",
				"user_id":   userID,
				"day":       common.FormatDate(day, e.loc),
			}).Error("[ACCRUAL] Ошибка начисления пользователю")
			continue
		}
		report.Credited += r.Credited
		report.Orphaned += r.Orphaned
		report.TotalUSD = report.TotalUSD.Add(r.TotalUSD)
	}

	metrics.RecordAccrualCycle("ok", time.Since(started))
	log.WithFields(log.Fields{
		"component": "accrual",
		"day":       common.FormatDate(day, e.loc),
		"users":     report.Users,
		"credited":  report.Credited,
		"orphaned":  report.Orphaned,
		"failed":    report.Failed,
		"total_usd": report.TotalUSD.StringFixed(2),
	}).Info("[ACCRUAL] Цикл начислений завершён")
	return report, nil
}

func (e *AccrualEngine) accrueUser(ctx context.Context, userID int64, day time.Time, pkgs map[int64]*ledger.Package, btcRate decimal.Decimal) (*CycleReport, error) {
	var r *CycleReport
	err := e.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r = &CycleReport{TotalUSD: decimal.Zero}
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		purchases, err := tx.LockActivePurchases(ctx, userID)
		if err != nil {
			return err
		}

		now := e.now()
		for _, p := range purchases {
			pkg, ok := pkgs[p.PackageID]
			if !ok {
				r.Orphaned++
				log.WithFields(log.Fields{"purchase_id": p.ID, "package_id": p.PackageID}).Warn("[ACCRUAL] Пакет не найден, покупка пропущена")
				continue
			}
			rate := e.rate
			if pkg.EarningRate != nil {
				rate = *pkg.EarningRate
			}
			earn := common.Round2(pkg.MiningPower.Mul(rate))

			days := e.dueDays(p, day)
			if len(days) == 0 {
				continue
			}
			for _, d := range days {
				if earn.IsPositive() {
					p.EarningsUSD = p.EarningsUSD.Add(earn)
					u.EarningsUSD = u.EarningsUSD.Add(earn)
					if _, err := ledger.Post(ctx, tx, u, ledger.Posting{
						Kind:   ledger.KindEarnings,
						Amount: earn,
						Note:   e.earningsNote(pkg, d, earn, btcRate),
						Ref:    ledger.Ref("purchase", p.ID),
					}, now); err != nil {
						return err
					}
					r.Credited++
					r.TotalUSD = r.TotalUSD.Add(earn)
				}
			}
			last := days[len(days)-1]
			p.AccruedThrough = &last
			if err := tx.UpdatePurchase(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.TotalUSD.IsPositive() {
		metrics.RecordAccrualCredit(r.TotalUSD.InexactFloat64())
	}
	return r, nil
}

// dueDays: гражданские дни, за которые покупке ещё положен доход к дню day.
func (e *AccrualEngine) dueDays(p *ledger.MiningPurchase, day time.Time) []time.Time {
	purchaseDay := common.CivilDay(p.PurchaseDate, e.loc)
	next := common.AddCivilDays(purchaseDay, 1, e.loc)
	if p.AccruedThrough != nil {
		after := common.AddCivilDays(common.CivilDay(*p.AccruedThrough, e.loc), 1, e.loc)
		if after.After(next) {
			next = after
		}
	}
	last := common.AddCivilDays(purchaseDay, p.DurationDays, e.loc)
	if day.Before(last) {
		last = day
	}

	var days []time.Time
	for d := next; !d.After(last); d = common.AddCivilDays(d, 1, e.loc) {
		days = append(days, d)
	}
	return days
}

func (e *AccrualEngine) earningsNote(pkg *ledger.Package, day time.Time, earn, btcRate decimal.Decimal) string {
	note := fmt.Sprintf("Доход за %s, пакет %s", common.FormatDate(day, e.loc), pkg.Name)
	if btcRate.IsPositive() {
		note += fmt.Sprintf(" (≈ %s)", common.FormatCoin(earn.DivRound(btcRate, 8), "BTC"))
	}
	return note
}

// ExpireDuePurchases закрывает покупки, у которых прошло DurationDays гражданских
// дней к моменту asOf. Тело возвращается один раз: флаг PrincipalRefunded
// выставляется в той же транзакции, что и проводка. Повторный проход ничего не меняет.
// Покупка, по которой начисления отстают от срока, не закрывается до их догона.
func (e *AccrualEngine) ExpireDuePurchases(ctx context.Context, asOf time.Time) (*ExpiryReport, error) {
	ids, err := e.store.ListUserIDsWithActivePurchases(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователей с активными покупками: %w", err)
	}

	pkgs, err := e.packageIndex(ctx)
	if err != nil {
		return nil, err
	}

	report := &ExpiryReport{RefundedUSD: decimal.Zero}
	for _, userID := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r, err := e.expireUser(ctx, userID, asOf, pkgs)
		if err != nil {
			report.Failed++
			log.WithError(err).WithFields(log.Fields{"component": "expiry", "user_id": userID}).Error("[EXPIRY] Ошибка закрытия покупок")
			continue
		}
		report.Expired += r.Expired
		report.Deferred += r.Deferred
		report.Refunded += r.Refunded
		report.RefundedUSD = report.RefundedUSD.Add(r.RefundedUSD)
	}

	if report.Expired > 0 || report.Deferred > 0 {
		log.WithFields(log.Fields{
			"component":    "expiry",
			"expired":      report.Expired,
			"deferred":     report.Deferred,
			"refunded":     report.Refunded,
			"refunded_usd": report.RefundedUSD.StringFixed(2),
		}).Info("[EXPIRY] Истёкшие покупки закрыты")
	}
	return report, nil
}

func (e *AccrualEngine) expireUser(ctx context.Context, userID int64, asOf time.Time, pkgs map[int64]*ledger.Package) (*ExpiryReport, error) {
	var r *ExpiryReport
	// возвращённое тело по каждой закрытой покупке, для метрик после коммита
	var closed []decimal.Decimal
	accrualFailed := e.accrualFailed(userID, asOf)
	err := e.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r = &ExpiryReport{RefundedUSD: decimal.Zero}
		closed = closed[:0]
		// порядок блокировок как в начислениях: пользователь, затем покупки
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		purchases, err := tx.LockActivePurchases(ctx, userID)
		if err != nil {
			return err
		}
		now := e.now()
		for _, p := range purchases {
			if common.WholeDaysBetween(p.PurchaseDate, asOf, e.loc) < p.DurationDays {
				continue
			}
			if e.accrualBehind(p, pkgs, asOf, accrualFailed) {
				r.Deferred++
				log.WithFields(log.Fields{"user_id": userID, "purchase_id": p.ID}).Warn("[EXPIRY] Доход за последние дни не начислен, закрытие отложено")
				continue
			}
			refund := decimal.Zero
			if !p.PrincipalRefunded && p.PrincipalUSD.IsPositive() {
				if _, err := ledger.Post(ctx, tx, u, ledger.Posting{
					Kind:   ledger.KindPrincipalRefund,
					Amount: p.PrincipalUSD,
					Note:   fmt.Sprintf("Возврат тела покупки #%d", p.ID),
					Ref:    ledger.Ref("purchase", p.ID),
				}, now); err != nil {
					return err
				}
				p.PrincipalRefunded = true
				refund = p.PrincipalUSD
				r.Refunded++
				r.RefundedUSD = r.RefundedUSD.Add(refund)
			}
			p.IsActive = false
			if err := tx.UpdatePurchase(ctx, p); err != nil {
				return err
			}
			r.Expired++
			closed = append(closed, refund)
			log.WithFields(log.Fields{"user_id": userID, "purchase_id": p.ID}).Debug("[EXPIRY] Покупка закрыта")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, refund := range closed {
		metrics.RecordExpiry(refund.InexactFloat64())
	}
	return r, nil
}

// accrualBehind сообщает, что покупке ещё положен доход за дни до asOf, а
// начисление по ней уже шло или упало в текущем цикле. Такая покупка остаётся
// активной, пока следующий цикл не догонит пропущенные дни.
// Покупка без пакета не начисляется и закрывается как обычно.
func (e *AccrualEngine) accrualBehind(p *ledger.MiningPurchase, pkgs map[int64]*ledger.Package, asOf time.Time, accrualFailed bool) bool {
	if _, ok := pkgs[p.PackageID]; !ok {
		return false
	}
	if len(e.dueDays(p, common.CivilDay(asOf, e.loc))) == 0 {
		return false
	}
	return p.AccruedThrough != nil || accrualFailed
}

func (e *AccrualEngine) resetFailures(day time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedDay = day
	e.failedUser = make(map[int64]bool)
}

func (e *AccrualEngine) markFailed(userID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedUser[userID] = true
}

func (e *AccrualEngine) accrualFailed(userID int64, asOf time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failedUser[userID] && e.failedDay.Equal(common.CivilDay(asOf, e.loc))
}

func (e *AccrualEngine) packageIndex(ctx context.Context) (map[int64]*ledger.Package, error) {
	list, err := e.store.ListPackages(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пакетов: %w", err)
	}
	idx := make(map[int64]*ledger.Package, len(list))
	for _, p := range list {
		idx[p.ID] = p
	}
	return idx, nil
}
