package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/features/mining"
	"blockmine.pro/mining-bot/internal/features/staking"
	"blockmine.pro/mining-bot/internal/metrics"
)

// Cycle выполняет суточный цикл: начисления и закрытие истёкших покупок.
type Cycle interface {
	RunDailyEarningsCycle(ctx context.Context, day time.Time) (*mining.CycleReport, error)
	ExpireDuePurchases(ctx context.Context, asOf time.Time) (*mining.ExpiryReport, error)
}

// Unlocker закрывает стейки, срок которых наступил к asOf.
type Unlocker interface {
	ProcessUnlocked(ctx context.Context, asOf time.Time) (*staking.UnlockReport, error)
}

// Marker хранит момент последнего успешного прогона.
type Marker interface {
	Marker(ctx context.Context) (*time.Time, error)
	InitMarker(ctx context.Context, at time.Time) (bool, error)
	AdvanceMarker(ctx context.Context, at time.Time) error
}

// CatchUpResult: итог вызова EnsureUpToDate.
type CatchUpResult struct {
	Initialized bool // первый запуск: маркер выставлен, дни не начислялись
	Days        int  // сколько дней прогнано
	Missed      int  // сколько дней было пропущено
}

// CatchUp догоняет пропущенные суточные циклы по маркеру в настройках.
//
// Одновременно выполняется не больше одного прогона: параллельные вызовы
// EnsureUpToDate дожидаются текущего и получают его результат.
type CatchUp struct {
	cycle  Cycle
	stakes Unlocker
	marker Marker
	loc    *time.Location
	now    func() time.Time

	group   singleflight.Group
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// NewCatchUp создаёт планировщик догоняющих прогонов.
// cooldown ограничивает частоту Poke.
func NewCatchUp(cycle Cycle, marker Marker, loc *time.Location, cooldown time.Duration) *CatchUp {
	return &CatchUp{
		cycle:   cycle,
		marker:  marker,
		loc:     loc,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(cooldown), 1),
	}
}

// WithStakes добавляет закрытие стейков в суточный цикл после закрытия покупок.
func (c *CatchUp) WithStakes(u Unlocker) *CatchUp {
	c.stakes = u
	return c
}

// SetClock подменяет источник времени.
func (c *CatchUp) SetClock(now func() time.Time) { c.now = now }

// EnsureUpToDate прогоняет все пропущенные гражданские дни по порядку:
// для каждого дня начисления, затем закрытие истёкших покупок и стейков.
//
// Маркер сдвигается только после успеха всех дней. При ошибке или отмене ctx
// прогон останавливается между днями, а следующий вызов повторит оставшиеся.
// Уже прогнанные дни повторно не начисляются.
func (c *CatchUp) EnsureUpToDate(ctx context.Context) (*CatchUpResult, error) {
	v, err, shared := c.group.Do("catchup", func() (any, error) {
		return c.run(ctx)
	})
	if shared {
		log.Debug("[CATCHUP] Вызов присоединён к уже идущему прогону")
	}
	res, _ := v.(*CatchUpResult)
	return res, err
}

// Poke: оппортунистический запуск из обработки запросов.
// Не чаще одного раза за cooldown; прогон идёт в фоне. Возвращает false, если пропущен.
// ctx должен жить до остановки процесса: его отмена прерывает прогон между днями.
func (c *CatchUp) Poke(ctx context.Context) bool {
	if !c.limiter.Allow() {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.EnsureUpToDate(ctx); err != nil {
			log.WithError(err).Error("[CATCHUP] Фоновый прогон завершился ошибкой")
		}
	}()
	return true
}

// Wait дожидается фоновых прогонов, запущенных через Poke.
func (c *CatchUp) Wait() {
	c.wg.Wait()
}

func (c *CatchUp) run(ctx context.Context) (*CatchUpResult, error) {
	now := c.now()
	marker, err := c.marker.Marker(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения маркера начислений: %w", err)
	}

	if marker == nil {
		initialized, err := c.marker.InitMarker(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации маркера начислений: %w", err)
		}
		if initialized {
			log.WithField("marker", common.FormatDateTime(now, c.loc)).Info("[CATCHUP] Первый запуск, маркер выставлен без начислений за прошлое")
		}
		return &CatchUpResult{Initialized: initialized}, nil
	}

	res := &CatchUpResult{Missed: common.WholeDaysBetween(*marker, now, c.loc)}
	if res.Missed <= 0 {
		return res, nil
	}

	log.WithFields(log.Fields{
		"marker": common.FormatDateTime(*marker, c.loc),
		"missed": res.Missed,
	}).Info("[CATCHUP] Догоняем пропущенные дни")

	start := common.CivilDay(*marker, c.loc)
	for i := 1; i <= res.Missed; i++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("прогон прерван после %d из %d дней: %w", res.Days, res.Missed, err)
		}
		day := common.AddCivilDays(start, i, c.loc)
		// день доводится до конца даже при отмене ctx
		dayCtx := context.WithoutCancel(ctx)
		if _, err := c.cycle.RunDailyEarningsCycle(dayCtx, day); err != nil {
			return res, fmt.Errorf("начисления за %s: %w", common.FormatDate(day, c.loc), err)
		}
		if _, err := c.cycle.ExpireDuePurchases(dayCtx, day); err != nil {
			return res, fmt.Errorf("закрытие покупок за %s: %w", common.FormatDate(day, c.loc), err)
		}
		if c.stakes != nil {
			if _, err := c.stakes.ProcessUnlocked(dayCtx, day); err != nil {
				return res, fmt.Errorf("закрытие стейков за %s: %w", common.FormatDate(day, c.loc), err)
			}
		}
		res.Days++
		log.WithField("day", common.FormatDate(day, c.loc)).Info("[CATCHUP] День прогнан")
	}

	if err := c.marker.AdvanceMarker(ctx, now); err != nil {
		return res, fmt.Errorf("ошибка сдвига маркера начислений: %w", err)
	}
	metrics.RecordCatchUp(res.Days, now)
	log.WithField("days", res.Days).Info("[CATCHUP] Начисления актуальны")
	return res, nil
}
