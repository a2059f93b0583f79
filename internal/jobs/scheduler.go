// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежедневный догоняющий прогон начислений
// в часовом поясе гражданских суток.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron    *cron.Cron
	catchUp *CatchUp
	spec    string
	loc     *time.Location
}

// NewScheduler создаёт планировщик задач в часовом поясе loc.
func NewScheduler(catchUp *CatchUp, spec string, loc *time.Location) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		catchUp: catchUp,
		spec:    spec,
		loc:     loc,
	}
}

// Start регистрирует задачи и запускает cron.
// Сразу после старта выполняется один догоняющий прогон: процесс мог простаивать.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		log.Info("[CRON] Ежедневный прогон начислений")
		if _, err := s.catchUp.EnsureUpToDate(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка прогона начислений")
		}
	})
	if err != nil {
		return fmt.Errorf("некорректное расписание CATCHUP_CRON %q: %w", s.spec, err)
	}

	s.cron.Start()
	log.WithFields(log.Fields{"spec": s.spec, "tz": s.loc.String()}).Info("Планировщик задач запущен")

	s.catchUp.Poke(ctx)
	return nil
}

// Stop останавливает планировщик и дожидается фоновых прогонов.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.catchUp.Wait()
	log.Info("Планировщик задач остановлен")
}
