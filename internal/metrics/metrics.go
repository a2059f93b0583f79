// Package metrics описывает Prometheus-метрики бота.
// Все коллекторы регистрируются в собственном Registry, который отдаёт ops-сервер.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry содержит коллекторы приложения.
var Registry = prometheus.NewRegistry()

var (
	ledgerPostings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Проводки в журнале транзакций по типам.",
		},
		[]string{"kind"},
	)

	accrualCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "accrual",
			Name:      "cycles_total",
			Help:      "Запуски суточного цикла начислений.",
		},
		[]string{"result"},
	)

	accrualCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "accrual",
			Name:      "credited_usd_total",
			Help:      "Сумма начисленного майнинг-дохода, USD.",
		},
	)

	accrualUserFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "accrual",
			Name:      "user_failures_total",
			Help:      "Пользователи, которых не удалось обработать в цикле.",
		},
	)

	purchasesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "purchases",
			Name:      "expired_total",
			Help:      "Покупки, переведённые в неактивные по сроку.",
		},
	)

	principalRefunded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "purchases",
			Name:      "principal_refunded_usd_total",
			Help:      "Возвращённое тело пакетов, USD.",
		},
	)

	stakesSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "staking",
			Name:      "events_total",
			Help:      "Открытые и закрытые стейки BMT.",
		},
		[]string{"event"},
	)

	catchupDays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "catchup",
			Name:      "days_replayed_total",
			Help:      "Сутки, прогнанные догоняющим планировщиком.",
		},
	)

	catchupLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "miningbot",
			Subsystem: "catchup",
			Name:      "last_success_timestamp_seconds",
			Help:      "Время последнего успешного продвижения маркера.",
		},
	)

	oracleFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "miningbot",
			Subsystem: "oracle",
			Name:      "fallbacks_total",
			Help:      "Обращения к резервному источнику или статическому курсу.",
		},
		[]string{"pair", "stage"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "miningbot",
			Subsystem: "accrual",
			Name:      "cycle_duration_seconds",
			Help:      "Длительность суточного цикла начислений.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		},
	)
)

func init() {
	Registry.MustRegister(
		ledgerPostings,
		accrualCycles,
		accrualCredited,
		accrualUserFailures,
		purchasesExpired,
		principalRefunded,
		stakesSettled,
		catchupDays,
		catchupLastSuccess,
		oracleFallbacks,
		cycleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordPosting учитывает одну проводку журнала.
func RecordPosting(kind string) {
	ledgerPostings.WithLabelValues(kind).Inc()
}

// RecordAccrualCycle учитывает завершённый цикл начислений.
func RecordAccrualCycle(result string, duration time.Duration) {
	accrualCycles.WithLabelValues(result).Inc()
	cycleDuration.Observe(duration.Seconds())
}

// RecordAccrualCredit учитывает начисленную сумму.
func RecordAccrualCredit(usd float64) {
	accrualCredited.Add(usd)
}

// RecordAccrualUserFailure учитывает пропущенного из-за ошибки пользователя.
func RecordAccrualUserFailure() {
	accrualUserFailures.Inc()
}

// RecordExpiry учитывает истёкшую покупку и возвращённое тело.
func RecordExpiry(refundUSD float64) {
	purchasesExpired.Inc()
	if refundUSD > 0 {
		principalRefunded.Add(refundUSD)
	}
}

// RecordStake учитывает событие стейка: "opened" или "unlocked".
func RecordStake(event string) {
	stakesSettled.WithLabelValues(event).Inc()
}

// RecordCatchUp учитывает успешный догоняющий прогон.
func RecordCatchUp(days int, at time.Time) {
	catchupDays.Add(float64(days))
	catchupLastSuccess.Set(float64(at.Unix()))
}

// RecordOracleFallback учитывает переход на резервный источник ("failover") или статику ("static").
func RecordOracleFallback(pair, stage string) {
	oracleFallbacks.WithLabelValues(pair, stage).Inc()
}
