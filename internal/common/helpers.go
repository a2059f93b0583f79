// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: ошибки, деньги, гражданские сутки, русская плюрализация.
package common

import (
	"time"
)

// CivilDay возвращает полночь календарного дня t в часовом поясе loc.
// Все «суточные» расчёты (начисления, сроки пакетов, догоняющий запуск)
// опираются на гражданские сутки, а не на полночь UTC.
func CivilDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// WholeDaysBetween считает число полных календарных дней от from до to в поясе loc.
// Время внутри суток не учитывается: 23:59 → 00:01 следующего дня = 1 день.
// Переходы на летнее время не влияют на результат.
func WholeDaysBetween(from, to time.Time, loc *time.Location) int {
	f := from.In(loc)
	t := to.In(loc)
	fu := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	tu := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(tu.Sub(fu).Hours() / 24)
}

// AddCivilDays сдвигает гражданский день на n суток (полночь → полночь).
func AddCivilDays(day time.Time, n int, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day()+n, 0, 0, 0, 0, loc)
}

// FormatDate форматирует дату в "02.01.2006".
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01.2006")
}

// FormatDateTime форматирует время в "02.01.2006 15:04".
// Используется для отображения дат транзакций.
func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01.2006 15:04")
}
