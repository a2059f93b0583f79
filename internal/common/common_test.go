package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestWholeDaysBetween(t *testing.T) {
	loc := newYork(t)

	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{
			name: "same civil day",
			from: time.Date(2024, 3, 1, 0, 5, 0, 0, loc),
			to:   time.Date(2024, 3, 1, 23, 55, 0, 0, loc),
			want: 0,
		},
		{
			name: "one minute across midnight",
			from: time.Date(2024, 3, 1, 23, 59, 0, 0, loc),
			to:   time.Date(2024, 3, 2, 0, 0, 0, 0, loc),
			want: 1,
		},
		{
			name: "across spring DST switch",
			from: time.Date(2024, 3, 9, 12, 0, 0, 0, loc),
			to:   time.Date(2024, 3, 11, 1, 0, 0, 0, loc),
			want: 2,
		},
		{
			name: "civil day differs from UTC day",
			// 03:00 UTC 2 марта: это ещё 1 марта в Нью-Йорке
			from: time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC),
			to:   time.Date(2024, 3, 2, 12, 0, 0, 0, loc),
			want: 1,
		},
		{
			name: "backwards is negative",
			from: time.Date(2024, 3, 5, 0, 0, 0, 0, loc),
			to:   time.Date(2024, 3, 3, 0, 0, 0, 0, loc),
			want: -2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WholeDaysBetween(tt.from, tt.to, loc))
		})
	}
}

func TestCivilDayAndAddCivilDays(t *testing.T) {
	loc := newYork(t)
	ts := time.Date(2024, 11, 2, 22, 30, 0, 0, loc)

	day := CivilDay(ts, loc)
	assert.Equal(t, time.Date(2024, 11, 2, 0, 0, 0, 0, loc), day)

	// через переход на зимнее время (3 ноября) сутки остаются сутками
	next := AddCivilDays(day, 2, loc)
	assert.Equal(t, time.Date(2024, 11, 4, 0, 0, 0, 0, loc), next)
	assert.Equal(t, 2, WholeDaysBetween(day, next, loc))
}

func TestRound2AndFormat(t *testing.T) {
	assert.Equal(t, "7.5", Round2(decimal.RequireFromString("7.499999")).String())
	assert.Equal(t, "0.01", Round2(decimal.RequireFromString("0.005")).String())
	assert.Equal(t, "$7.50", FormatUSD(decimal.RequireFromString("7.5")))
	assert.Equal(t, "-$50.00", FormatSigned(decimal.NewFromInt(-50)))
	assert.Equal(t, "+$0.25", FormatSigned(decimal.RequireFromString("0.25")))
}

func TestParseUSD(t *testing.T) {
	d, err := ParseUSD(" $12,50 ")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.String())

	_, err = ParseUSD("десять")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorCategories(t *testing.T) {
	wrapped := fmt.Errorf("ошибка вывода: %w", ErrInsufficientBalance)
	assert.ErrorIs(t, wrapped, ErrValidation)
	assert.ErrorIs(t, wrapped, ErrInsufficientBalance)
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "❌ недостаточно средств на балансе", UserMessage(wrapped))

	conflict := fmt.Errorf("approve: %w", Conflict("deposit", 5, "approved", "approve"))
	assert.ErrorIs(t, conflict, ErrStateConflict)
	assert.Contains(t, UserMessage(conflict), "approved")

	assert.ErrorIs(t, NotFound("deposit", 9), ErrNotFound)
	assert.ErrorIs(t, Configurationf("rate %s", "0"), ErrConfiguration)
	assert.ErrorIs(t, Dependency("binance", errors.New("timeout")), ErrDependency)

	assert.Equal(t, "❌ Внутренняя ошибка, попробуйте позже", UserMessage(errors.New("pgx: conn closed")))
}

func TestPluralizeDays(t *testing.T) {
	cases := map[int]string{1: "день", 3: "дня", 5: "дней", 11: "дней", 21: "день", 112: "дней"}
	for n, want := range cases {
		assert.Equal(t, want, PluralizeDays(n), "n=%d", n)
	}
}
