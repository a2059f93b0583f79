package postgres

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmine.pro/mining-bot/internal/common"
)

// fakeRow отдаёт заранее заданные значения колонок.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("число колонок не совпадает")
	}
	for i, v := range r.values {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

var _ pgx.Row = fakeRow{}

func TestNotFound(t *testing.T) {
	nf := common.NotFound("deposit", 5)
	other := errors.New("connection reset")

	assert.ErrorIs(t, notFound(pgx.ErrNoRows, nf), common.ErrNotFound)
	assert.Equal(t, other, notFound(other, nf))
}

func TestNullableDecimal(t *testing.T) {
	assert.Nil(t, nullableDecimal(nil))
	rate := decimal.RequireFromString("0.75")
	assert.Equal(t, rate, nullableDecimal(&rate))
}

func TestScanPackage_EarningRate(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	row := func(rate decimal.NullDecimal) fakeRow {
		return fakeRow{values: []any{
			int64(3), "S19", decimal.NewFromInt(50), decimal.NewFromInt(10), 30, rate,
			decimal.Zero, true, now, now,
		}}
	}

	p, err := scanPackage(row(decimal.NullDecimal{}))
	require.NoError(t, err)
	assert.Nil(t, p.EarningRate, "NULL = глобальная ставка")

	p, err = scanPackage(row(decimal.NullDecimal{Decimal: decimal.RequireFromString("0.5"), Valid: true}))
	require.NoError(t, err)
	require.NotNil(t, p.EarningRate)
	assert.Equal(t, "0.5", p.EarningRate.String())
	assert.Equal(t, int64(3), p.ID)
}

func TestScanSettings_NilAddressesBecomeEmptyMap(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s, err := scanSettings(fakeRow{values: []any{
		true, false, decimal.Zero, map[string]string(nil), (*time.Time)(nil), now,
	}})
	require.NoError(t, err)
	assert.True(t, s.StakeEnabled)
	assert.NotNil(t, s.DepositAddresses)
	assert.Empty(t, s.DepositAddresses)
	assert.Nil(t, s.LastMiningEarningsAt)
}

func TestScanStake(t *testing.T) {
	start := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	st, err := scanStake(fakeRow{values: []any{
		int64(9), int64(1), decimal.NewFromInt(40), decimal.RequireFromString("0.4"), 14,
		start, start.AddDate(0, 0, 14), true, false, false,
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(9), st.ID)
	assert.Equal(t, "5.6", st.TotalReward().String())
	assert.True(t, st.IsActive)

	_, err = scanStake(fakeRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}
