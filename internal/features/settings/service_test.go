package settings

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger/memstore"
)

func TestGetCreatesDefaults(t *testing.T) {
	svc := NewService(memstore.New())

	st, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, st.StakeEnabled)
	assert.False(t, st.SwapEnabled)
	assert.Nil(t, st.LastMiningEarningsAt)
}

func TestToggle(t *testing.T) {
	svc := NewService(memstore.New())
	ctx := context.Background()

	on, err := svc.Toggle(ctx, FlagSwap)
	require.NoError(t, err)
	assert.True(t, on)

	off, err := svc.Toggle(ctx, FlagSwap)
	require.NoError(t, err)
	assert.False(t, off)

	_, err = svc.Toggle(ctx, Flag("casino"))
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestMarkerLifecycle(t *testing.T) {
	svc := NewService(memstore.New())
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	ok, err := svc.InitMarker(ctx, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.InitMarker(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "повторная инициализация не перезаписывает маркер")

	require.NoError(t, svc.AdvanceMarker(ctx, t0.Add(-time.Hour)))
	m, err := svc.Marker(ctx)
	require.NoError(t, err)
	assert.True(t, m.Equal(t0), "маркер не двигается назад")

	require.NoError(t, svc.AdvanceMarker(ctx, t0.Add(48*time.Hour)))
	m, _ = svc.Marker(ctx)
	assert.True(t, m.Equal(t0.Add(48*time.Hour)))
}

func TestDepositAddressesAndPrice(t *testing.T) {
	svc := NewService(memstore.New())
	ctx := context.Background()

	require.NoError(t, svc.SetDepositAddress(ctx, "usdt", "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"))
	require.NoError(t, svc.SetBMTPrice(ctx, decimal.RequireFromString("0.125")))
	assert.ErrorIs(t, svc.SetBMTPrice(ctx, decimal.Zero), common.ErrValidation)

	st, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE", st.DepositAddresses["USDT"])
	assert.Equal(t, "0.125", st.BMTPriceUSD.String())

	require.NoError(t, svc.SetDepositAddress(ctx, "USDT", ""))
	st, _ = svc.Get(ctx)
	_, ok := st.DepositAddresses["USDT"]
	assert.False(t, ok)
}
