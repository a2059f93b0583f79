package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/features/settings"
	"blockmine.pro/mining-bot/internal/ledger"
	"blockmine.pro/mining-bot/internal/ledger/memstore"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := NewService(store)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc, store
}

func TestRegister(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	inviter, created, err := svc.Register(ctx, Profile{UserID: 1, Username: "alice"}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, inviter.OwnReferralCode, codeLength)
	assert.True(t, inviter.BalanceUSD.IsZero())

	buyer, created, err := svc.Register(ctx, Profile{UserID: 2, FirstName: "Bob"}, " "+inviter.OwnReferralCode+" ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, inviter.OwnReferralCode, buyer.ReferralCode)
	assert.NotEqual(t, inviter.OwnReferralCode, buyer.OwnReferralCode)

	n, err := store.CountReferrals(ctx, inviter.OwnReferralCode)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegister_ExistingUserKeepsReferralCode(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, _, err := svc.Register(ctx, Profile{UserID: 7, Username: "old"}, "AAAA")
	require.NoError(t, err)

	again, created, err := svc.Register(ctx, Profile{UserID: 7, Username: "new"}, "BBBB")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "AAAA", again.ReferralCode)
	assert.Equal(t, first.OwnReferralCode, again.OwnReferralCode)
	assert.Equal(t, "new", again.Username)
}

func TestAdjustBMT(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, _, err := svc.Register(ctx, Profile{UserID: 1}, "")
	require.NoError(t, err)

	bal, err := svc.AdjustBMT(ctx, 1, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.Equal(t, "50", bal.String())

	_, err = svc.AdjustBMT(ctx, 1, decimal.NewFromInt(-51))
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, err = svc.AdjustBMT(ctx, 99, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAdjustBalanceKeepsLedgerReconciled(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	_, _, err := svc.Register(ctx, Profile{UserID: 1}, "")
	require.NoError(t, err)

	_, err = svc.AdjustBalance(ctx, 1, ledger.WalletUSD, decimal.RequireFromString("25.50"), "")
	require.NoError(t, err)
	_, err = svc.AdjustBalance(ctx, 1, ledger.WalletUSD, decimal.RequireFromString("-30"), "")
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	rec, err := ledger.Reconcile(ctx, store, 1)
	require.NoError(t, err)
	assert.True(t, rec.OK())
	assert.Equal(t, "25.5", rec.Balance.String())
}

func TestSwap(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	settingsSvc := settings.NewService(store)

	_, _, err := svc.Register(ctx, Profile{UserID: 1}, "")
	require.NoError(t, err)
	_, err = svc.AdjustBMT(ctx, 1, decimal.NewFromInt(100))
	require.NoError(t, err)

	_, err = svc.Swap(ctx, 1, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, common.ErrFeatureDisabled)

	_, err = settingsSvc.Toggle(ctx, settings.FlagSwap)
	require.NoError(t, err)
	require.NoError(t, settingsSvc.SetBMTPrice(ctx, decimal.RequireFromString("0.25")))

	res, err := svc.Swap(ctx, 1, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, "2.5", res.USD.String())
	assert.Equal(t, "90", res.BMTAfter.String())

	_, err = svc.Swap(ctx, 1, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	require.NoError(t, svc.SetFrozen(ctx, 1, true))
	_, err = svc.Swap(ctx, 1, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, common.ErrAccountFrozen)

	txs, err := svc.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.KindSwap, txs[0].Kind)
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "📋 У вас пока нет операций", FormatHistory(nil))

	out := FormatHistory([]*ledger.Transaction{
		{Kind: ledger.KindEarnings, Wallet: ledger.WalletUSD, AmountUSD: decimal.RequireFromString("1.5"), CreatedAt: fixedNow},
		{Kind: ledger.KindPurchase, Wallet: ledger.WalletBonus, AmountUSD: decimal.RequireFromString("-10"), CreatedAt: fixedNow},
	})
	assert.Contains(t, out, "+$1.50 | Доход майнинга")
	assert.Contains(t, out, "-$10.00 🎁 | Покупка пакета")
}
