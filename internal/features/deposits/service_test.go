package deposits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
	"blockmine.pro/mining-bot/internal/ledger/memstore"
)

type fakeRates struct {
	rate decimal.Decimal
	err  error
}

func (f fakeRates) LiveRate(ctx context.Context, coin string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	if coin == "USDT" || coin == "USDC" {
		return decimal.NewFromInt(1), nil
	}
	return f.rate, nil
}

type notification struct {
	userID int64
	amount string
	coin   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) NotifyDepositApproved(ctx context.Context, userID int64, amountUSD decimal.Decimal, coin, txRef string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{userID: userID, amount: amountUSD.String(), coin: coin})
}

func setup(t *testing.T) (*Service, *memstore.Store, *recordingNotifier) {
	t.Helper()
	store := memstore.New()
	err := store.InTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		for _, id := range []int64{1, 2} {
			if _, err := tx.CreateUser(ctx, &ledger.User{ID: id}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	n := &recordingNotifier{}
	svc := NewService(store, fakeRates{rate: decimal.NewFromInt(50000)}, n)
	svc.SetClock(func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) })
	return svc, store, n
}

func balance(t *testing.T, store *memstore.Store, id int64) *ledger.User {
	t.Helper()
	u, err := store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestCreate(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, CreateInput{UserID: 1, AmountUSD: decimal.RequireFromString("100.005"), Coin: "btc"})
	require.NoError(t, err)
	assert.Equal(t, ledger.DepositPending, d.Status)
	assert.Equal(t, ledger.SourceUser, d.Source)
	assert.Equal(t, "BTC", d.Coin)
	assert.Equal(t, "100.01", d.AmountUSD.String())
	assert.Equal(t, "0.0020002", d.ExpectedCoinAmount.String())
	assert.True(t, balance(t, store, 1).BalanceUSD.IsZero(), "создание заявки не меняет баланс")

	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"zero amount", CreateInput{UserID: 1, AmountUSD: decimal.Zero, Coin: "BTC"}, common.ErrValidation},
		{"negative amount", CreateInput{UserID: 1, AmountUSD: decimal.NewFromInt(-5), Coin: "BTC"}, common.ErrValidation},
		{"empty coin", CreateInput{UserID: 1, AmountUSD: decimal.NewFromInt(5)}, common.ErrValidation},
		{"unknown coin", CreateInput{UserID: 1, AmountUSD: decimal.NewFromInt(5), Coin: "DOGE"}, common.ErrValidation},
		{"unknown user", CreateInput{UserID: 9, AmountUSD: decimal.NewFromInt(5), Coin: "USDT"}, common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_OracleDownIsRetryable(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, fakeRates{err: common.Dependency("price oracle", errors.New("timeout"))}, nil)

	_, err := svc.Create(context.Background(), CreateInput{UserID: 1, AmountUSD: decimal.NewFromInt(10), Coin: "ETH"})
	assert.ErrorIs(t, err, common.ErrDependency)
}

// Повторное подтверждение заявки.
func TestApprove_ExactlyOnce(t *testing.T) {
	svc, store, n := setup(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, CreateInput{UserID: 1, AmountUSD: decimal.NewFromInt(40), Coin: "USDT", TxHash: "abc"})
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DepositApproved, approved.Status)
	require.NotNil(t, approved.ResolvedAt)

	_, err = svc.Approve(ctx, d.ID)
	require.ErrorIs(t, err, common.ErrStateConflict)
	var sc *common.StateConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, "approved", sc.State)

	_, err = svc.Reject(ctx, d.ID)
	assert.ErrorIs(t, err, common.ErrStateConflict)

	assert.Equal(t, "40", balance(t, store, 1).BalanceUSD.String())
	txs, _ := store.ListTransactions(ctx, 1, 0)
	assert.Len(t, txs, 1)
	assert.Equal(t, []notification{{userID: 1, amount: "40", coin: "USDT"}}, n.sent)
}

func TestRejectAndCancel(t *testing.T) {
	svc, store, n := setup(t)
	ctx := context.Background()

	d1, err := svc.Create(ctx, CreateInput{UserID: 1, AmountUSD: decimal.NewFromInt(10), Coin: "USDT"})
	require.NoError(t, err)
	d2, err := svc.Create(ctx, CreateInput{UserID: 1, AmountUSD: decimal.NewFromInt(10), Coin: "USDT"})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DepositRejected, rejected.Status)

	_, err = svc.Cancel(ctx, 2, d2.ID)
	assert.ErrorIs(t, err, common.ErrNotFound, "чужую заявку отменить нельзя")

	canceled, err := svc.Cancel(ctx, 1, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DepositCanceled, canceled.Status)

	_, err = svc.Approve(ctx, d2.ID)
	assert.ErrorIs(t, err, common.ErrStateConflict)

	_, err = svc.Approve(ctx, 404)
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.True(t, balance(t, store, 1).BalanceUSD.IsZero())
	assert.Empty(t, n.sent)
}

func TestAttachProof(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, CreateInput{UserID: 1, AmountUSD: decimal.NewFromInt(10), Coin: "USDT"})
	require.NoError(t, err)

	_, err = svc.AttachProof(ctx, 2, d.ID, "0xabc", 1)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = svc.AttachProof(ctx, 1, d.ID, " ", 1)
	assert.ErrorIs(t, err, common.ErrValidation)

	updated, err := svc.AttachProof(ctx, 1, d.ID, "0xabc", 3)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", updated.TxHash)
	assert.Equal(t, 3, updated.Confirmations)

	_, err = svc.Approve(ctx, d.ID)
	require.NoError(t, err)
	_, err = svc.AttachProof(ctx, 1, d.ID, "0xdef", 3)
	assert.ErrorIs(t, err, common.ErrStateConflict)
}

func TestManualDeposit(t *testing.T) {
	svc, store, n := setup(t)
	ctx := context.Background()

	d, err := svc.ManualDeposit(ctx, 1, decimal.NewFromInt(25), false, "компенсация")
	require.NoError(t, err)
	assert.Equal(t, ledger.DepositApproved, d.Status)
	assert.Equal(t, ledger.SourceAdmin, d.Source)

	bonus, err := svc.ManualDeposit(ctx, 1, decimal.NewFromInt(5), true, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceAdminBonus, bonus.Source)

	_, err = svc.ManualDeposit(ctx, 1, decimal.NewFromInt(5), true, "")
	assert.ErrorIs(t, err, common.ErrBonusAlreadyRedeemed)
	assert.ErrorIs(t, err, common.ErrStateConflict)

	u := balance(t, store, 1)
	assert.Equal(t, "25", u.BalanceUSD.String())
	assert.Equal(t, "5", u.BonusBalanceUSD.String())
	assert.True(t, u.WelcomeBonusRedeemed)
	assert.Empty(t, n.sent, "ручные пополнения не уведомляют пользователя")

	rec, err := ledger.Reconcile(ctx, store, 1)
	require.NoError(t, err)
	assert.True(t, rec.OK())
}
