package referral

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmine.pro/mining-bot/internal/ledger"
	"blockmine.pro/mining-bot/internal/ledger/memstore"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T, store *memstore.Store, users ...*ledger.User) {
	t.Helper()
	err := store.InTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		for _, u := range users {
			if _, err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCommission(t *testing.T) {
	e := NewEngine(memstore.New(), d("0.15"))
	tests := []struct {
		price string
		want  string
	}{
		{"50", "7.5"},
		{"33.33", "5"},
		{"0.03", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			assert.True(t, d(tt.want).Equal(e.Commission(d(tt.price))), "got %s", e.Commission(d(tt.price)))
		})
	}
}

func TestResolveInviter(t *testing.T) {
	store := memstore.New()
	seed(t, store,
		&ledger.User{ID: 1, OwnReferralCode: "INV1"},
		&ledger.User{ID: 2, OwnReferralCode: "BUY2", ReferralCode: "INV1"},
	)
	e := NewEngine(store, d("0.15"))
	ctx := context.Background()

	tests := []struct {
		name   string
		buyer  *ledger.User
		wantID int64
	}{
		{"валидный код", &ledger.User{ID: 2, OwnReferralCode: "BUY2", ReferralCode: "inv1"}, 1},
		{"без кода", &ledger.User{ID: 2, OwnReferralCode: "BUY2"}, 0},
		{"свой код", &ledger.User{ID: 2, OwnReferralCode: "BUY2", ReferralCode: "BUY2"}, 0},
		{"устаревший код", &ledger.User{ID: 2, OwnReferralCode: "BUY2", ReferralCode: "GONE"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inviter, err := e.ResolveInviter(ctx, tt.buyer)
			require.NoError(t, err)
			if tt.wantID == 0 {
				assert.Nil(t, inviter)
				return
			}
			require.NotNil(t, inviter)
			assert.Equal(t, tt.wantID, inviter.ID)
		})
	}
}

func TestCreditAndOverview(t *testing.T) {
	store := memstore.New()
	seed(t, store,
		&ledger.User{ID: 1, OwnReferralCode: "INV1"},
		&ledger.User{ID: 2, OwnReferralCode: "BUY2", ReferralCode: "INV1"},
		&ledger.User{ID: 3, OwnReferralCode: "BUY3", ReferralCode: "INV1"},
	)
	e := NewEngine(store, d("0.15"))
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	pkg := &ledger.Package{ID: 9, Name: "S9", PriceUSD: d("50")}

	err := store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		inviter, err := tx.LockUser(ctx, 1)
		if err != nil {
			return err
		}
		buyer, err := tx.LockUser(ctx, 2)
		if err != nil {
			return err
		}
		row, err := e.Credit(ctx, tx, inviter, buyer, pkg, 100, now)
		if err != nil {
			return err
		}
		assert.Equal(t, ledger.KindReferralCommission, row.Kind)
		assert.Equal(t, "purchase:100", row.Ref)
		return nil
	})
	require.NoError(t, err)

	inviter, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "7.50", inviter.BalanceUSD.StringFixed(2))

	ov, err := e.Overview(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "INV1", ov.Code)
	assert.Equal(t, 2, ov.Invited)
	assert.Equal(t, "7.50", ov.TotalEarned.StringFixed(2))
	assert.Equal(t, "15", ov.CommissionPc.String())
}
