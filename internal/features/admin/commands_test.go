package admin

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/features/accounts"
	"blockmine.pro/mining-bot/internal/features/deposits"
	"blockmine.pro/mining-bot/internal/features/mining"
	"blockmine.pro/mining-bot/internal/features/referral"
	"blockmine.pro/mining-bot/internal/features/settings"
	"blockmine.pro/mining-bot/internal/features/withdrawals"
	"blockmine.pro/mining-bot/internal/jobs"
	"blockmine.pro/mining-bot/internal/ledger"
	"blockmine.pro/mining-bot/internal/ledger/memstore"
)

type fakeCatchUp struct {
	result *jobs.CatchUpResult
	calls  int
}

func (f *fakeCatchUp) EnsureUpToDate(ctx context.Context) (*jobs.CatchUpResult, error) {
	f.calls++
	return f.result, nil
}

type commandsFixture struct {
	cmds    *Commands
	store   *memstore.Store
	svc     Services
	catchUp *fakeCatchUp
}

func newCommandsFixture(t *testing.T) *commandsFixture {
	t.Helper()
	store := memstore.New()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	err := store.InTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		for _, id := range []int64{1, 2} {
			if _, err := tx.CreateUser(ctx, &ledger.User{ID: id, OwnReferralCode: fmt.Sprintf("CODE%d", id)}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	acc := accounts.NewService(store)
	acc.SetClock(clock)
	miningSvc := mining.NewService(store, referral.NewEngine(store, decimal.RequireFromString("0.15")), time.UTC)
	miningSvc.SetClock(clock)
	dep := deposits.NewService(store, nil, nil)
	dep.SetClock(clock)
	wd := withdrawals.NewService(store, decimal.NewFromInt(20))
	wd.SetClock(clock)
	st := settings.NewService(store)
	st.SetClock(clock)

	catchUp := &fakeCatchUp{result: &jobs.CatchUpResult{Days: 3, Missed: 3}}
	svc := Services{
		Store:       store,
		Accounts:    acc,
		Mining:      miningSvc,
		Deposits:    dep,
		Withdrawals: wd,
		Settings:    st,
		CatchUp:     catchUp,
	}
	return &commandsFixture{cmds: NewCommands(svc), store: store, svc: svc, catchUp: catchUp}
}

func (f *commandsFixture) exec(t *testing.T, line ...string) (string, error) {
	t.Helper()
	return f.cmds.Exec(context.Background(), line[0], line[1:])
}

func (f *commandsFixture) user(t *testing.T, id int64) *ledger.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestExec_ArgumentErrors(t *testing.T) {
	f := newCommandsFixture(t)

	tests := []struct {
		name string
		line []string
	}{
		{"unknown command", []string{"drop_tables"}},
		{"missing args", []string{"dep_approve"}},
		{"bad id", []string{"dep_approve", "abc"}},
		{"negative id", []string{"freeze", "-1"}},
		{"bad amount", []string{"dep_manual", "1", "ten"}},
		{"bad edit field", []string{"pkg_edit", "1", "color", "red"}},
		{"unknown flag", []string{"toggle", "casino"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.exec(t, tt.line...)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
	assert.True(t, f.cmds.Has("dep_manual"))
	assert.False(t, f.cmds.Has("admin"))
}

func TestExec_ManualDeposits(t *testing.T) {
	f := newCommandsFixture(t)

	reply, err := f.exec(t, "dep_manual", "1", "100", "перевод", "на", "карту")
	require.NoError(t, err)
	assert.Contains(t, reply, "$100.00")
	assert.Equal(t, "100", f.user(t, 1).BalanceUSD.String())

	_, err = f.exec(t, "dep_manual", "1", "5", "bonus")
	require.NoError(t, err)
	assert.Equal(t, "5", f.user(t, 1).BonusBalanceUSD.String())

	_, err = f.exec(t, "dep_manual", "1", "5", "bonus")
	assert.ErrorIs(t, err, common.ErrBonusAlreadyRedeemed)

	approved, err := f.store.ListDeposits(context.Background(), ledger.DepositApproved, 10)
	require.NoError(t, err)
	require.Len(t, approved, 2)
	for _, d := range approved {
		_, err := f.exec(t, "dep_approve", fmt.Sprint(d.ID))
		assert.ErrorIs(t, err, common.ErrStateConflict, "подтверждённое пополнение не зачисляется повторно")
	}
	assert.Equal(t, "100", f.user(t, 1).BalanceUSD.String())

	reply, err = f.exec(t, "reconcile", "1")
	require.NoError(t, err)
	assert.Contains(t, reply, "Сходится")
}

func TestExec_WithdrawalLifecycle(t *testing.T) {
	f := newCommandsFixture(t)
	ctx := context.Background()

	_, err := f.exec(t, "dep_manual", "1", "100")
	require.NoError(t, err)
	w1, err := f.svc.Withdrawals.Request(ctx, 1, decimal.NewFromInt(40), "trc20", "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE")
	require.NoError(t, err)
	w2, err := f.svc.Withdrawals.Request(ctx, 1, decimal.NewFromInt(30), "trc20", "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE")
	require.NoError(t, err)

	reply, err := f.exec(t, "pending")
	require.NoError(t, err)
	assert.Contains(t, reply, fmt.Sprintf("#%d", w1.ID))
	assert.Contains(t, reply, fmt.Sprintf("#%d", w2.ID))

	_, err = f.exec(t, "wd_approve", fmt.Sprint(w1.ID))
	require.NoError(t, err)
	reply, err = f.exec(t, "wd_paid", fmt.Sprint(w1.ID))
	require.NoError(t, err)
	assert.Contains(t, reply, "paid")

	_, err = f.exec(t, "wd_reject", fmt.Sprint(w2.ID))
	require.NoError(t, err)
	assert.Equal(t, "60", f.user(t, 1).BalanceUSD.String(), "отклонённый вывод вернулся на баланс")

	_, err = f.exec(t, "wd_reject", fmt.Sprint(w1.ID))
	assert.ErrorIs(t, err, common.ErrStateConflict)
}

func TestExec_PackagesAndPurchases(t *testing.T) {
	f := newCommandsFixture(t)
	ctx := context.Background()

	reply, err := f.exec(t, "pkg_add", "Starter_S1", "100", "10", "30", "0.05", "5")
	require.NoError(t, err)
	assert.Contains(t, reply, "Starter S1")

	pkgs, err := f.svc.Mining.ListPackages(ctx, false)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	pkgID := fmt.Sprint(pkgs[0].ID)
	require.NotNil(t, pkgs[0].EarningRate)
	assert.Equal(t, "0.05", pkgs[0].EarningRate.String())

	_, err = f.exec(t, "pkg_edit", pkgID, "rate", "global")
	require.NoError(t, err)
	_, err = f.exec(t, "pkg_edit", pkgID, "listed", "false")
	require.NoError(t, err)
	p, err := f.store.GetPackage(ctx, pkgs[0].ID)
	require.NoError(t, err)
	assert.Nil(t, p.EarningRate)
	assert.False(t, p.IsListed)

	reply, err = f.exec(t, "pkg_list")
	require.NoError(t, err)
	assert.Contains(t, reply, "скрыт")

	_, err = f.exec(t, "attach", "2", pkgID)
	require.NoError(t, err, "админ выдаёт и скрытый пакет")
	purchases, err := f.store.ListPurchasesByUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.True(t, purchases[0].PrincipalUSD.IsZero())

	_, err = f.exec(t, "detach", fmt.Sprint(purchases[0].ID))
	require.NoError(t, err)
	_, err = f.exec(t, "detach", fmt.Sprint(purchases[0].ID))
	assert.ErrorIs(t, err, common.ErrStateConflict)

	_, err = f.exec(t, "pkg_del", pkgID)
	require.NoError(t, err)
}

func TestExec_UserManagement(t *testing.T) {
	f := newCommandsFixture(t)

	_, err := f.exec(t, "dep_manual", "1", "50")
	require.NoError(t, err)

	reply, err := f.exec(t, "adjust", "1", "-20.5", "штраф")
	require.NoError(t, err)
	assert.Contains(t, reply, "-$20.50")
	assert.Equal(t, "29.5", f.user(t, 1).BalanceUSD.String())

	_, err = f.exec(t, "adjust", "1", "-1000")
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	reply, err = f.exec(t, "bmt", "1", "12.5")
	require.NoError(t, err)
	assert.Contains(t, reply, "12.5")
	_, err = f.exec(t, "bmt", "1", "-13")
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, err = f.exec(t, "freeze", "1")
	require.NoError(t, err)
	assert.True(t, f.user(t, 1).IsFrozen)
	reply, err = f.exec(t, "user", "1")
	require.NoError(t, err)
	assert.Contains(t, reply, "Заморожен")

	_, err = f.exec(t, "unfreeze", "1")
	require.NoError(t, err)
	assert.False(t, f.user(t, 1).IsFrozen)

	reply, err = f.exec(t, "reconcile", "1")
	require.NoError(t, err)
	assert.Contains(t, reply, "Сходится")

	_, err = f.exec(t, "user", "999")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExec_Settings(t *testing.T) {
	f := newCommandsFixture(t)
	ctx := context.Background()

	reply, err := f.exec(t, "toggle", "swap")
	require.NoError(t, err)
	assert.Contains(t, reply, "включён")

	_, err = f.exec(t, "bmt_price", "0.25")
	require.NoError(t, err)
	_, err = f.exec(t, "bmt_price", "0")
	assert.Error(t, err)

	_, err = f.exec(t, "address", "usdt", "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE")
	require.NoError(t, err)

	st, err := f.svc.Settings.Get(ctx)
	require.NoError(t, err)
	assert.True(t, st.SwapEnabled)
	assert.Equal(t, "0.25", st.BMTPriceUSD.String())
	assert.Equal(t, "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE", st.DepositAddresses["USDT"])

	_, err = f.exec(t, "address", "usdt")
	require.NoError(t, err)
	st, err = f.svc.Settings.Get(ctx)
	require.NoError(t, err)
	assert.NotContains(t, st.DepositAddresses, "USDT")
}

func TestExec_System(t *testing.T) {
	f := newCommandsFixture(t)

	reply, err := f.exec(t, "catchup")
	require.NoError(t, err)
	assert.Equal(t, "✅ Прогнано 3 дня", reply)
	assert.Equal(t, 1, f.catchUp.calls)

	f.catchUp.result = &jobs.CatchUpResult{}
	reply, err = f.exec(t, "catchup")
	require.NoError(t, err)
	assert.Contains(t, reply, "актуальны")

	_, err = f.exec(t, "dep_manual", "2", "10")
	require.NoError(t, err)
	reply, err = f.exec(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, reply, "Пользователей: 2")
	assert.Contains(t, reply, "Пополнено: $10.00")

	reply, err = f.exec(t, "help")
	require.NoError(t, err)
	assert.Contains(t, reply, "/dep_manual")
}

func TestParseCommand(t *testing.T) {
	h := &Handler{commands: newCommandsFixture(t).cmds}

	tests := []struct {
		text    string
		name    string
		args    []string
		isAdmin bool
	}{
		{"/dep_approve 5", "dep_approve", []string{"5"}, true},
		{"/Stats@MiningBot", "stats", []string{}, true},
		{"/start ABC", "", nil, false},
		{"/admin", "", nil, false},
		{"/help", "", nil, false},
		{"dep_approve 5", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := h.parseCommand(tt.text)
			assert.Equal(t, tt.isAdmin, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}

	assert.True(t, isPanelInput("/admin"))
	assert.True(t, isPanelInput(btnPending))
	assert.False(t, isPanelInput("/balance"))
}
