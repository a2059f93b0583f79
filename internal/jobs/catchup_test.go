package jobs

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
	"blockmine.pro/mining-bot/internal/features/mining"
	"blockmine.pro/mining-bot/internal/features/referral"
	"blockmine.pro/mining-bot/internal/features/settings"
	"blockmine.pro/mining-bot/internal/features/staking"
	"blockmine.pro/mining-bot/internal/ledger"
	"blockmine.pro/mining-bot/internal/ledger/memstore"
)

type fakeCycle struct {
	mu       sync.Mutex
	accruals []time.Time
	expiries []time.Time
	failOn   int // номер вызова начислений (с 1), который вернёт ошибку
	onAccrue func(n int)
}

func (f *fakeCycle) RunDailyEarningsCycle(ctx context.Context, day time.Time) (*mining.CycleReport, error) {
	f.mu.Lock()
	f.accruals = append(f.accruals, day)
	n := len(f.accruals)
	hook := f.onAccrue
	fail := f.failOn
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if n == fail {
		return nil, common.Configurationf("глобальная ставка начислений 0 <= 0")
	}
	return &mining.CycleReport{Day: day}, nil
}

func (f *fakeCycle) ExpireDuePurchases(ctx context.Context, asOf time.Time) (*mining.ExpiryReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiries = append(f.expiries, asOf)
	return &mining.ExpiryReport{}, nil
}

func (f *fakeCycle) accrualCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accruals)
}

type fakeUnlocker struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (f *fakeUnlocker) ProcessUnlocked(ctx context.Context, asOf time.Time) (*staking.UnlockReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, asOf)
	if f.err != nil {
		return nil, f.err
	}
	return &staking.UnlockReport{}, nil
}

type fixture struct {
	loc     *time.Location
	now     time.Time
	marker  *settings.Service
	cycle   *fakeCycle
	catchUp *CatchUp
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	f := &fixture{
		loc:    loc,
		now:    time.Date(2024, 5, 10, 9, 30, 0, 0, loc),
		marker: settings.NewService(memstore.New()),
		cycle:  &fakeCycle{},
	}
	f.catchUp = NewCatchUp(f.cycle, f.marker, loc, time.Hour)
	f.catchUp.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) setMarker(t *testing.T, at time.Time) {
	t.Helper()
	ok, err := f.marker.InitMarker(context.Background(), at)
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) currentMarker(t *testing.T) time.Time {
	t.Helper()
	m, err := f.marker.Marker(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	return *m
}

func TestEnsureUpToDate_FirstRunInitializesMarker(t *testing.T) {
	f := newFixture(t)

	res, err := f.catchUp.EnsureUpToDate(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Initialized)
	assert.Equal(t, 0, f.cycle.accrualCount())
	assert.True(t, f.currentMarker(t).Equal(f.now))
}

func TestEnsureUpToDate_SameDayIsNoop(t *testing.T) {
	f := newFixture(t)
	f.setMarker(t, f.now.Add(-9*time.Hour)) // 00:30 того же дня

	for i := 0; i < 2; i++ {
		res, err := f.catchUp.EnsureUpToDate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Days)
	}
	assert.Equal(t, 0, f.cycle.accrualCount())
}

// Маркер три дня назад.
func TestEnsureUpToDate_ReplaysMissedDaysInOrder(t *testing.T) {
	f := newFixture(t)
	f.setMarker(t, f.now.AddDate(0, 0, -3))

	res, err := f.catchUp.EnsureUpToDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Missed)
	assert.Equal(t, 3, res.Days)

	require.Len(t, f.cycle.accruals, 3)
	require.Len(t, f.cycle.expiries, 3)
	for i, day := range f.cycle.accruals {
		want := common.AddCivilDays(common.CivilDay(f.now, f.loc), i-2, f.loc)
		assert.True(t, day.Equal(want), "день %d: %s", i, day)
		assert.True(t, f.cycle.expiries[i].Equal(want))
	}
	assert.True(t, f.currentMarker(t).Equal(f.now))

	res, err = f.catchUp.EnsureUpToDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Days)
	assert.Equal(t, 3, f.cycle.accrualCount())
}

func TestEnsureUpToDate_FailureKeepsMarker(t *testing.T) {
	f := newFixture(t)
	marker := f.now.AddDate(0, 0, -3)
	f.setMarker(t, marker)
	f.cycle.failOn = 2

	res, err := f.catchUp.EnsureUpToDate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConfiguration)
	assert.Equal(t, 1, res.Days)
	assert.Len(t, f.cycle.expiries, 1, "после ошибки дня закрытие покупок не запускается")
	assert.True(t, f.currentMarker(t).Equal(marker))

	f.cycle.failOn = 0
	res, err = f.catchUp.EnsureUpToDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Days)
	assert.True(t, f.currentMarker(t).Equal(f.now))
}

func TestEnsureUpToDate_CancelStopsBetweenDays(t *testing.T) {
	f := newFixture(t)
	marker := f.now.AddDate(0, 0, -5)
	f.setMarker(t, marker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.cycle.onAccrue = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	res, err := f.catchUp.EnsureUpToDate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, res.Days, "начатый день доводится до конца")
	assert.Len(t, f.cycle.expiries, 2)
	assert.True(t, f.currentMarker(t).Equal(marker))
}

func TestEnsureUpToDate_UnlocksStakesEachDay(t *testing.T) {
	f := newFixture(t)
	f.setMarker(t, f.now.AddDate(0, 0, -2))
	stakes := &fakeUnlocker{}
	f.catchUp.WithStakes(stakes)

	res, err := f.catchUp.EnsureUpToDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Days)
	require.Len(t, stakes.calls, 2)
	for i := range stakes.calls {
		assert.True(t, stakes.calls[i].Equal(f.cycle.expiries[i]))
	}
}

func TestEnsureUpToDate_StakeFailureKeepsMarker(t *testing.T) {
	f := newFixture(t)
	marker := f.now.AddDate(0, 0, -2)
	f.setMarker(t, marker)
	f.catchUp.WithStakes(&fakeUnlocker{err: errors.New("connection reset")})

	res, err := f.catchUp.EnsureUpToDate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "закрытие стейков")
	assert.Equal(t, 0, res.Days)
	assert.True(t, f.currentMarker(t).Equal(marker))
}

func TestEnsureUpToDate_ConcurrentCallsRunOnce(t *testing.T) {
	f := newFixture(t)
	f.setMarker(t, f.now.AddDate(0, 0, -3))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.cycle.onAccrue = func(n int) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.catchUp.EnsureUpToDate(context.Background())
		errs <- err
	}()
	<-started
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.catchUp.EnsureUpToDate(context.Background())
			errs <- err
		}()
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 3, f.cycle.accrualCount())
}

func TestPoke_Throttled(t *testing.T) {
	f := newFixture(t)
	f.setMarker(t, f.now.AddDate(0, 0, -1))

	assert.True(t, f.catchUp.Poke(context.Background()))
	assert.False(t, f.catchUp.Poke(context.Background()))
	f.catchUp.Wait()
	assert.Equal(t, 1, f.cycle.accrualCount())
}

func TestPoke_CancelStopsBackgroundRunBetweenDays(t *testing.T) {
	f := newFixture(t)
	marker := f.now.AddDate(0, 0, -10)
	f.setMarker(t, marker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.cycle.onAccrue = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	require.True(t, f.catchUp.Poke(ctx))
	f.catchUp.Wait()

	assert.Equal(t, 2, f.cycle.accrualCount(), "после отмены новые дни не начинаются")
	assert.Len(t, f.cycle.expiries, 2)
	assert.True(t, f.currentMarker(t).Equal(marker))
}

// Прогон трёх пропущенных дней через настоящий движок начислений.
func TestEnsureUpToDate_WithAccrualEngine(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ctx := context.Background()
	store := memstore.New()
	now := time.Date(2024, 5, 10, 9, 30, 0, 0, loc)
	clock := now.AddDate(0, 0, -3)
	clockFn := func() time.Time { return clock }

	svc := mining.NewService(store, referral.NewEngine(store, decimal.RequireFromString("0.15")), loc)
	svc.SetClock(clockFn)
	engine := mining.NewAccrualEngine(store, decimal.RequireFromString("0.5"), nil, loc)
	engine.SetClock(clockFn)
	marker := settings.NewService(store)

	err = store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.CreateUser(ctx, &ledger.User{ID: 1}); err != nil {
			return err
		}
		u, err := tx.LockUser(ctx, 1)
		if err != nil {
			return err
		}
		_, err = ledger.Post(ctx, tx, u, ledger.Posting{Kind: ledger.KindDeposit, Amount: decimal.NewFromInt(100)}, clock)
		return err
	})
	require.NoError(t, err)
	pkg, err := svc.CreatePackage(ctx, mining.PackageInput{
		Name: "S19", PriceUSD: decimal.NewFromInt(50), MiningPower: decimal.NewFromInt(10), DurationDays: 30,
	})
	require.NoError(t, err)
	_, err = svc.Purchase(ctx, 1, pkg.ID)
	require.NoError(t, err)

	cu := NewCatchUp(engine, marker, loc, time.Minute)
	cu.SetClock(clockFn)
	res, err := cu.EnsureUpToDate(ctx)
	require.NoError(t, err)
	require.True(t, res.Initialized)

	clock = now
	res, err = cu.EnsureUpToDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Days)

	u, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "65", u.BalanceUSD.String())

	res, err = cu.EnsureUpToDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Days)
	u, _ = store.GetUser(ctx, 1)
	assert.Equal(t, "65", u.BalanceUSD.String())

	rec, err := ledger.Reconcile(ctx, store, 1)
	require.NoError(t, err)
	assert.True(t, rec.OK())
}
