// Package memstore реализует ledger.Store в памяти.
// Используется в тестах и для локального запуска без PostgreSQL.
//
// Каждая InTx работает с копией состояния под общим мьютексом и подменяет
// состояние только при успехе, поэтому ошибка внутри fn откатывает всё.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

type state struct {
	users        map[int64]ledger.User
	packages     map[int64]ledger.Package
	purchases    map[int64]ledger.MiningPurchase
	stakes       map[int64]ledger.Stake
	deposits     map[int64]ledger.Deposit
	withdrawals  map[int64]ledger.Withdrawal
	transactions []ledger.Transaction
	settings     *ledger.Settings
	seq          int64
}

func (s *state) clone() *state {
	c := &state{
		users:        maps.Clone(s.users),
		packages:     maps.Clone(s.packages),
		purchases:    maps.Clone(s.purchases),
		stakes:       maps.Clone(s.stakes),
		deposits:     maps.Clone(s.deposits),
		withdrawals:  maps.Clone(s.withdrawals),
		transactions: append([]ledger.Transaction(nil), s.transactions...),
		seq:          s.seq,
	}
	if s.settings != nil {
		c.settings = copySettings(s.settings)
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store: потокобезопасная реализация ledger.Store.
type Store struct {
	mu    sync.Mutex
	st    *state
	fails map[int64]error
}

var _ ledger.Store = (*Store)(nil)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		st: &state{
			users:       make(map[int64]ledger.User),
			packages:    make(map[int64]ledger.Package),
			purchases:   make(map[int64]ledger.MiningPurchase),
			stakes:      make(map[int64]ledger.Stake),
			deposits:    make(map[int64]ledger.Deposit),
			withdrawals: make(map[int64]ledger.Withdrawal),
		},
		fails: make(map[int64]error),
	}
}

// FailSaveUser заставляет SaveUser для userID возвращать err (nil снимает сбой).
func (s *Store) FailSaveUser(userID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fails, userID)
		return
	}
	s.fails[userID] = err
}

// InTx выполняет fn атомарно.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, fails: s.fails}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) FindUserByReferralCode(ctx context.Context, code string) (*ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, u := range s.st.users {
		if u.OwnReferralCode == code {
			return &u, nil
		}
	}
	return nil, common.NotFound("referral code", code)
}

func (s *Store) CountReferrals(ctx context.Context, ownCode string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.st.users {
		if u.ReferralCode == ownCode && u.OwnReferralCode != ownCode {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetPackage(ctx context.Context, id int64) (*ledger.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.packages[id]
	if !ok {
		return nil, common.NotFound("package", id)
	}
	return &p, nil
}

func (s *Store) ListPackages(ctx context.Context, onlyListed bool) ([]*ledger.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Package
	for _, p := range s.st.packages {
		if onlyListed && !p.IsListed {
			continue
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListPurchasesByUser(ctx context.Context, userID int64) ([]*ledger.MiningPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return purchasesWhere(s.st, func(p *ledger.MiningPurchase) bool { return p.UserID == userID }), nil
}

func (s *Store) ListUserIDsWithActivePurchases(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]struct{})
	var ids []int64
	for _, p := range s.st.purchases {
		if !p.IsActive {
			continue
		}
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		ids = append(ids, p.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) ListStakesByUser(ctx context.Context, userID int64) ([]*ledger.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := stakesWhere(s.st, func(st *ledger.Stake) bool { return st.UserID == userID })
	slices.Reverse(out)
	return out, nil
}

func (s *Store) ListUserIDsWithDueStakes(ctx context.Context, asOf time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]struct{})
	var ids []int64
	for _, st := range stakesWhere(s.st, dueStake(0, asOf)) {
		if _, ok := seen[st.UserID]; ok {
			continue
		}
		seen[st.UserID] = struct{}{}
		ids = append(ids, st.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) GetDeposit(ctx context.Context, id int64) (*ledger.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.deposits[id]
	if !ok {
		return nil, common.NotFound("deposit", id)
	}
	return &d, nil
}

func (s *Store) ListDeposits(ctx context.Context, status ledger.DepositStatus, limit int) ([]*ledger.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Deposit
	for _, d := range s.st.deposits {
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id int64) (*ledger.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.withdrawals[id]
	if !ok {
		return nil, common.NotFound("withdrawal", id)
	}
	return &w, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, status ledger.WithdrawalStatus, limit int) ([]*ledger.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Withdrawal
	for _, w := range s.st.withdrawals {
		if status != "" && w.Status != status {
			continue
		}
		out = append(out, &w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID int64, limit int) ([]*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Transaction
	for i := len(s.st.transactions) - 1; i >= 0; i-- {
		t := s.st.transactions[i]
		if t.UserID != userID {
			continue
		}
		out = append(out, &t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SumTransactions(ctx context.Context, f ledger.TxFilter) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for i := range s.st.transactions {
		if f.Match(&s.st.transactions[i]) {
			sum = sum.Add(s.st.transactions[i].AmountUSD)
		}
	}
	return sum, nil
}

func (s *Store) Stats(ctx context.Context) (*ledger.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &ledger.Stats{
		Users:              len(s.st.users),
		ApprovedDepositUSD: decimal.Zero,
		WithdrawnUSD:       decimal.Zero,
		EarningsUSD:        decimal.Zero,
	}
	for _, u := range s.st.users {
		st.EarningsUSD = st.EarningsUSD.Add(u.EarningsUSD)
	}
	for _, p := range s.st.purchases {
		if p.IsActive {
			st.ActivePurchases++
		}
	}
	for _, d := range s.st.deposits {
		switch d.Status {
		case ledger.DepositApproved:
			st.ApprovedDepositUSD = st.ApprovedDepositUSD.Add(d.AmountUSD)
		case ledger.DepositPending:
			st.PendingDeposits++
		}
	}
	for _, w := range s.st.withdrawals {
		if w.Status == ledger.WithdrawalRejected {
			continue
		}
		st.WithdrawnUSD = st.WithdrawnUSD.Add(w.AmountUSD)
		if w.Status == ledger.WithdrawalPending {
			st.PendingWithdrawals++
		}
	}
	return st, nil
}

func (s *Store) Settings(ctx context.Context) (*ledger.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.settings == nil {
		s.st.settings = defaultSettings()
	}
	return copySettings(s.st.settings), nil
}

// tx: представление рабочей копии состояния внутри InTx.
type tx struct {
	st    *state
	fails map[int64]error
}

func (t *tx) LockUser(ctx context.Context, id int64) (*ledger.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return &u, nil
}

func (t *tx) CreateUser(ctx context.Context, u *ledger.User) (bool, error) {
	if _, ok := t.st.users[u.ID]; ok {
		return false, nil
	}
	for _, other := range t.st.users {
		if u.OwnReferralCode != "" && other.OwnReferralCode == u.OwnReferralCode {
			return false, fmt.Errorf("реферальный код %s уже занят", u.OwnReferralCode)
		}
	}
	t.st.users[u.ID] = *u
	return true, nil
}

func (t *tx) SaveUser(ctx context.Context, u *ledger.User) error {
	if err := t.fails[u.ID]; err != nil {
		return err
	}
	if _, ok := t.st.users[u.ID]; !ok {
		return common.ErrUserNotFound
	}
	t.st.users[u.ID] = *u
	return nil
}

func (t *tx) InsertTransaction(ctx context.Context, tr *ledger.Transaction) error {
	t.st.transactions = append(t.st.transactions, *tr)
	return nil
}

func (t *tx) CreatePackage(ctx context.Context, p *ledger.Package) error {
	p.ID = t.st.nextID()
	t.st.packages[p.ID] = *p
	return nil
}

func (t *tx) LockPackage(ctx context.Context, id int64) (*ledger.Package, error) {
	p, ok := t.st.packages[id]
	if !ok {
		return nil, common.NotFound("package", id)
	}
	return &p, nil
}

func (t *tx) UpdatePackage(ctx context.Context, p *ledger.Package) error {
	if _, ok := t.st.packages[p.ID]; !ok {
		return common.NotFound("package", p.ID)
	}
	t.st.packages[p.ID] = *p
	return nil
}

func (t *tx) DeletePackage(ctx context.Context, id int64) error {
	if _, ok := t.st.packages[id]; !ok {
		return common.NotFound("package", id)
	}
	delete(t.st.packages, id)
	return nil
}

func (t *tx) CreatePurchase(ctx context.Context, p *ledger.MiningPurchase) error {
	p.ID = t.st.nextID()
	t.st.purchases[p.ID] = *p
	return nil
}

func (t *tx) LockPurchase(ctx context.Context, id int64) (*ledger.MiningPurchase, error) {
	p, ok := t.st.purchases[id]
	if !ok {
		return nil, common.NotFound("purchase", id)
	}
	return &p, nil
}

func (t *tx) LockActivePurchases(ctx context.Context, userID int64) ([]*ledger.MiningPurchase, error) {
	return purchasesWhere(t.st, func(p *ledger.MiningPurchase) bool {
		return p.UserID == userID && p.IsActive
	}), nil
}

func (t *tx) UpdatePurchase(ctx context.Context, p *ledger.MiningPurchase) error {
	if _, ok := t.st.purchases[p.ID]; !ok {
		return common.NotFound("purchase", p.ID)
	}
	t.st.purchases[p.ID] = *p
	return nil
}

func (t *tx) CreateStake(ctx context.Context, st *ledger.Stake) error {
	st.ID = t.st.nextID()
	t.st.stakes[st.ID] = *st
	return nil
}

func (t *tx) LockDueStakes(ctx context.Context, userID int64, asOf time.Time) ([]*ledger.Stake, error) {
	return stakesWhere(t.st, dueStake(userID, asOf)), nil
}

func (t *tx) UpdateStake(ctx context.Context, st *ledger.Stake) error {
	if _, ok := t.st.stakes[st.ID]; !ok {
		return common.NotFound("stake", st.ID)
	}
	t.st.stakes[st.ID] = *st
	return nil
}

func (t *tx) CreateDeposit(ctx context.Context, d *ledger.Deposit) error {
	d.ID = t.st.nextID()
	t.st.deposits[d.ID] = *d
	return nil
}

func (t *tx) LockDeposit(ctx context.Context, id int64) (*ledger.Deposit, error) {
	d, ok := t.st.deposits[id]
	if !ok {
		return nil, common.NotFound("deposit", id)
	}
	return &d, nil
}

func (t *tx) UpdateDeposit(ctx context.Context, d *ledger.Deposit) error {
	if _, ok := t.st.deposits[d.ID]; !ok {
		return common.NotFound("deposit", d.ID)
	}
	t.st.deposits[d.ID] = *d
	return nil
}

func (t *tx) CreateWithdrawal(ctx context.Context, w *ledger.Withdrawal) error {
	w.ID = t.st.nextID()
	t.st.withdrawals[w.ID] = *w
	return nil
}

func (t *tx) LockWithdrawal(ctx context.Context, id int64) (*ledger.Withdrawal, error) {
	w, ok := t.st.withdrawals[id]
	if !ok {
		return nil, common.NotFound("withdrawal", id)
	}
	return &w, nil
}

func (t *tx) UpdateWithdrawal(ctx context.Context, w *ledger.Withdrawal) error {
	if _, ok := t.st.withdrawals[w.ID]; !ok {
		return common.NotFound("withdrawal", w.ID)
	}
	t.st.withdrawals[w.ID] = *w
	return nil
}

func (t *tx) LockSettings(ctx context.Context) (*ledger.Settings, error) {
	if t.st.settings == nil {
		t.st.settings = defaultSettings()
	}
	return copySettings(t.st.settings), nil
}

func (t *tx) UpdateSettings(ctx context.Context, s *ledger.Settings) error {
	t.st.settings = copySettings(s)
	return nil
}

func purchasesWhere(st *state, keep func(p *ledger.MiningPurchase) bool) []*ledger.MiningPurchase {
	var out []*ledger.MiningPurchase
	for _, p := range st.purchases {
		if keep(&p) {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// stakesWhere возвращает стейки по возрастанию ID.
func stakesWhere(st *state, keep func(s *ledger.Stake) bool) []*ledger.Stake {
	var out []*ledger.Stake
	for _, s := range st.stakes {
		if keep(&s) {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// dueStake: активный стейк с наступившим UnlockAt; userID 0 = любой пользователь.
func dueStake(userID int64, asOf time.Time) func(s *ledger.Stake) bool {
	return func(s *ledger.Stake) bool {
		if userID != 0 && s.UserID != userID {
			return false
		}
		return s.IsActive && !s.UnlockAt.After(asOf)
	}
}

func defaultSettings() *ledger.Settings {
	return &ledger.Settings{
		BMTPriceUSD:      decimal.Zero,
		DepositAddresses: map[string]string{},
	}
}

func copySettings(s *ledger.Settings) *ledger.Settings {
	c := *s
	c.DepositAddresses = maps.Clone(s.DepositAddresses)
	if c.DepositAddresses == nil {
		c.DepositAddresses = map[string]string{}
	}
	return &c
}
