// Package postgres: store.go реализует ledger.Store поверх PostgreSQL.
//
// Lock*-методы читают строку с FOR UPDATE: блокировка держится до конца
// транзакции InTx, поэтому операции над одним пользователем, заявкой или
// покупкой выполняются строго по очереди даже на нескольких репликах бота.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

// querier: общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store хранит сущности учёта в PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// NewStore создаёт хранилище поверх пула соединений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx выполняет fn в транзакции READ COMMITTED.
// Ошибка fn откатывает все записи транзакции.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// --- Колонки и сканирование ---

const userColumns = `id, username, first_name, balance_usd, bonus_balance_usd, earnings_usd,
	bmt_balance, is_frozen, welcome_bonus_redeemed, referral_code, own_referral_code,
	created_at, updated_at`

const packageColumns = `id, name, price_usd, mining_power, duration_days, earning_rate,
	bmt_reward, is_listed, created_at, updated_at`

const purchaseColumns = `id, user_id, package_id, purchase_date, duration_days, is_active,
	earnings_usd, principal_usd, principal_refunded, accrued_through, created_at`

const stakeColumns = `id, user_id, amount, daily_reward, lock_days, started_at, unlock_at,
	is_active, refunded, credited`

const depositColumns = `id, user_id, amount_usd, coin, network, expected_coin_amount,
	quote_rate, tx_hash, confirmations, status, source, note, created_at, resolved_at`

const withdrawalColumns = `id, user_id, amount_usd, method, details, status, created_at, processed_at`

const transactionColumns = `id, user_id, kind, wallet, amount_usd, note, ref, created_at`

func scanUser(row pgx.Row) (*ledger.User, error) {
	var u ledger.User
	err := row.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.BalanceUSD, &u.BonusBalanceUSD, &u.EarningsUSD,
		&u.BMTBalance, &u.IsFrozen, &u.WelcomeBonusRedeemed, &u.ReferralCode, &u.OwnReferralCode,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanPackage(row pgx.Row) (*ledger.Package, error) {
	var p ledger.Package
	var rate decimal.NullDecimal
	err := row.Scan(
		&p.ID, &p.Name, &p.PriceUSD, &p.MiningPower, &p.DurationDays, &rate,
		&p.BMTReward, &p.IsListed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rate.Valid {
		p.EarningRate = &rate.Decimal
	}
	return &p, nil
}

func scanPurchase(row pgx.Row) (*ledger.MiningPurchase, error) {
	var p ledger.MiningPurchase
	err := row.Scan(
		&p.ID, &p.UserID, &p.PackageID, &p.PurchaseDate, &p.DurationDays, &p.IsActive,
		&p.EarningsUSD, &p.PrincipalUSD, &p.PrincipalRefunded, &p.AccruedThrough, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanStake(row pgx.Row) (*ledger.Stake, error) {
	var st ledger.Stake
	err := row.Scan(
		&st.ID, &st.UserID, &st.Amount, &st.DailyReward, &st.LockDays, &st.StartedAt, &st.UnlockAt,
		&st.IsActive, &st.Refunded, &st.Credited,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func scanDeposit(row pgx.Row) (*ledger.Deposit, error) {
	var d ledger.Deposit
	err := row.Scan(
		&d.ID, &d.UserID, &d.AmountUSD, &d.Coin, &d.Network, &d.ExpectedCoinAmount,
		&d.QuoteRate, &d.TxHash, &d.Confirmations, &d.Status, &d.Source, &d.Note,
		&d.CreatedAt, &d.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanWithdrawal(row pgx.Row) (*ledger.Withdrawal, error) {
	var w ledger.Withdrawal
	err := row.Scan(&w.ID, &w.UserID, &w.AmountUSD, &w.Method, &w.Details, &w.Status, &w.CreatedAt, &w.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var t ledger.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Wallet, &t.AmountUSD, &t.Note, &t.Ref, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSettings(row pgx.Row) (*ledger.Settings, error) {
	var s ledger.Settings
	err := row.Scan(&s.StakeEnabled, &s.SwapEnabled, &s.BMTPriceUSD, &s.DepositAddresses, &s.LastMiningEarningsAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.DepositAddresses == nil {
		s.DepositAddresses = map[string]string{}
	}
	return &s, nil
}

// collect читает все строки результата через scan.
func collect[T any](rows pgx.Rows, err error, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*T, error) {
		return scan(row)
	})
}

// notFound подменяет pgx.ErrNoRows доменной ошибкой.
func notFound(err, nf error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nf
	}
	return err
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

// --- Чтение без блокировок ---

func (s *Store) GetUser(ctx context.Context, id int64) (*ledger.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, common.ErrUserNotFound)
	}
	return u, nil
}

func (s *Store) FindUserByReferralCode(ctx context.Context, code string) (*ledger.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE own_referral_code = $1`, code))
	if err != nil {
		return nil, notFound(err, common.NotFound("referral code", code))
	}
	return u, nil
}

func (s *Store) CountReferrals(ctx context.Context, ownCode string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM users
		WHERE referral_code = $1 AND own_referral_code <> $1
	`, ownCode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта рефералов: %w", err)
	}
	return n, nil
}

func (s *Store) GetPackage(ctx context.Context, id int64) (*ledger.Package, error) {
	p, err := scanPackage(s.pool.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, common.NotFound("package", id))
	}
	return p, nil
}

func (s *Store) ListPackages(ctx context.Context, onlyListed bool) ([]*ledger.Package, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+packageColumns+` FROM packages
		WHERE NOT $1::boolean OR is_listed
		ORDER BY id
	`, onlyListed)
	return collect(rows, err, scanPackage)
}

func (s *Store) ListPurchasesByUser(ctx context.Context, userID int64) ([]*ledger.MiningPurchase, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+purchaseColumns+` FROM mining_purchases WHERE user_id = $1 ORDER BY id`, userID)
	return collect(rows, err, scanPurchase)
}

func (s *Store) ListUserIDsWithActivePurchases(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM mining_purchases WHERE is_active ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *Store) ListStakesByUser(ctx context.Context, userID int64) ([]*ledger.Stake, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stakeColumns+` FROM stakes WHERE user_id = $1 ORDER BY id DESC`, userID)
	return collect(rows, err, scanStake)
}

func (s *Store) ListUserIDsWithDueStakes(ctx context.Context, asOf time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM stakes
		WHERE is_active AND unlock_at <= $1
		ORDER BY user_id
	`, asOf)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *Store) GetDeposit(ctx context.Context, id int64) (*ledger.Deposit, error) {
	d, err := scanDeposit(s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, common.NotFound("deposit", id))
	}
	return d, nil
}

func (s *Store) ListDeposits(ctx context.Context, status ledger.DepositStatus, limit int) ([]*ledger.Deposit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+depositColumns+` FROM deposits
		WHERE $1::text = '' OR status = $1
		ORDER BY id
		LIMIT NULLIF($2::int, 0)
	`, string(status), limit)
	return collect(rows, err, scanDeposit)
}

func (s *Store) GetWithdrawal(ctx context.Context, id int64) (*ledger.Withdrawal, error) {
	w, err := scanWithdrawal(s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, common.NotFound("withdrawal", id))
	}
	return w, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, status ledger.WithdrawalStatus, limit int) ([]*ledger.Withdrawal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE $1::text = '' OR status = $1
		ORDER BY id
		LIMIT NULLIF($2::int, 0)
	`, string(status), limit)
	return collect(rows, err, scanWithdrawal)
}

func (s *Store) ListTransactions(ctx context.Context, userID int64, limit int) ([]*ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT NULLIF($2::int, 0)
	`, userID, limit)
	return collect(rows, err, scanTransaction)
}

func (s *Store) SumTransactions(ctx context.Context, f ledger.TxFilter) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_usd), 0) FROM transactions
		WHERE ($1::bigint = 0 OR user_id = $1)
		  AND ($2::text = '' OR wallet = $2)
		  AND ($3::text = '' OR kind = $3)
	`, f.UserID, string(f.Wallet), string(f.Kind)).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ошибка суммирования журнала: %w", err)
	}
	return sum, nil
}

func (s *Store) Stats(ctx context.Context) (*ledger.Stats, error) {
	var st ledger.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM mining_purchases WHERE is_active),
			(SELECT COALESCE(SUM(amount_usd), 0) FROM deposits WHERE status = 'approved'),
			(SELECT COALESCE(SUM(amount_usd), 0) FROM withdrawals WHERE status <> 'rejected'),
			(SELECT COUNT(*) FROM deposits WHERE status = 'pending'),
			(SELECT COUNT(*) FROM withdrawals WHERE status = 'pending'),
			(SELECT COALESCE(SUM(earnings_usd), 0) FROM users)
	`).Scan(
		&st.Users, &st.ActivePurchases, &st.ApprovedDepositUSD, &st.WithdrawnUSD,
		&st.PendingDeposits, &st.PendingWithdrawals, &st.EarningsUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return &st, nil
}

func (s *Store) Settings(ctx context.Context) (*ledger.Settings, error) {
	if err := ensureSettings(ctx, s.pool); err != nil {
		return nil, err
	}
	return scanSettings(s.pool.QueryRow(ctx, settingsSelect))
}

const settingsSelect = `
	SELECT stake_enabled, swap_enabled, bmt_price_usd, deposit_addresses, last_mining_earnings_at, updated_at
	FROM settings WHERE id`

func ensureSettings(ctx context.Context, q querier) error {
	if _, err := q.Exec(ctx, `INSERT INTO settings (id) VALUES (TRUE) ON CONFLICT (id) DO NOTHING`); err != nil {
		return fmt.Errorf("ошибка создания настроек: %w", err)
	}
	return nil
}

// --- Транзакция ---

type pgTx struct {
	q querier
}

func (t *pgTx) LockUser(ctx context.Context, id int64) (*ledger.User, error) {
	u, err := scanUser(t.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, common.ErrUserNotFound)
	}
	return u, nil
}

func (t *pgTx) CreateUser(ctx context.Context, u *ledger.User) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO users (id, username, first_name, balance_usd, bonus_balance_usd, earnings_usd,
			bmt_balance, is_frozen, welcome_bonus_redeemed, referral_code, own_referral_code,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, u.Username, u.FirstName, u.BalanceUSD, u.BonusBalanceUSD, u.EarningsUSD,
		u.BMTBalance, u.IsFrozen, u.WelcomeBonusRedeemed, u.ReferralCode, u.OwnReferralCode,
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, fmt.Errorf("реферальный код %s уже занят", u.OwnReferralCode)
		}
		return false, fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) SaveUser(ctx context.Context, u *ledger.User) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE users SET
			username = $2, first_name = $3, balance_usd = $4, bonus_balance_usd = $5,
			earnings_usd = $6, bmt_balance = $7, is_frozen = $8, welcome_bonus_redeemed = $9,
			referral_code = $10, updated_at = $11
		WHERE id = $1
	`, u.ID, u.Username, u.FirstName, u.BalanceUSD, u.BonusBalanceUSD,
		u.EarningsUSD, u.BMTBalance, u.IsFrozen, u.WelcomeBonusRedeemed,
		u.ReferralCode, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrUserNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *ledger.Transaction) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tr.ID, tr.UserID, string(tr.Kind), string(tr.Wallet), tr.AmountUSD, tr.Note, tr.Ref, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал: %w", err)
	}
	return nil
}

func (t *pgTx) CreatePackage(ctx context.Context, p *ledger.Package) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO packages (name, price_usd, mining_power, duration_days, earning_rate,
			bmt_reward, is_listed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, p.Name, p.PriceUSD, p.MiningPower, p.DurationDays, nullableDecimal(p.EarningRate),
		p.BMTReward, p.IsListed, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания пакета: %w", err)
	}
	return nil
}

func (t *pgTx) LockPackage(ctx context.Context, id int64) (*ledger.Package, error) {
	p, err := scanPackage(t.q.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, common.NotFound("package", id))
	}
	return p, nil
}

func (t *pgTx) UpdatePackage(ctx context.Context, p *ledger.Package) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE packages SET
			name = $2, price_usd = $3, mining_power = $4, duration_days = $5,
			earning_rate = $6, bmt_reward = $7, is_listed = $8, updated_at = $9
		WHERE id = $1
	`, p.ID, p.Name, p.PriceUSD, p.MiningPower, p.DurationDays,
		nullableDecimal(p.EarningRate), p.BMTReward, p.IsListed, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления пакета: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("package", p.ID)
	}
	return nil
}

func (t *pgTx) DeletePackage(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM packages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления пакета: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("package", id)
	}
	return nil
}

func (t *pgTx) CreatePurchase(ctx context.Context, p *ledger.MiningPurchase) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO mining_purchases (user_id, package_id, purchase_date, duration_days, is_active,
			earnings_usd, principal_usd, principal_refunded, accrued_through, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, p.UserID, p.PackageID, p.PurchaseDate, p.DurationDays, p.IsActive,
		p.EarningsUSD, p.PrincipalUSD, p.PrincipalRefunded, p.AccruedThrough, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания покупки: %w", err)
	}
	return nil
}

func (t *pgTx) LockPurchase(ctx context.Context, id int64) (*ledger.MiningPurchase, error) {
	p, err := scanPurchase(t.q.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM mining_purchases WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, common.NotFound("purchase", id))
	}
	return p, nil
}

func (t *pgTx) LockActivePurchases(ctx context.Context, userID int64) ([]*ledger.MiningPurchase, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+purchaseColumns+` FROM mining_purchases
		WHERE user_id = $1 AND is_active
		ORDER BY id
		FOR UPDATE
	`, userID)
	return collect(rows, err, scanPurchase)
}

func (t *pgTx) UpdatePurchase(ctx context.Context, p *ledger.MiningPurchase) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE mining_purchases SET
			is_active = $2, earnings_usd = $3, principal_usd = $4,
			principal_refunded = $5, accrued_through = $6
		WHERE id = $1
	`, p.ID, p.IsActive, p.EarningsUSD, p.PrincipalUSD, p.PrincipalRefunded, p.AccruedThrough)
	if err != nil {
		return fmt.Errorf("ошибка обновления покупки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("purchase", p.ID)
	}
	return nil
}

func (t *pgTx) CreateStake(ctx context.Context, st *ledger.Stake) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO stakes (user_id, amount, daily_reward, lock_days, started_at, unlock_at,
			is_active, refunded, credited)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, st.UserID, st.Amount, st.DailyReward, st.LockDays, st.StartedAt, st.UnlockAt,
		st.IsActive, st.Refunded, st.Credited).Scan(&st.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания стейка: %w", err)
	}
	return nil
}

func (t *pgTx) LockDueStakes(ctx context.Context, userID int64, asOf time.Time) ([]*ledger.Stake, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+stakeColumns+` FROM stakes
		WHERE user_id = $1 AND is_active AND unlock_at <= $2
		ORDER BY id
		FOR UPDATE
	`, userID, asOf)
	return collect(rows, err, scanStake)
}

func (t *pgTx) UpdateStake(ctx context.Context, st *ledger.Stake) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE stakes SET is_active = $2, refunded = $3, credited = $4 WHERE id = $1
	`, st.ID, st.IsActive, st.Refunded, st.Credited)
	if err != nil {
		return fmt.Errorf("ошибка обновления стейка: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("stake", st.ID)
	}
	return nil
}

func (t *pgTx) CreateDeposit(ctx context.Context, d *ledger.Deposit) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO deposits (user_id, amount_usd, coin, network, expected_coin_amount, quote_rate,
			tx_hash, confirmations, status, source, note, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, d.UserID, d.AmountUSD, d.Coin, d.Network, d.ExpectedCoinAmount, d.QuoteRate,
		d.TxHash, d.Confirmations, string(d.Status), string(d.Source), d.Note, d.CreatedAt, d.ResolvedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки на пополнение: %w", err)
	}
	return nil
}

func (t *pgTx) LockDeposit(ctx context.Context, id int64) (*ledger.Deposit, error) {
	d, err := scanDeposit(t.q.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, common.NotFound("deposit", id))
	}
	return d, nil
}

func (t *pgTx) UpdateDeposit(ctx context.Context, d *ledger.Deposit) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE deposits SET
			tx_hash = $2, confirmations = $3, status = $4, note = $5, resolved_at = $6
		WHERE id = $1
	`, d.ID, d.TxHash, d.Confirmations, string(d.Status), d.Note, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления заявки на пополнение: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("deposit", d.ID)
	}
	return nil
}

func (t *pgTx) CreateWithdrawal(ctx context.Context, w *ledger.Withdrawal) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO withdrawals (user_id, amount_usd, method, details, status, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, w.UserID, w.AmountUSD, string(w.Method), w.Details, string(w.Status), w.CreatedAt, w.ProcessedAt).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки на вывод: %w", err)
	}
	return nil
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id int64) (*ledger.Withdrawal, error) {
	w, err := scanWithdrawal(t.q.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, common.NotFound("withdrawal", id))
	}
	return w, nil
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *ledger.Withdrawal) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE withdrawals SET status = $2, processed_at = $3 WHERE id = $1
	`, w.ID, string(w.Status), w.ProcessedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления заявки на вывод: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound("withdrawal", w.ID)
	}
	return nil
}

func (t *pgTx) LockSettings(ctx context.Context) (*ledger.Settings, error) {
	if err := ensureSettings(ctx, t.q); err != nil {
		return nil, err
	}
	return scanSettings(t.q.QueryRow(ctx, settingsSelect+` FOR UPDATE`))
}

func (t *pgTx) UpdateSettings(ctx context.Context, s *ledger.Settings) error {
	addresses := s.DepositAddresses
	if addresses == nil {
		addresses = map[string]string{}
	}
	_, err := t.q.Exec(ctx, `
		UPDATE settings SET
			stake_enabled = $1, swap_enabled = $2, bmt_price_usd = $3,
			deposit_addresses = $4, last_mining_earnings_at = $5, updated_at = $6
		WHERE id
	`, s.StakeEnabled, s.SwapEnabled, s.BMTPriceUSD, addresses, s.LastMiningEarningsAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения настроек: %w", err)
	}
	return nil
}
