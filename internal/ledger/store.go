package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store: долговременное хранилище сущностей учёта.
//
// Методы Store читают без блокировок и подходят для отображения и планирования.
// Любое изменение денег и статусов выполняется внутри InTx: fn получает Tx,
// и все его записи либо применяются вместе, либо не применяются вовсе.
// Lock*-методы Tx держат сущность до конца транзакции, поэтому две операции над
// одним пользователем (или одной заявкой) выполняются строго по очереди.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetUser(ctx context.Context, id int64) (*User, error)
	FindUserByReferralCode(ctx context.Context, code string) (*User, error)
	CountReferrals(ctx context.Context, ownCode string) (int, error)

	GetPackage(ctx context.Context, id int64) (*Package, error)
	ListPackages(ctx context.Context, onlyListed bool) ([]*Package, error)

	ListPurchasesByUser(ctx context.Context, userID int64) ([]*MiningPurchase, error)
	ListUserIDsWithActivePurchases(ctx context.Context) ([]int64, error)

	// ListStakesByUser возвращает стейки пользователя, новые первыми.
	ListStakesByUser(ctx context.Context, userID int64) ([]*Stake, error)
	// ListUserIDsWithDueStakes: владельцы активных стейков с UnlockAt <= asOf.
	ListUserIDsWithDueStakes(ctx context.Context, asOf time.Time) ([]int64, error)

	GetDeposit(ctx context.Context, id int64) (*Deposit, error)
	ListDeposits(ctx context.Context, status DepositStatus, limit int) ([]*Deposit, error)
	GetWithdrawal(ctx context.Context, id int64) (*Withdrawal, error)
	ListWithdrawals(ctx context.Context, status WithdrawalStatus, limit int) ([]*Withdrawal, error)

	// ListTransactions возвращает последние limit записей пользователя, новые первыми.
	ListTransactions(ctx context.Context, userID int64, limit int) ([]*Transaction, error)
	SumTransactions(ctx context.Context, f TxFilter) (decimal.Decimal, error)

	Stats(ctx context.Context) (*Stats, error)

	// Settings возвращает глобальные настройки, создавая запись при первом обращении.
	Settings(ctx context.Context) (*Settings, error)
}

// Tx: операции внутри одной атомарной единицы работы.
type Tx interface {
	LockUser(ctx context.Context, id int64) (*User, error)
	// CreateUser добавляет пользователя; false, если он уже существует.
	CreateUser(ctx context.Context, u *User) (bool, error)
	SaveUser(ctx context.Context, u *User) error
	InsertTransaction(ctx context.Context, t *Transaction) error

	CreatePackage(ctx context.Context, p *Package) error
	LockPackage(ctx context.Context, id int64) (*Package, error)
	UpdatePackage(ctx context.Context, p *Package) error
	DeletePackage(ctx context.Context, id int64) error

	CreatePurchase(ctx context.Context, p *MiningPurchase) error
	LockPurchase(ctx context.Context, id int64) (*MiningPurchase, error)
	LockActivePurchases(ctx context.Context, userID int64) ([]*MiningPurchase, error)
	UpdatePurchase(ctx context.Context, p *MiningPurchase) error

	CreateStake(ctx context.Context, s *Stake) error
	// LockDueStakes блокирует активные стейки пользователя с UnlockAt <= asOf.
	LockDueStakes(ctx context.Context, userID int64, asOf time.Time) ([]*Stake, error)
	UpdateStake(ctx context.Context, s *Stake) error

	CreateDeposit(ctx context.Context, d *Deposit) error
	LockDeposit(ctx context.Context, id int64) (*Deposit, error)
	UpdateDeposit(ctx context.Context, d *Deposit) error

	CreateWithdrawal(ctx context.Context, w *Withdrawal) error
	LockWithdrawal(ctx context.Context, id int64) (*Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *Withdrawal) error

	// LockSettings блокирует запись настроек, создавая её при отсутствии.
	LockSettings(ctx context.Context) (*Settings, error)
	UpdateSettings(ctx context.Context, s *Settings) error
}

// TxFilter отбирает записи журнала для суммирования. Пустое поле: любое значение.
type TxFilter struct {
	UserID int64
	Wallet Wallet
	Kind   Kind
}

// Match сообщает, подходит ли запись под фильтр.
func (f TxFilter) Match(t *Transaction) bool {
	if f.UserID != 0 && t.UserID != f.UserID {
		return false
	}
	if f.Wallet != "" && t.Wallet != f.Wallet {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	return true
}
