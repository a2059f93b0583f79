// Package ledger реализует ядро учёта: сущности, журнал транзакций и контракт хранилища.
// models.go описывает сущности, которые хранятся в БД.
//
// Все денежные поля: decimal.Decimal с точностью до центов. Балансы пользователя
// являются проекцией журнала: изменить их можно только через Post.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User: клиент платформы. ID совпадает с Telegram user ID.
type User struct {
	ID        int64
	Username  string
	FirstName string

	BalanceUSD      decimal.Decimal // доступный баланс
	BonusBalanceUSD decimal.Decimal // промо-баланс, тратится раньше основного
	EarningsUSD     decimal.Decimal // доход от майнинга за всё время
	BMTBalance      decimal.Decimal // вторичный токен

	IsFrozen             bool
	WelcomeBonusRedeemed bool

	ReferralCode    string // код пригласившего, указанный при регистрации
	OwnReferralCode string // собственный код для приглашений

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName возвращает @username или имя.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}

// Wallet возвращает баланс кошелька w.
func (u *User) Wallet(w Wallet) decimal.Decimal {
	if w == WalletBonus {
		return u.BonusBalanceUSD
	}
	return u.BalanceUSD
}

func (u *User) setWallet(w Wallet, v decimal.Decimal) {
	if w == WalletBonus {
		u.BonusBalanceUSD = v
		return
	}
	u.BalanceUSD = v
}

// Package: шаблон майнинг-пакета.
// Правка условий не меняет уже начисленное: покупка фиксирует срок и тело при создании.
type Package struct {
	ID           int64
	Name         string
	PriceUSD     decimal.Decimal
	MiningPower  decimal.Decimal // TH/s
	DurationDays int
	// EarningRate: ставка USD за 1 TH/s в сутки; nil = глобальная ставка
	EarningRate *decimal.Decimal
	BMTReward   decimal.Decimal
	IsListed    bool // доступен для покупки
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MiningPurchase: купленный (или выданный админом) пакет пользователя.
type MiningPurchase struct {
	ID           int64
	UserID       int64
	PackageID    int64
	PurchaseDate time.Time
	DurationDays int // срок, зафиксированный на момент покупки

	IsActive          bool
	EarningsUSD       decimal.Decimal // начислено по этой покупке
	PrincipalUSD      decimal.Decimal // тело к возврату; 0 = возврат не положен
	PrincipalRefunded bool            // защёлка: false → true ровно один раз

	// AccruedThrough: последний гражданский день, за который начислен доход.
	// nil = начислений ещё не было.
	AccruedThrough *time.Time
	CreatedAt      time.Time
}

// Stake: BMT, заблокированные под фиксированное вознаграждение.
// Тело и награда возвращаются на баланс BMT один раз после UnlockAt.
type Stake struct {
	ID          int64
	UserID      int64
	Amount      decimal.Decimal // BMT
	DailyReward decimal.Decimal // BMT в сутки, фиксируется при создании
	LockDays    int
	StartedAt   time.Time
	UnlockAt    time.Time

	IsActive bool
	Refunded bool // защёлка возврата тела
	Credited bool // защёлка начисления награды
}

// TotalReward: награда за весь срок блокировки.
func (s *Stake) TotalReward() decimal.Decimal {
	return s.DailyReward.Mul(decimal.NewFromInt(int64(s.LockDays)))
}

// Deposit: заявка на пополнение.
type Deposit struct {
	ID                 int64
	UserID             int64
	AmountUSD          decimal.Decimal
	Coin               string
	Network            string
	ExpectedCoinAmount decimal.Decimal
	QuoteRate          decimal.Decimal // USD за 1 монету на момент заявки
	TxHash             string
	Confirmations      int
	Status             DepositStatus
	Source             DepositSource
	Note               string
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// Withdrawal: заявка на вывод. Сумма удерживается с баланса в момент заявки.
type Withdrawal struct {
	ID          int64
	UserID      int64
	AmountUSD   decimal.Decimal
	Method      WithdrawalMethod
	Details     string // адрес или email для выплаты
	Status      WithdrawalStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Transaction: неизменяемая запись журнала.
// Сумма со знаком: приход > 0, расход < 0.
type Transaction struct {
	ID        uuid.UUID
	UserID    int64
	Kind      Kind
	Wallet    Wallet
	AmountUSD decimal.Decimal
	Note      string
	Ref       string // "deposit:5", "purchase:12", ...
	CreatedAt time.Time
}

// Settings: глобальные настройки (одна запись на всю систему).
type Settings struct {
	StakeEnabled     bool
	SwapEnabled      bool
	BMTPriceUSD      decimal.Decimal
	DepositAddresses map[string]string // монета → адрес
	// LastMiningEarningsAt: маркер догоняющего планировщика; nil до первого запуска.
	LastMiningEarningsAt *time.Time
	UpdatedAt            time.Time
}

// Stats: агрегаты для админки.
type Stats struct {
	Users              int
	ActivePurchases    int
	ApprovedDepositUSD decimal.Decimal
	WithdrawnUSD       decimal.Decimal // все заявки, кроме отклонённых
	PendingDeposits    int
	PendingWithdrawals int
	EarningsUSD        decimal.Decimal
}
