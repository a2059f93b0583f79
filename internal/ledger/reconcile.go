package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Reconciliation: сверка кошельков пользователя с журналом.
type Reconciliation struct {
	UserID   int64
	Balance  decimal.Decimal // BalanceUSD
	Ledger   decimal.Decimal // сумма проводок кошелька usd
	Bonus    decimal.Decimal // BonusBalanceUSD
	BonusSum decimal.Decimal // сумма проводок кошелька bonus
}

// OK: кошельки совпадают с журналом.
func (r *Reconciliation) OK() bool {
	return r.Balance.Equal(r.Ledger) && r.Bonus.Equal(r.BonusSum)
}

// Reconcile сверяет балансы пользователя с суммой его проводок.
// Результат осмыслен, когда над пользователем не идёт ни одной операции.
func Reconcile(ctx context.Context, store Store, userID int64) (*Reconciliation, error) {
	u, err := store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	usd, err := store.SumTransactions(ctx, TxFilter{UserID: userID, Wallet: WalletUSD})
	if err != nil {
		return nil, fmt.Errorf("ошибка суммирования журнала: %w", err)
	}
	bonus, err := store.SumTransactions(ctx, TxFilter{UserID: userID, Wallet: WalletBonus})
	if err != nil {
		return nil, fmt.Errorf("ошибка суммирования журнала: %w", err)
	}
	return &Reconciliation{
		UserID:   userID,
		Balance:  u.BalanceUSD,
		Ledger:   usd,
		Bonus:    u.BonusBalanceUSD,
		BonusSum: bonus,
	}, nil
}
