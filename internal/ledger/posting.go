package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/metrics"
)

// Posting: одно изменение кошелька пользователя.
type Posting struct {
	Kind   Kind
	Wallet Wallet // пусто = WalletUSD
	Amount decimal.Decimal
	Note   string
	Ref    string
}

// Post применяет проводку к заблокированному пользователю u и пишет запись журнала.
//
// Это единственный путь изменения BalanceUSD и BonusBalanceUSD: баланс и запись
// журнала сохраняются в одной Tx, поэтому либо меняются оба, либо ни один.
// u должен быть получен через tx.LockUser в этой же транзакции.
// Сумма округляется до центов; уход кошелька в минус даёт ErrInsufficientBalance.
// Остальные поля u (EarningsUSD, BMTBalance, флаги) сохраняются вместе с балансом.
func Post(ctx context.Context, tx Tx, u *User, p Posting, now time.Time) (*Transaction, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("неизвестный тип проводки %q", p.Kind)
	}
	if p.Wallet == "" {
		p.Wallet = WalletUSD
	}
	if !p.Wallet.Valid() {
		return nil, fmt.Errorf("неизвестный кошелёк %q", p.Wallet)
	}

	amount := common.Round2(p.Amount)
	if amount.IsZero() {
		return nil, common.ErrInvalidAmount
	}
	switch kindDirection[p.Kind] {
	case +1:
		if amount.IsNegative() {
			return nil, fmt.Errorf("проводка %s должна быть приходной, получено %s", p.Kind, amount)
		}
	case -1:
		if amount.IsPositive() {
			return nil, fmt.Errorf("проводка %s должна быть расходной, получено %s", p.Kind, amount)
		}
	}

	next := common.Round2(u.Wallet(p.Wallet).Add(amount))
	if next.IsNegative() {
		return nil, common.ErrInsufficientBalance
	}
	u.setWallet(p.Wallet, next)
	u.UpdatedAt = now

	if err := tx.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("ошибка сохранения баланса (user_id=%d): %w", u.ID, err)
	}

	t := &Transaction{
		ID:        uuid.New(),
		UserID:    u.ID,
		Kind:      p.Kind,
		Wallet:    p.Wallet,
		AmountUSD: amount,
		Note:      p.Note,
		Ref:       p.Ref,
		CreatedAt: now,
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("ошибка записи транзакции (user_id=%d): %w", u.ID, err)
	}

	metrics.RecordPosting(string(p.Kind))
	return t, nil
}
