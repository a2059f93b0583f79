// Package referral начисляет реферальные комиссии.
// Пригласивший получает долю от цены каждого пакета, купленного приглашённым.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

// Overview: сводка по приглашениям пользователя.
type Overview struct {
	Code         string
	Invited      int
	TotalEarned  decimal.Decimal
	CommissionPc decimal.Decimal // ставка в процентах
}

// Engine начисляет комиссии и считает сводку.
type Engine struct {
	store ledger.Store
	rate  decimal.Decimal
}

// NewEngine создаёт движок комиссий со ставкой rate (0.15 = 15%).
func NewEngine(store ledger.Store, rate decimal.Decimal) *Engine {
	return &Engine{store: store, rate: rate}
}

// Commission: комиссия с покупки по цене price.
func (e *Engine) Commission(price decimal.Decimal) decimal.Decimal {
	return common.Round2(price.Mul(e.rate))
}

// ResolveInviter ищет пригласившего покупателя.
// nil без ошибки: кода нет, код указывает на самого покупателя или устарел.
func (e *Engine) ResolveInviter(ctx context.Context, buyer *ledger.User) (*ledger.User, error) {
	code := strings.ToUpper(strings.TrimSpace(buyer.ReferralCode))
	if code == "" || code == buyer.OwnReferralCode {
		return nil, nil
	}
	inviter, err := e.store.FindUserByReferralCode(ctx, code)
	if errors.Is(err, common.ErrNotFound) {
		log.WithFields(log.Fields{"user_id": buyer.ID, "code": code}).Debug("Пригласивший не найден, комиссия не начисляется")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска пригласившего: %w", err)
	}
	if inviter.ID == buyer.ID {
		return nil, nil
	}
	return inviter, nil
}

// Credit начисляет комиссию заблокированному пригласившему в рамках tx покупки.
// Нулевая после округления комиссия пропускается.
func (e *Engine) Credit(ctx context.Context, tx ledger.Tx, inviter, buyer *ledger.User, pkg *ledger.Package, purchaseID int64, now time.Time) (*ledger.Transaction, error) {
	commission := e.Commission(pkg.PriceUSD)
	if !commission.IsPositive() {
		return nil, nil
	}
	t, err := ledger.Post(ctx, tx, inviter, ledger.Posting{
		Kind:   ledger.KindReferralCommission,
		Amount: commission,
		Note:   fmt.Sprintf("Комиссия за покупку %s пользователем %s", pkg.Name, buyer.DisplayName()),
		Ref:    ledger.Ref("purchase", purchaseID),
	}, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка начисления комиссии: %w", err)
	}
	log.WithFields(log.Fields{
		"inviter_id":  inviter.ID,
		"user_id":     buyer.ID,
		"purchase_id": purchaseID,
		"commission":  commission.StringFixed(2),
	}).Info("Реферальная комиссия начислена")
	return t, nil
}

// Overview возвращает код, число приглашённых и сумму комиссий из журнала.
func (e *Engine) Overview(ctx context.Context, userID int64) (*Overview, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	invited, err := e.store.CountReferrals(ctx, u.OwnReferralCode)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта рефералов: %w", err)
	}
	earned, err := e.store.SumTransactions(ctx, ledger.TxFilter{UserID: userID, Kind: ledger.KindReferralCommission})
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта комиссий: %w", err)
	}
	return &Overview{
		Code:         u.OwnReferralCode,
		Invited:      invited,
		TotalEarned:  earned,
		CommissionPc: e.rate.Mul(decimal.NewFromInt(100)),
	}, nil
}
