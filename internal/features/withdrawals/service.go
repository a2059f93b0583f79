// Package withdrawals ведёт заявки на вывод.
// Сумма удерживается с баланса в момент заявки: pending → approved → paid,
// либо pending → rejected с возвратом удержания.
package withdrawals

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

// Action: решение админа по заявке.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPaid    Action = "paid"
)

var detailFormats = map[ledger.WithdrawalMethod]*regexp.Regexp{
	ledger.MethodUSDTTRC20: regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`),
	ledger.MethodUSDTERC20: regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`),
	ledger.MethodBTC:       regexp.MustCompile(`^(bc1[0-9a-z]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})$`),
	ledger.MethodPayPal:    regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`),
}

// ValidateDetails проверяет реквизиты под формат способа выплаты.
func ValidateDetails(method ledger.WithdrawalMethod, details string) error {
	re, ok := detailFormats[method]
	if !ok {
		return common.Validationf("способ вывода %q не поддерживается", method)
	}
	if !re.MatchString(details) {
		return common.Validationf("неверный формат реквизитов для %s", method)
	}
	return nil
}

// Service: рабочий процесс выводов.
type Service struct {
	store     ledger.Store
	minAmount decimal.Decimal
	now       func() time.Time
}

// NewService создаёт сервис выводов с минимальной суммой minAmount.
func NewService(store ledger.Store, minAmount decimal.Decimal) *Service {
	return &Service{store: store, minAmount: minAmount, now: time.Now}
}

// SetClock подменяет источник времени.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// MinAmount: минимальная сумма вывода.
func (s *Service) MinAmount() decimal.Decimal { return s.minAmount }

// Request создаёт заявку и сразу удерживает сумму с основного баланса.
// Проверка баланса и списание идут под блокировкой пользователя, поэтому
// параллельные заявки не могут удержать больше, чем было на балансе.
func (s *Service) Request(ctx context.Context, userID int64, amount decimal.Decimal, method, details string) (*ledger.Withdrawal, error) {
	amount = common.Round2(amount)
	if !amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	if amount.LessThan(s.minAmount) {
		return nil, common.Validationf("минимальная сумма вывода %s", common.FormatUSD(s.minAmount))
	}
	m, err := ledger.ParseWithdrawalMethod(method)
	if err != nil {
		return nil, common.Validationf("%v", err)
	}
	details = strings.TrimSpace(details)
	if err := ValidateDetails(m, details); err != nil {
		return nil, err
	}

	var out *ledger.Withdrawal
	err = s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.IsFrozen {
			return common.ErrAccountFrozen
		}
		if u.BalanceUSD.LessThan(amount) {
			return common.ErrInsufficientBalance
		}
		now := s.now()
		w := &ledger.Withdrawal{
			UserID:    userID,
			AmountUSD: amount,
			Method:    m,
			Details:   details,
			Status:    ledger.WithdrawalPending,
			CreatedAt: now,
		}
		if err := tx.CreateWithdrawal(ctx, w); err != nil {
			return err
		}
		if _, err := ledger.Post(ctx, tx, u, ledger.Posting{
			Kind:   ledger.KindWithdrawal,
			Amount: amount.Neg(),
			Note:   fmt.Sprintf("Вывод #%d (%s)", w.ID, m),
			Ref:    ledger.Ref("withdrawal", w.ID),
		}, now); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания заявки на вывод: %w", err)
	}

	log.WithFields(log.Fields{
		"withdrawal_id": out.ID,
		"user_id":       userID,
		"amount":        amount.StringFixed(2),
		"method":        m,
	}).Info("Заявка на вывод создана, сумма удержана")
	return out, nil
}

// Process применяет решение админа. Действие из неподходящего состояния
// возвращает StateConflictError и ничего не меняет.
func (s *Service) Process(ctx context.Context, withdrawalID int64, action Action) (*ledger.Withdrawal, error) {
	var out *ledger.Withdrawal
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		w, err := tx.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		now := s.now()
		switch action {
		case ActionApprove:
			if w.Status != ledger.WithdrawalPending {
				return common.Conflict("withdrawal", w.ID, string(w.Status), string(action))
			}
			w.Status = ledger.WithdrawalApproved
		case ActionReject:
			if w.Status != ledger.WithdrawalPending {
				return common.Conflict("withdrawal", w.ID, string(w.Status), string(action))
			}
			u, err := tx.LockUser(ctx, w.UserID)
			if err != nil {
				return err
			}
			if _, err := ledger.Post(ctx, tx, u, ledger.Posting{
				Kind:   ledger.KindWithdrawalRefund,
				Amount: w.AmountUSD,
				Note:   fmt.Sprintf("Возврат по отклонённому выводу #%d", w.ID),
				Ref:    ledger.Ref("withdrawal", w.ID),
			}, now); err != nil {
				return err
			}
			w.Status = ledger.WithdrawalRejected
		case ActionPaid:
			if w.Status != ledger.WithdrawalApproved {
				return common.Conflict("withdrawal", w.ID, string(w.Status), string(action))
			}
			w.Status = ledger.WithdrawalPaid
		default:
			return common.Validationf("неизвестное действие %q", action)
		}
		w.ProcessedAt = &now
		out = w
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обработки вывода: %w", err)
	}

	log.WithFields(log.Fields{
		"withdrawal_id": withdrawalID,
		"action":        action,
		"status":        out.Status,
	}).Info("Заявка на вывод обработана")
	return out, nil
}

// Approve: pending → approved, баланс не меняется.
func (s *Service) Approve(ctx context.Context, id int64) (*ledger.Withdrawal, error) {
	return s.Process(ctx, id, ActionApprove)
}

// Reject: pending → rejected, удержание возвращается.
func (s *Service) Reject(ctx context.Context, id int64) (*ledger.Withdrawal, error) {
	return s.Process(ctx, id, ActionReject)
}

// MarkPaid: approved → paid, выплата выполнена вне системы.
func (s *Service) MarkPaid(ctx context.Context, id int64) (*ledger.Withdrawal, error) {
	return s.Process(ctx, id, ActionPaid)
}

// ListPending возвращает заявки, ожидающие решения.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*ledger.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, ledger.WithdrawalPending, limit)
}

// ListApproved возвращает одобренные, но ещё не выплаченные заявки.
func (s *Service) ListApproved(ctx context.Context, limit int) ([]*ledger.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, ledger.WithdrawalApproved, limit)
}
