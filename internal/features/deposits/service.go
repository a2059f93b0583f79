// Package deposits ведёт заявки на пополнение.
// Заявка создаётся в pending и разрешается ровно один раз:
// approved (зачисление), rejected или canceled (без зачисления).
package deposits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
	"blockmine.pro/mining-bot/internal/oracle"
)

// Notifier сообщает пользователю о зачислении. Ошибки доставки не возвращаются.
type Notifier interface {
	NotifyDepositApproved(ctx context.Context, userID int64, amountUSD decimal.Decimal, coin, txRef string)
}

// RateSource: живой курс монеты для расчёта ожидаемой суммы.
type RateSource interface {
	LiveRate(ctx context.Context, coin string) (decimal.Decimal, error)
}

// CreateInput: данные пользовательской заявки.
type CreateInput struct {
	UserID    int64
	AmountUSD decimal.Decimal
	Coin      string
	Network   string
	TxHash    string
}

// Service: рабочий процесс пополнений.
type Service struct {
	store    ledger.Store
	rates    RateSource
	notifier Notifier
	now      func() time.Time
}

// NewService создаёт сервис пополнений. notifier может быть nil.
func NewService(store ledger.Store, rates RateSource, notifier Notifier) *Service {
	return &Service{store: store, rates: rates, notifier: notifier, now: time.Now}
}

// SetClock подменяет источник времени.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create регистрирует заявку в статусе pending. Баланс не меняется.
// Ожидаемая сумма в монетах считается по живому курсу; недоступность оракула
// возвращается как ErrDependency, заявку можно повторить.
func (s *Service) Create(ctx context.Context, in CreateInput) (*ledger.Deposit, error) {
	amount := common.Round2(in.AmountUSD)
	if !amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	coin, err := oracle.NormalizeCoin(in.Coin)
	if err != nil {
		return nil, err
	}
	rate, err := s.rates.LiveRate(ctx, coin)
	if err != nil {
		return nil, err
	}

	d := &ledger.Deposit{
		UserID:             in.UserID,
		AmountUSD:          amount,
		Coin:               coin,
		Network:            strings.TrimSpace(in.Network),
		ExpectedCoinAmount: amount.DivRound(rate, 8),
		QuoteRate:          rate,
		TxHash:             strings.TrimSpace(in.TxHash),
		Status:             ledger.DepositPending,
		Source:             ledger.SourceUser,
		CreatedAt:          s.now(),
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.LockUser(ctx, in.UserID); err != nil {
			return err
		}
		return tx.CreateDeposit(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания заявки на пополнение: %w", err)
	}

	log.WithFields(log.Fields{
		"deposit_id": d.ID,
		"user_id":    d.UserID,
		"amount":     amount.StringFixed(2),
		"coin":       coin,
	}).Info("Заявка на пополнение создана")
	return d, nil
}

// AttachProof добавляет хеш транзакции к своей заявке, пока она pending.
func (s *Service) AttachProof(ctx context.Context, userID, depositID int64, txHash string, confirmations int) (*ledger.Deposit, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, common.Validationf("не указан хеш транзакции")
	}
	if confirmations < 0 {
		return nil, common.Validationf("число подтверждений не может быть отрицательным")
	}
	var out *ledger.Deposit
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		d, err := tx.LockDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if d.UserID != userID {
			return common.ErrNotOwner
		}
		if d.Status != ledger.DepositPending {
			return common.Conflict("deposit", d.ID, string(d.Status), "attach-proof")
		}
		d.TxHash = txHash
		d.Confirmations = confirmations
		out = d
		return tx.UpdateDeposit(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления заявки: %w", err)
	}
	return out, nil
}

// Approve зачисляет сумму заявки на основной (или бонусный) кошелёк.
// Повторное разрешение заявки возвращает StateConflictError.
func (s *Service) Approve(ctx context.Context, depositID int64) (*ledger.Deposit, error) {
	var out *ledger.Deposit
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		d, err := tx.LockDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if d.Status != ledger.DepositPending {
			return common.Conflict("deposit", d.ID, string(d.Status), "approve")
		}
		u, err := tx.LockUser(ctx, d.UserID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.credit(ctx, tx, u, d, now); err != nil {
			return err
		}
		d.Status = ledger.DepositApproved
		d.ResolvedAt = &now
		out = d
		return tx.UpdateDeposit(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подтверждения пополнения: %w", err)
	}

	log.WithFields(log.Fields{
		"deposit_id": out.ID,
		"user_id":    out.UserID,
		"amount":     out.AmountUSD.StringFixed(2),
	}).Info("Пополнение подтверждено")

	if s.notifier != nil && !out.Source.IsAdmin() {
		s.notifier.NotifyDepositApproved(ctx, out.UserID, out.AmountUSD, out.Coin, out.TxHash)
	}
	return out, nil
}

func (s *Service) credit(ctx context.Context, tx ledger.Tx, u *ledger.User, d *ledger.Deposit, now time.Time) error {
	p := ledger.Posting{
		Kind:   ledger.KindDeposit,
		Amount: d.AmountUSD,
		Note:   fmt.Sprintf("Пополнение #%d (%s)", d.ID, d.Coin),
		Ref:    ledger.Ref("deposit", d.ID),
	}
	if d.Source.IsBonus() {
		if u.WelcomeBonusRedeemed {
			return common.ErrBonusAlreadyRedeemed
		}
		u.WelcomeBonusRedeemed = true
		p.Kind = ledger.KindBonusDeposit
		p.Wallet = ledger.WalletBonus
		p.Note = fmt.Sprintf("Приветственный бонус #%d", d.ID)
	}
	_, err := ledger.Post(ctx, tx, u, p, now)
	return err
}

// Reject отклоняет заявку без зачисления.
func (s *Service) Reject(ctx context.Context, depositID int64) (*ledger.Deposit, error) {
	return s.resolve(ctx, depositID, 0, ledger.DepositRejected)
}

// Cancel отменяет свою заявку пользователем.
func (s *Service) Cancel(ctx context.Context, userID, depositID int64) (*ledger.Deposit, error) {
	return s.resolve(ctx, depositID, userID, ledger.DepositCanceled)
}

// resolve закрывает pending-заявку без движения денег.
// ownerID != 0 требует, чтобы заявка принадлежала этому пользователю.
func (s *Service) resolve(ctx context.Context, depositID, ownerID int64, status ledger.DepositStatus) (*ledger.Deposit, error) {
	var out *ledger.Deposit
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		d, err := tx.LockDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if ownerID != 0 && d.UserID != ownerID {
			return common.ErrNotOwner
		}
		if d.Status != ledger.DepositPending {
			return common.Conflict("deposit", d.ID, string(d.Status), string(status))
		}
		now := s.now()
		d.Status = status
		d.ResolvedAt = &now
		out = d
		return tx.UpdateDeposit(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка закрытия заявки: %w", err)
	}
	log.WithFields(log.Fields{"deposit_id": depositID, "status": status}).Info("Заявка на пополнение закрыта")
	return out, nil
}

// ManualDeposit: пополнение админом. Создаёт заявку и сразу подтверждает её
// в одной транзакции; уведомление не отправляется.
// bonus зачисляет на бонусный кошелёк и выдаётся пользователю один раз.
func (s *Service) ManualDeposit(ctx context.Context, userID int64, amount decimal.Decimal, bonus bool, note string) (*ledger.Deposit, error) {
	amount = common.Round2(amount)
	if !amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	source := ledger.SourceAdmin
	if bonus {
		source = ledger.SourceAdminBonus
	}

	var out *ledger.Deposit
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		now := s.now()
		d := &ledger.Deposit{
			UserID:             userID,
			AmountUSD:          amount,
			Coin:               "USD",
			ExpectedCoinAmount: amount,
			QuoteRate:          decimal.NewFromInt(1),
			Status:             ledger.DepositPending,
			Source:             source,
			Note:               note,
			CreatedAt:          now,
		}
		if err := tx.CreateDeposit(ctx, d); err != nil {
			return err
		}
		if err := s.credit(ctx, tx, u, d, now); err != nil {
			return err
		}
		d.Status = ledger.DepositApproved
		d.ResolvedAt = &now
		out = d
		return tx.UpdateDeposit(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка ручного пополнения: %w", err)
	}
	log.WithFields(log.Fields{
		"deposit_id": out.ID,
		"user_id":    userID,
		"amount":     amount.StringFixed(2),
		"bonus":      bonus,
	}).Info("Ручное пополнение выполнено")
	return out, nil
}

// Get возвращает заявку.
func (s *Service) Get(ctx context.Context, depositID int64) (*ledger.Deposit, error) {
	return s.store.GetDeposit(ctx, depositID)
}

// ListPending возвращает заявки, ожидающие решения.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*ledger.Deposit, error) {
	return s.store.ListDeposits(ctx, ledger.DepositPending, limit)
}
