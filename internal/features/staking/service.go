// Package staking: блокировка BMT под фиксированное вознаграждение.
//
// Стейк списывает BMT сразу, а через LockDays дней возвращает тело и награду
// (DailyRate в сутки от суммы) одним зачислением. Открытие стейков управляется
// флагом StakeEnabled в настройках; уже открытые стейки закрываются всегда.
// BMT не проходит через журнал USD, поэтому баланс меняется напрямую под LockUser.
package staking

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
	"blockmine.pro/mining-bot/internal/metrics"
)

const (
	LockDays  = 14 // срок блокировки стейка
	bmtPlaces = 8  // точность BMT в БД, NUMERIC(24,8)
)

// DailyRate: доля суммы стейка, начисляемая за сутки.
var DailyRate = decimal.RequireFromString("0.01")

// Service открывает и закрывает стейки.
type Service struct {
	store ledger.Store
	now   func() time.Time
}

// NewService создаёт сервис стейкинга.
func NewService(store ledger.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock подменяет источник времени.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Stake блокирует amount BMT пользователя на LockDays дней.
func (s *Service) Stake(ctx context.Context, userID int64, amount decimal.Decimal) (*ledger.Stake, decimal.Decimal, error) {
	amount = amount.Round(bmtPlaces)
	if !amount.IsPositive() {
		return nil, decimal.Zero, common.ErrInvalidAmount
	}

	var stake *ledger.Stake
	var balance decimal.Decimal
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		st, err := tx.LockSettings(ctx)
		if err != nil {
			return err
		}
		if !st.StakeEnabled {
			return common.ErrFeatureDisabled
		}
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.IsFrozen {
			return common.ErrAccountFrozen
		}
		if u.BMTBalance.LessThan(amount) {
			return common.ErrInsufficientBalance
		}

		now := s.now()
		u.BMTBalance = u.BMTBalance.Sub(amount)
		u.UpdatedAt = now
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}

		stake = &ledger.Stake{
			UserID:      userID,
			Amount:      amount,
			DailyReward: amount.Mul(DailyRate).Round(bmtPlaces),
			LockDays:    LockDays,
			StartedAt:   now,
			UnlockAt:    now.Add(LockDays * 24 * time.Hour),
			IsActive:    true,
		}
		balance = u.BMTBalance
		return tx.CreateStake(ctx, stake)
	})
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("ошибка открытия стейка: %w", err)
	}

	metrics.RecordStake("opened")
	log.WithFields(log.Fields{
		"user_id":  userID,
		"stake_id": stake.ID,
		"amount":   amount.String(),
	}).Info("[STAKE] Стейк открыт")
	return stake, balance, nil
}

// UnlockReport: итог закрытия стейков.
type UnlockReport struct {
	Unlocked  int
	Failed    int // пользователи, которых не удалось обработать
	Principal decimal.Decimal
	Reward    decimal.Decimal
}

// ProcessUnlocked закрывает все стейки с UnlockAt <= asOf.
// Повторный вызов ничего не начисляет: закрытый стейк неактивен, а тело и
// награда защищены отдельными защёлками. Ошибка одного пользователя не
// останавливает остальных.
func (s *Service) ProcessUnlocked(ctx context.Context, asOf time.Time) (*UnlockReport, error) {
	ids, err := s.store.ListUserIDsWithDueStakes(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения стейков к закрытию: %w", err)
	}

	r := &UnlockReport{Principal: decimal.Zero, Reward: decimal.Zero}
	for _, userID := range ids {
		ur, err := s.unlockUser(ctx, userID, asOf)
		if err != nil {
			r.Failed++
			log.WithError(err).WithField("user_id", userID).Error("[STAKE] Не удалось закрыть стейки пользователя")
			continue
		}
		r.Unlocked += ur.Unlocked
		r.Principal = r.Principal.Add(ur.Principal)
		r.Reward = r.Reward.Add(ur.Reward)
	}

	if r.Unlocked > 0 || r.Failed > 0 {
		log.WithFields(log.Fields{
			"as_of":     asOf.Format(time.RFC3339),
			"unlocked":  r.Unlocked,
			"failed":    r.Failed,
			"principal": r.Principal.String(),
			"reward":    r.Reward.String(),
		}).Info("[STAKE] Стейки закрыты")
	}
	return r, nil
}

// List возвращает стейки пользователя, новые первыми.
// Перед чтением закрываются стейки, срок которых уже наступил.
func (s *Service) List(ctx context.Context, userID int64) ([]*ledger.Stake, error) {
	if _, err := s.unlockUser(ctx, userID, s.now()); err != nil {
		return nil, fmt.Errorf("ошибка закрытия стейков: %w", err)
	}
	return s.store.ListStakesByUser(ctx, userID)
}

func (s *Service) unlockUser(ctx context.Context, userID int64, asOf time.Time) (*UnlockReport, error) {
	r := &UnlockReport{Principal: decimal.Zero, Reward: decimal.Zero}
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		due, err := tx.LockDueStakes(ctx, userID, asOf)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		for _, st := range due {
			if !st.Refunded {
				u.BMTBalance = u.BMTBalance.Add(st.Amount)
				st.Refunded = true
				r.Principal = r.Principal.Add(st.Amount)
			}
			if !st.Credited {
				reward := st.TotalReward()
				u.BMTBalance = u.BMTBalance.Add(reward)
				st.Credited = true
				r.Reward = r.Reward.Add(reward)
			}
			st.IsActive = false
			if err := tx.UpdateStake(ctx, st); err != nil {
				return err
			}
			r.Unlocked++
		}
		u.UpdatedAt = s.now()
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	for i := 0; i < r.Unlocked; i++ {
		metrics.RecordStake("unlocked")
	}
	return r, nil
}
