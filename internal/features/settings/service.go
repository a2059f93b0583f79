// Package settings даёт доступ к глобальным настройкам платформы.
// Запись создаётся при первом обращении; все изменения идут под блокировкой записи.
package settings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

// Flag: переключаемая функция.
type Flag string

const (
	FlagStake Flag = "stake"
	FlagSwap  Flag = "swap"
)

// Service управляет глобальными настройками.
type Service struct {
	store ledger.Store
	now   func() time.Time
}

// NewService создаёт сервис настроек.
func NewService(store ledger.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock подменяет источник времени.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Get возвращает текущие настройки.
func (s *Service) Get(ctx context.Context) (*ledger.Settings, error) {
	return s.store.Settings(ctx)
}

// Toggle инвертирует флаг и возвращает новое значение.
func (s *Service) Toggle(ctx context.Context, flag Flag) (bool, error) {
	var enabled bool
	err := s.update(ctx, func(st *ledger.Settings) error {
		switch flag {
		case FlagStake:
			st.StakeEnabled = !st.StakeEnabled
			enabled = st.StakeEnabled
		case FlagSwap:
			st.SwapEnabled = !st.SwapEnabled
			enabled = st.SwapEnabled
		default:
			return common.Validationf("неизвестный флаг %q (stake, swap)", flag)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	log.WithFields(log.Fields{"flag": flag, "enabled": enabled}).Info("Флаг переключён")
	return enabled, nil
}

// SetBMTPrice задаёт курс BMT в USD.
func (s *Service) SetBMTPrice(ctx context.Context, price decimal.Decimal) error {
	if !price.IsPositive() {
		return common.ErrInvalidAmount
	}
	return s.update(ctx, func(st *ledger.Settings) error {
		st.BMTPriceUSD = price.Round(4)
		return nil
	})
}

// SetDepositAddress задаёт адрес пополнения для монеты.
func (s *Service) SetDepositAddress(ctx context.Context, coin, address string) error {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	address = strings.TrimSpace(address)
	if coin == "" {
		return common.Validationf("не указана монета")
	}
	return s.update(ctx, func(st *ledger.Settings) error {
		if address == "" {
			delete(st.DepositAddresses, coin)
			return nil
		}
		st.DepositAddresses[coin] = address
		return nil
	})
}

// Marker возвращает маркер последнего прогона начислений (nil до первого запуска).
func (s *Service) Marker(ctx context.Context) (*time.Time, error) {
	st, err := s.store.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return st.LastMiningEarningsAt, nil
}

// InitMarker выставляет маркер, только если он ещё не задан.
// Возвращает false, если маркер уже был (его выставил конкурирующий процесс).
func (s *Service) InitMarker(ctx context.Context, at time.Time) (bool, error) {
	initialized := false
	err := s.update(ctx, func(st *ledger.Settings) error {
		if st.LastMiningEarningsAt != nil {
			return nil
		}
		st.LastMiningEarningsAt = &at
		initialized = true
		return nil
	})
	return initialized, err
}

// AdvanceMarker сдвигает маркер вперёд. Более ранний момент игнорируется.
func (s *Service) AdvanceMarker(ctx context.Context, at time.Time) error {
	return s.update(ctx, func(st *ledger.Settings) error {
		if st.LastMiningEarningsAt != nil && !at.After(*st.LastMiningEarningsAt) {
			return nil
		}
		st.LastMiningEarningsAt = &at
		return nil
	})
}

func (s *Service) update(ctx context.Context, mutate func(st *ledger.Settings) error) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		st, err := tx.LockSettings(ctx)
		if err != nil {
			return err
		}
		if err := mutate(st); err != nil {
			return err
		}
		st.UpdatedAt = s.now()
		return tx.UpdateSettings(ctx, st)
	})
	if err != nil {
		return fmt.Errorf("ошибка обновления настроек: %w", err)
	}
	return nil
}
