// Package accounts, service.go: регистрация, реферальные коды, заморозка,
// корректировки балансов и обмен BMT.
package accounts

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/ledger"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8
	codeAttempts = 5
)

// Profile: данные Telegram для регистрации.
type Profile struct {
	UserID    int64
	Username  string
	FirstName string
}

// Service управляет аккаунтами пользователей.
type Service struct {
	store ledger.Store
	now   func() time.Time
}

// NewService создаёт сервис аккаунтов.
func NewService(store ledger.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock подменяет источник времени.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Register создаёт пользователя при первом /start.
// refCode запоминается только у нового пользователя; у существующего
// обновляются username и имя. Возвращает true, если пользователь создан.
func (s *Service) Register(ctx context.Context, p Profile, refCode string) (*ledger.User, bool, error) {
	refCode = strings.ToUpper(strings.TrimSpace(refCode))

	existing, err := s.store.GetUser(ctx, p.UserID)
	if err == nil {
		if existing.Username != p.Username || existing.FirstName != p.FirstName {
			existing, err = s.updateProfile(ctx, p)
			if err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	var lastErr error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, false, fmt.Errorf("ошибка генерации реферального кода: %w", err)
		}
		if code == refCode {
			continue
		}
		now := s.now()
		u := &ledger.User{
			ID:              p.UserID,
			Username:        p.Username,
			FirstName:       p.FirstName,
			BalanceUSD:      decimal.Zero,
			BonusBalanceUSD: decimal.Zero,
			EarningsUSD:     decimal.Zero,
			BMTBalance:      decimal.Zero,
			ReferralCode:    refCode,
			OwnReferralCode: code,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		var created bool
		lastErr = s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			var err error
			created, err = tx.CreateUser(ctx, u)
			return err
		})
		if lastErr != nil {
			// коллизия кода: пробуем другой
			continue
		}
		if !created {
			// параллельный /start успел раньше
			u, err = s.store.GetUser(ctx, p.UserID)
			return u, false, err
		}
		log.WithFields(log.Fields{
			"user_id":  u.ID,
			"username": u.Username,
			"ref_code": refCode,
		}).Info("Новый пользователь зарегистрирован")
		return u, true, nil
	}
	return nil, false, fmt.Errorf("ошибка регистрации пользователя %d: %w", p.UserID, lastErr)
}

func (s *Service) updateProfile(ctx context.Context, p Profile) (*ledger.User, error) {
	var out *ledger.User
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.LockUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		u.Username = p.Username
		u.FirstName = p.FirstName
		u.UpdatedAt = s.now()
		out = u
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления профиля: %w", err)
	}
	return out, nil
}

// Get возвращает пользователя.
func (s *Service) Get(ctx context.Context, userID int64) (*ledger.User, error) {
	return s.store.GetUser(ctx, userID)
}

// SetFrozen замораживает или размораживает аккаунт.
// Замороженный пользователь не может выводить, покупать и обменивать; начисления идут.
func (s *Service) SetFrozen(ctx context.Context, userID int64, frozen bool) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		u.IsFrozen = frozen
		u.UpdatedAt = s.now()
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return fmt.Errorf("ошибка заморозки аккаунта: %w", err)
	}
	log.WithFields(log.Fields{"user_id": userID, "frozen": frozen}).Info("Статус заморозки изменён")
	return nil
}

// AdjustBMT изменяет баланс BMT на delta. Баланс не уходит в минус.
func (s *Service) AdjustBMT(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, common.ErrInvalidAmount
	}
	var balance decimal.Decimal
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		next := u.BMTBalance.Add(delta)
		if next.IsNegative() {
			return common.ErrInsufficientBalance
		}
		u.BMTBalance = next
		u.UpdatedAt = s.now()
		balance = next
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("ошибка изменения BMT: %w", err)
	}
	log.WithFields(log.Fields{"user_id": userID, "delta": delta.String()}).Info("Баланс BMT изменён")
	return balance, nil
}

// AdjustBalance: ручная корректировка кошелька админом через журнал.
func (s *Service) AdjustBalance(ctx context.Context, userID int64, wallet ledger.Wallet, amount decimal.Decimal, note string) (*ledger.User, error) {
	if note == "" {
		note = "Корректировка администратором"
	}
	var out *ledger.User
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := ledger.Post(ctx, tx, u, ledger.Posting{
			Kind:   ledger.KindAdjustment,
			Wallet: wallet,
			Amount: amount,
			Note:   note,
		}, s.now()); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка корректировки баланса: %w", err)
	}
	log.WithFields(log.Fields{
		"user_id": userID,
		"wallet":  wallet,
		"amount":  amount.StringFixed(2),
	}).Warn("Баланс скорректирован администратором")
	return out, nil
}

// SwapResult: итог обмена BMT на USD.
type SwapResult struct {
	BMT      decimal.Decimal
	USD      decimal.Decimal
	Price    decimal.Decimal
	Balance  decimal.Decimal
	BMTAfter decimal.Decimal
}

// Swap продаёт amount BMT по текущему курсу из настроек.
func (s *Service) Swap(ctx context.Context, userID int64, amount decimal.Decimal) (*SwapResult, error) {
	if !amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	res := &SwapResult{BMT: amount}
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		st, err := tx.LockSettings(ctx)
		if err != nil {
			return err
		}
		if !st.SwapEnabled {
			return common.ErrFeatureDisabled
		}
		if !st.BMTPriceUSD.IsPositive() {
			return common.Validationf("курс BMT не задан")
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
		usd := common.Round2(amount.Mul(st.BMTPriceUSD))
		if !usd.IsPositive() {
			return common.Validationf("сумма обмена меньше $0.01")
		}
		u.BMTBalance = u.BMTBalance.Sub(amount)
		if _, err := ledger.Post(ctx, tx, u, ledger.Posting{
			Kind:   ledger.KindSwap,
			Amount: usd,
			Note:   fmt.Sprintf("Обмен %s BMT по курсу %s", amount.String(), st.BMTPriceUSD.String()),
		}, s.now()); err != nil {
			return err
		}
		res.USD = usd
		res.Price = st.BMTPriceUSD
		res.Balance = u.BalanceUSD
		res.BMTAfter = u.BMTBalance
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обмена BMT: %w", err)
	}
	log.WithFields(log.Fields{"user_id": userID, "bmt": amount.String(), "usd": res.USD.StringFixed(2)}).Info("Обмен BMT выполнен")
	return res, nil
}

// History возвращает последние limit записей журнала пользователя.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]*ledger.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, limit)
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf), nil
}
