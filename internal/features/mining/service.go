// Package mining управляет майнинг-пакетами, покупками и начислениями.
// service.go: каталог пакетов, покупка, выдача/снятие пакета админом, сводка майнеров.
package mining

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/features/referral"
	"blockmine.pro/mining-bot/internal/ledger"
)

// PackageInput: условия нового пакета.
type PackageInput struct {
	Name         string
	PriceUSD     decimal.Decimal
	MiningPower  decimal.Decimal
	DurationDays int
	EarningRate  *decimal.Decimal
	BMTReward    decimal.Decimal
}

// PackageEdit: частичная правка пакета, nil-поля не меняются.
// Правка не затрагивает уже созданные покупки и начисленный доход.
type PackageEdit struct {
	Name         *string
	PriceUSD     *decimal.Decimal
	MiningPower  *decimal.Decimal
	DurationDays *int
	EarningRate  *decimal.Decimal
	ClearRate    bool // вернуть глобальную ставку
	BMTReward    *decimal.Decimal
	IsListed     *bool
}

// PurchaseResult: итог покупки пакета.
type PurchaseResult struct {
	Purchase   *ledger.MiningPurchase
	Package    *ledger.Package
	FromBonus  decimal.Decimal
	FromUSD    decimal.Decimal
	Commission decimal.Decimal // 0, если пригласившего нет
	Buyer      *ledger.User
}

// Service управляет пакетами и покупками.
type Service struct {
	store    ledger.Store
	referral *referral.Engine
	loc      *time.Location
	now      func() time.Time
}

// NewService создаёт сервис майнинга.
func NewService(store ledger.Store, ref *referral.Engine, loc *time.Location) *Service {
	return &Service{store: store, referral: ref, loc: loc, now: time.Now}
}

// SetClock подменяет источник времени.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func validatePackage(p *ledger.Package) error {
	if strings.TrimSpace(p.Name) == "" {
		return common.Validationf("не указано название пакета")
	}
	if !common.Round2(p.PriceUSD).IsPositive() {
		return common.Validationf("цена пакета должна быть положительной")
	}
	if !p.MiningPower.IsPositive() {
		return common.Validationf("мощность пакета должна быть положительной")
	}
	if p.DurationDays <= 0 {
		return common.Validationf("срок пакета должен быть не меньше 1 дня")
	}
	if p.EarningRate != nil && !p.EarningRate.IsPositive() {
		return common.Validationf("ставка пакета должна быть положительной")
	}
	if p.BMTReward.IsNegative() {
		return common.Validationf("награда BMT не может быть отрицательной")
	}
	return nil
}

// CreatePackage добавляет пакет в каталог.
func (s *Service) CreatePackage(ctx context.Context, in PackageInput) (*ledger.Package, error) {
	now := s.now()
	p := &ledger.Package{
		Name:         strings.TrimSpace(in.Name),
		PriceUSD:     common.Round2(in.PriceUSD),
		MiningPower:  in.MiningPower,
		DurationDays: in.DurationDays,
		EarningRate:  in.EarningRate,
		BMTReward:    in.BMTReward,
		IsListed:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validatePackage(p); err != nil {
		return nil, err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.CreatePackage(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пакета: %w", err)
	}
	log.WithFields(log.Fields{"package_id": p.ID, "name": p.Name}).Info("Пакет создан")
	return p, nil
}

// EditPackage меняет условия пакета для будущих покупок.
func (s *Service) EditPackage(ctx context.Context, id int64, e PackageEdit) (*ledger.Package, error) {
	var out *ledger.Package
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LockPackage(ctx, id)
		if err != nil {
			return err
		}
		if e.Name != nil {
			p.Name = strings.TrimSpace(*e.Name)
		}
		if e.PriceUSD != nil {
			p.PriceUSD = common.Round2(*e.PriceUSD)
		}
		if e.MiningPower != nil {
			p.MiningPower = *e.MiningPower
		}
		if e.DurationDays != nil {
			p.DurationDays = *e.DurationDays
		}
		if e.ClearRate {
			p.EarningRate = nil
		} else if e.EarningRate != nil {
			rate := *e.EarningRate
			p.EarningRate = &rate
		}
		if e.BMTReward != nil {
			p.BMTReward = *e.BMTReward
		}
		if e.IsListed != nil {
			p.IsListed = *e.IsListed
		}
		if err := validatePackage(p); err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		out = p
		return tx.UpdatePackage(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка изменения пакета: %w", err)
	}
	log.WithField("package_id", id).Info("Пакет изменён")
	return out, nil
}

// DeletePackage удаляет пакет. Активные покупки остаются и становятся сиротами:
// начисления по ним пропускаются, возврат тела по сроку выполняется.
func (s *Service) DeletePackage(ctx context.Context, id int64) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.DeletePackage(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления пакета: %w", err)
	}
	log.WithField("package_id", id).Warn("Пакет удалён")
	return nil
}

// ListPackages возвращает каталог.
func (s *Service) ListPackages(ctx context.Context, onlyListed bool) ([]*ledger.Package, error) {
	return s.store.ListPackages(ctx, onlyListed)
}

// Purchase покупает пакет: списывает сначала бонусный кошелёк, потом основной,
// начисляет награду BMT и реферальную комиссию пригласившему.
// Всё выполняется в одной транзакции; пользователи блокируются по возрастанию ID.
func (s *Service) Purchase(ctx context.Context, userID, packageID int64) (*PurchaseResult, error) {
	buyer, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	inviter, err := s.referral.ResolveInviter(ctx, buyer)
	if err != nil {
		return nil, err
	}

	res := &PurchaseResult{Commission: decimal.Zero}
	err = s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, inv, err := lockPair(ctx, tx, userID, inviter)
		if err != nil {
			return err
		}
		if u.IsFrozen {
			return common.ErrAccountFrozen
		}
		pkg, err := tx.LockPackage(ctx, packageID)
		if err != nil {
			return err
		}
		if !pkg.IsListed {
			return common.Validationf("пакет «%s» недоступен для покупки", pkg.Name)
		}

		price := common.Round2(pkg.PriceUSD)
		if u.BonusBalanceUSD.Add(u.BalanceUSD).LessThan(price) {
			return common.ErrInsufficientBalance
		}
		fromBonus := decimal.Min(u.BonusBalanceUSD, price)
		fromUSD := price.Sub(fromBonus)

		now := s.now()
		p := &ledger.MiningPurchase{
			UserID:       u.ID,
			PackageID:    pkg.ID,
			PurchaseDate: now,
			DurationDays: pkg.DurationDays,
			IsActive:     true,
			EarningsUSD:  decimal.Zero,
			PrincipalUSD: price,
			CreatedAt:    now,
		}
		if err := tx.CreatePurchase(ctx, p); err != nil {
			return err
		}

		u.BMTBalance = u.BMTBalance.Add(pkg.BMTReward)
		note := fmt.Sprintf("Покупка пакета %s", pkg.Name)
		ref := ledger.Ref("purchase", p.ID)
		if fromBonus.IsPositive() {
			if _, err := ledger.Post(ctx, tx, u, ledger.Posting{
				Kind: ledger.KindPurchase, Wallet: ledger.WalletBonus, Amount: fromBonus.Neg(), Note: note, Ref: ref,
			}, now); err != nil {
				return err
			}
		}
		if fromUSD.IsPositive() {
			if _, err := ledger.Post(ctx, tx, u, ledger.Posting{
				Kind: ledger.KindPurchase, Amount: fromUSD.Neg(), Note: note, Ref: ref,
			}, now); err != nil {
				return err
			}
		}

		if inv != nil {
			t, err := s.referral.Credit(ctx, tx, inv, u, pkg, p.ID, now)
			if err != nil {
				return err
			}
			if t != nil {
				res.Commission = t.AmountUSD
			}
		}

		res.Purchase = p
		res.Package = pkg
		res.FromBonus = fromBonus
		res.FromUSD = fromUSD
		res.Buyer = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка покупки пакета: %w", err)
	}

	log.WithFields(log.Fields{
		"user_id":     userID,
		"purchase_id": res.Purchase.ID,
		"package_id":  packageID,
		"from_bonus":  res.FromBonus.StringFixed(2),
		"from_usd":    res.FromUSD.StringFixed(2),
	}).Info("Пакет куплен")
	return res, nil
}

// lockPair блокирует покупателя и пригласившего по возрастанию ID.
func lockPair(ctx context.Context, tx ledger.Tx, buyerID int64, inviter *ledger.User) (*ledger.User, *ledger.User, error) {
	if inviter == nil {
		u, err := tx.LockUser(ctx, buyerID)
		return u, nil, err
	}
	ids := []int64{buyerID, inviter.ID}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	locked := make(map[int64]*ledger.User, 2)
	for _, id := range ids {
		u, err := tx.LockUser(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = u
	}
	return locked[buyerID], locked[inviter.ID], nil
}

// Attach выдаёт пакет пользователю без оплаты. Тело не возвращается (PrincipalUSD = 0).
func (s *Service) Attach(ctx context.Context, userID, packageID int64) (*ledger.MiningPurchase, error) {
	var out *ledger.MiningPurchase
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		pkg, err := tx.LockPackage(ctx, packageID)
		if err != nil {
			return err
		}
		now := s.now()
		out = &ledger.MiningPurchase{
			UserID:       userID,
			PackageID:    pkg.ID,
			PurchaseDate: now,
			DurationDays: pkg.DurationDays,
			IsActive:     true,
			EarningsUSD:  decimal.Zero,
			PrincipalUSD: decimal.Zero,
			CreatedAt:    now,
		}
		return tx.CreatePurchase(ctx, out)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка выдачи пакета: %w", err)
	}
	log.WithFields(log.Fields{"user_id": userID, "purchase_id": out.ID, "package_id": packageID}).Info("Пакет выдан администратором")
	return out, nil
}

// Detach снимает активную покупку без возврата тела.
func (s *Service) Detach(ctx context.Context, purchaseID int64) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return common.Conflict("purchase", p.ID, "inactive", "detach")
		}
		p.IsActive = false
		return tx.UpdatePurchase(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("ошибка снятия пакета: %w", err)
	}
	log.WithField("purchase_id", purchaseID).Warn("Пакет снят администратором")
	return nil
}

// MinerView: одна покупка в сводке.
type MinerView struct {
	Purchase    *ledger.MiningPurchase
	PackageName string // пусто, если пакет удалён
	MiningPower decimal.Decimal
	DaysLeft    int
}

// Summary: сводка майнеров пользователя.
type Summary struct {
	Active      []MinerView
	Finished    int
	TotalPower  decimal.Decimal
	EarningsUSD decimal.Decimal
}

// Summary строит сводку активных майнеров пользователя.
func (s *Service) Summary(ctx context.Context, userID int64) (*Summary, error) {
	purchases, err := s.store.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения покупок: %w", err)
	}
	pkgs, err := s.packageIndex(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sum := &Summary{TotalPower: decimal.Zero, EarningsUSD: decimal.Zero}
	for _, p := range purchases {
		sum.EarningsUSD = sum.EarningsUSD.Add(p.EarningsUSD)
		if !p.IsActive {
			sum.Finished++
			continue
		}
		view := MinerView{Purchase: p, MiningPower: decimal.Zero}
		if pkg, ok := pkgs[p.PackageID]; ok {
			view.PackageName = pkg.Name
			view.MiningPower = pkg.MiningPower
			sum.TotalPower = sum.TotalPower.Add(pkg.MiningPower)
		}
		view.DaysLeft = p.DurationDays - common.WholeDaysBetween(p.PurchaseDate, now, s.loc)
		if view.DaysLeft < 0 {
			view.DaysLeft = 0
		}
		sum.Active = append(sum.Active, view)
	}
	return sum, nil
}

func (s *Service) packageIndex(ctx context.Context) (map[int64]*ledger.Package, error) {
	list, err := s.store.ListPackages(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пакетов: %w", err)
	}
	idx := make(map[int64]*ledger.Package, len(list))
	for _, p := range list {
		idx[p.ID] = p
	}
	return idx, nil
}
