package ledger

import (
	"fmt"
	"strings"
)

// Kind задаёт тип проводки. Набор закрыт: неизвестный тип журнал не примет.
type Kind string

const (
	KindDeposit            Kind = "deposit"
	KindWithdrawal         Kind = "withdrawal"
	KindWithdrawalRefund   Kind = "withdrawal-refund"
	KindPurchase           Kind = "purchase"
	KindEarnings           Kind = "earnings"
	KindReferralCommission Kind = "referral-commission"
	KindPrincipalRefund    Kind = "principal-refund"
	KindBonusDeposit       Kind = "bonus-deposit"
	KindSwap               Kind = "swap"
	KindAdjustment         Kind = "adjustment"
)

// direction: +1 только приход, -1 только расход, 0 любой знак.
var kindDirection = map[Kind]int{
	KindDeposit:            +1,
	KindWithdrawal:         -1,
	KindWithdrawalRefund:   +1,
	KindPurchase:           -1,
	KindEarnings:           +1,
	KindReferralCommission: +1,
	KindPrincipalRefund:    +1,
	KindBonusDeposit:       +1,
	KindSwap:               +1,
	KindAdjustment:         0,
}

// Valid сообщает, входит ли тип в закрытый набор.
func (k Kind) Valid() bool {
	_, ok := kindDirection[k]
	return ok
}

// Title: подпись для истории операций.
func (k Kind) Title() string {
	switch k {
	case KindDeposit:
		return "Пополнение"
	case KindWithdrawal:
		return "Вывод"
	case KindWithdrawalRefund:
		return "Возврат вывода"
	case KindPurchase:
		return "Покупка пакета"
	case KindEarnings:
		return "Доход майнинга"
	case KindReferralCommission:
		return "Реферальная комиссия"
	case KindPrincipalRefund:
		return "Возврат тела пакета"
	case KindBonusDeposit:
		return "Бонус"
	case KindSwap:
		return "Обмен BMT"
	case KindAdjustment:
		return "Корректировка"
	}
	return string(k)
}

// Wallet: кошелёк пользователя, которого касается проводка.
type Wallet string

const (
	WalletUSD   Wallet = "usd"   // BalanceUSD
	WalletBonus Wallet = "bonus" // BonusBalanceUSD
)

// Valid сообщает, известен ли кошелёк.
func (w Wallet) Valid() bool {
	return w == WalletUSD || w == WalletBonus
}

// DepositStatus: состояние заявки на пополнение.
type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
	DepositCanceled DepositStatus = "canceled"
)

// DepositSource: кто создал пополнение.
// Бонус бывает только у ручного пополнения админом.
type DepositSource string

const (
	SourceUser       DepositSource = "user"
	SourceAdmin      DepositSource = "admin"
	SourceAdminBonus DepositSource = "admin-bonus"
)

// IsAdmin: пополнение создано админом (уведомление пользователю не отправляется).
func (s DepositSource) IsAdmin() bool {
	return s == SourceAdmin || s == SourceAdminBonus
}

// IsBonus: пополнение идёт на бонусный кошелёк.
func (s DepositSource) IsBonus() bool {
	return s == SourceAdminBonus
}

// WithdrawalStatus: состояние заявки на вывод.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
	WithdrawalPaid     WithdrawalStatus = "paid"
)

// WithdrawalMethod: способ выплаты из белого списка.
type WithdrawalMethod string

const (
	MethodUSDTTRC20 WithdrawalMethod = "usdt-trc20"
	MethodUSDTERC20 WithdrawalMethod = "usdt-erc20"
	MethodBTC       WithdrawalMethod = "btc"
	MethodPayPal    WithdrawalMethod = "paypal"
)

// WithdrawalMethods: белый список способов выплаты.
var WithdrawalMethods = []WithdrawalMethod{MethodUSDTTRC20, MethodUSDTERC20, MethodBTC, MethodPayPal}

// ParseWithdrawalMethod разбирает способ выплаты ("USDT-TRC20", "trc20", "btc", ...).
func ParseWithdrawalMethod(s string) (WithdrawalMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "usdt-trc20", "trc20", "usdt_trc20":
		return MethodUSDTTRC20, nil
	case "usdt-erc20", "erc20", "usdt_erc20":
		return MethodUSDTERC20, nil
	case "btc", "bitcoin":
		return MethodBTC, nil
	case "paypal":
		return MethodPayPal, nil
	}
	return "", fmt.Errorf("неизвестный способ вывода %q", s)
}

// Ref формирует ссылку на сущность для поля Transaction.Ref.
func Ref(entity string, id int64) string {
	return fmt.Sprintf("%s:%d", entity, id)
}
