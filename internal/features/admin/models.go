// Package admin реализует админ-панель с парольной аутентификацией.
// models.go описывает структуры сессий, попыток входа и состояния диалога.
package admin

import "time"

// AdminSession: активная сессия администратора.
type AdminSession struct {
	ID              int64
	UserID          int64
	SessionToken    string
	AuthenticatedAt time.Time
	ExpiresAt       time.Time
	LastActivity    time.Time
	IsActive        bool
}

// LoginAttempt: попытка входа (для защиты от brute-force).
type LoginAttempt struct {
	ID          int64
	UserID      int64
	AttemptTime time.Time
	Success     bool
}

// AdminState: состояние пошагового диалога с админом.
type AdminState struct {
	State     string // текущее состояние ("", "awaiting_password", ...)
	Data      any    // данные шага (выбранный пользователь)
	ExpiresAt time.Time
}

// Возможные состояния админ-диалога
const (
	StateNone                 = ""
	StateAwaitingPassword     = "awaiting_password"
	StateManualDepositUser    = "manual_deposit_user"   // ждём ID пользователя
	StateManualDepositAmount  = "manual_deposit_amount" // ждём сумму
	StateManualDepositConfirm = "manual_deposit_bonus"  // ждём «бонус» или «обычное»
)

// manualDepositDraft: данные диалога ручного пополнения.
type manualDepositDraft struct {
	UserID int64
	Amount string
}

const (
	sessionTTL     = 24 * time.Hour
	stateTTL       = 5 * time.Minute
	maxAttempts    = 3
	attemptsWindow = time.Hour
)
