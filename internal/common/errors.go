// Package common, errors.go определяет ошибки, которые используются во всех модулях бота.
// Категории (ErrValidation, ErrStateConflict, ...) позволяют обработчикам различать
// типы проблем через errors.Is и отвечать пользователю понятным сообщением.
package common

import (
	"errors"
	"fmt"
)

// Категории ошибок
var (
	// ErrValidation: некорректный ввод (сумма, метод, адрес, пустое поле)
	ErrValidation = errors.New("некорректные данные")
	// ErrStateConflict: сущность не в том состоянии для запрошенного перехода
	ErrStateConflict = errors.New("заявка уже обработана")
	// ErrNotFound: неизвестный идентификатор
	ErrNotFound = errors.New("не найдено")
	// ErrDependency: внешний сервис недоступен, можно повторить позже
	ErrDependency = errors.New("внешний сервис недоступен, попробуйте позже")
	// ErrConfiguration: неверная глобальная настройка, цикл начислений прерывается
	ErrConfiguration = errors.New("ошибка конфигурации")
)

// Ошибки баланса и аккаунта
var (
	// ErrInsufficientBalance: на балансе недостаточно средств
	ErrInsufficientBalance = newCategorized(ErrValidation, "недостаточно средств на балансе")
	// ErrInvalidAmount: сумма не положительная
	ErrInvalidAmount = newCategorized(ErrValidation, "сумма должна быть положительной")
	// ErrAccountFrozen: аккаунт заморожен администратором
	ErrAccountFrozen = newCategorized(ErrValidation, "аккаунт заморожен")
	// ErrUserNotFound: пользователь не зарегистрирован
	ErrUserNotFound = newCategorized(ErrNotFound, "пользователь не найден, отправьте /start")
)

// Ошибки депозитов, выводов и настроек
var (
	// ErrBonusAlreadyRedeemed: приветственный бонус уже выдан
	ErrBonusAlreadyRedeemed = newCategorized(ErrStateConflict, "приветственный бонус уже получен")
	// ErrNotOwner: заявка принадлежит другому пользователю
	ErrNotOwner = newCategorized(ErrNotFound, "заявка не найдена")
	// ErrFeatureDisabled: функция выключена в глобальных настройках
	ErrFeatureDisabled = newCategorized(ErrValidation, "функция временно отключена")
)

// Ошибки админки
var (
	// ErrNotAdmin: пользователь не является администратором
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrWrongPassword: неверный пароль
	ErrWrongPassword = errors.New("неверный пароль")
	// ErrTooManyAttempts: слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
	// ErrSessionExpired: сессия истекла
	ErrSessionExpired = errors.New("сессия истекла, авторизуйтесь заново")
)

// StateConflictError описывает попытку перехода из неподходящего состояния.
type StateConflictError struct {
	Entity string // "deposit", "withdrawal", "purchase"
	ID     int64
	State  string // текущее состояние
	Action string // запрошенное действие
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s #%d: действие %q невозможно в состоянии %q", e.Entity, e.ID, e.Action, e.State)
}

// Is позволяет проверять ошибку через errors.Is(err, ErrStateConflict).
func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}

// Conflict создаёт StateConflictError.
func Conflict(entity string, id int64, state, action string) error {
	return &StateConflictError{Entity: entity, ID: id, State: state, Action: action}
}

// categorized: ошибка с собственным текстом, относящаяся к одной из категорий.
type categorized struct {
	category error
	msg      string
}

func newCategorized(category error, msg string) error {
	return &categorized{category: category, msg: msg}
}

func (e *categorized) Error() string { return e.msg }

func (e *categorized) Is(target error) bool { return target == e.category }

// Validationf создаёт ошибку категории ErrValidation.
func Validationf(format string, args ...any) error {
	return newCategorized(ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound создаёт ошибку категории ErrNotFound: «deposit #5 не найден».
func NotFound(entity string, id any) error {
	return newCategorized(ErrNotFound, fmt.Sprintf("%s #%v не найден", entity, id))
}

// Configurationf создаёт ошибку категории ErrConfiguration.
func Configurationf(format string, args ...any) error {
	return newCategorized(ErrConfiguration, fmt.Sprintf(format, args...))
}

// Dependency оборачивает сбой внешнего сервиса в категорию ErrDependency.
func Dependency(service string, err error) error {
	return fmt.Errorf("%w (%s): %v", ErrDependency, service, err)
}

// UserMessage превращает ошибку сервиса в текст для пользователя.
// Обёртки слоёв отбрасываются, неизвестные ошибки не раскрываются.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var sc *StateConflictError
	if errors.As(err, &sc) {
		return "❌ Заявка уже обработана: " + sc.State
	}
	var ce *categorized
	if errors.As(err, &ce) {
		return "❌ " + ce.msg
	}
	if errors.Is(err, ErrDependency) {
		return "❌ " + ErrDependency.Error()
	}
	return "❌ Внутренняя ошибка, попробуйте позже"
}
