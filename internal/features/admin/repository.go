// Package admin, repository.go работает с таблицами admin_sessions и admin_login_attempts.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sessionStore: хранилище сессий и попыток входа.
type sessionStore interface {
	CreateSession(ctx context.Context, session *AdminSession) error
	GetActiveSession(ctx context.Context, userID int64) (*AdminSession, error)
	DeactivateSession(ctx context.Context, userID int64) error
	UpdateActivity(ctx context.Context, userID int64) error
	LogAttempt(ctx context.Context, userID int64, success bool) error
	GetRecentAttempts(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Repository работает с админ-таблицами.
type Repository struct {
	db *pgxpool.Pool
}

var _ sessionStore = (*Repository)(nil)

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSession создаёт новую сессию администратора, закрывая прежние.
func (r *Repository) CreateSession(ctx context.Context, session *AdminSession) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE admin_sessions SET is_active = FALSE WHERE user_id = $1`, session.UserID); err != nil {
		return fmt.Errorf("ошибка закрытия старых сессий: %w", err)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO admin_sessions (user_id, session_token, expires_at, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, authenticated_at
	`, session.UserID, session.SessionToken, session.ExpiresAt).Scan(&session.ID, &session.AuthenticatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	session.IsActive = true
	return tx.Commit(ctx)
}

// GetActiveSession возвращает активную сессию пользователя или nil.
func (r *Repository) GetActiveSession(ctx context.Context, userID int64) (*AdminSession, error) {
	query := `
		SELECT id, user_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM admin_sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > NOW()
		ORDER BY authenticated_at DESC
		LIMIT 1
	`
	var s AdminSession
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.ID, &s.UserID, &s.SessionToken, &s.AuthenticatedAt,
		&s.ExpiresAt, &s.LastActivity, &s.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сессии: %w", err)
	}
	return &s, nil
}

// DeactivateSession деактивирует сессии пользователя.
func (r *Repository) DeactivateSession(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE admin_sessions SET is_active = FALSE WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("ошибка завершения сессии: %w", err)
	}
	return nil
}

// UpdateActivity обновляет время последней активности.
func (r *Repository) UpdateActivity(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE admin_sessions SET last_activity = NOW() WHERE user_id = $1 AND is_active = TRUE`, userID)
	return err
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, userID int64, success bool) error {
	_, err := r.db.Exec(ctx, `INSERT INTO admin_login_attempts (user_id, success) VALUES ($1, $2)`, userID, success)
	if err != nil {
		return fmt.Errorf("ошибка записи попытки входа: %w", err)
	}
	return nil
}

// GetRecentAttempts возвращает количество неудачных попыток начиная с since.
func (r *Repository) GetRecentAttempts(ctx context.Context, userID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE user_id = $1 AND success = FALSE AND attempt_time >= $2
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток входа: %w", err)
	}
	return count, nil
}
