// Package admin, service.go содержит логику аутентификации, управления сессиями
// и state-машину для пошаговых админ-действий.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/config"
)

// Параметры Argon2id для новых хешей.
const (
	argonMemory      = 64 * 1024
	argonIterations  = 3
	argonParallelism = 2
	argonSaltLen     = 16
	argonKeyLen      = 32
)

// Service управляет админ-панелью.
type Service struct {
	repo     sessionStore
	cfg      *config.Config
	states   map[int64]*AdminState // состояния диалогов (in-memory)
	statesMu sync.RWMutex
	now      func() time.Time
}

// NewService создаёт сервис админ-панели.
func NewService(repo *Repository, cfg *config.Config) *Service {
	return newService(repo, cfg)
}

func newService(repo sessionStore, cfg *config.Config) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		states: make(map[int64]*AdminState),
		now:    time.Now,
	}
}

// SetClock подменяет источник времени.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// IsAdmin: входит ли пользователь в ADMIN_IDS.
func (s *Service) IsAdmin(userID int64) bool {
	return s.cfg.IsAdmin(userID)
}

// VerifyPassword проверяет пароль администратора с использованием Argon2id.
// Включает защиту от brute-force: 3 неудачные попытки = блокировка на 1 час.
func (s *Service) VerifyPassword(ctx context.Context, userID int64, password string) error {
	if !s.IsAdmin(userID) {
		return common.ErrNotAdmin
	}

	attempts, err := s.repo.GetRecentAttempts(ctx, userID, s.now().Add(-attemptsWindow))
	if err != nil {
		return err
	}
	if attempts >= maxAttempts {
		return common.ErrTooManyAttempts
	}

	match := verifyArgon2id(password, s.cfg.AdminPasswordHash)
	if err := s.repo.LogAttempt(ctx, userID, match); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось записать попытку входа")
	}
	if !match {
		log.WithField("user_id", userID).Warn("[ADMIN] Неверный пароль")
		return common.ErrWrongPassword
	}

	session := &AdminSession{
		UserID:       userID,
		SessionToken: generateSecureToken(),
		ExpiresAt:    s.now().Add(sessionTTL),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return err
	}
	log.WithField("user_id", userID).Info("[ADMIN] Вход в админ-панель")
	return nil
}

// HasActiveSession проверяет, есть ли у пользователя активная сессия.
func (s *Service) HasActiveSession(ctx context.Context, userID int64) bool {
	session, err := s.repo.GetActiveSession(ctx, userID)
	if err != nil || session == nil {
		return false
	}
	return s.now().Before(session.ExpiresAt)
}

// Touch продлевает отметку активности сессии.
func (s *Service) Touch(ctx context.Context, userID int64) {
	if err := s.repo.UpdateActivity(ctx, userID); err != nil {
		log.WithError(err).Debug("Не удалось обновить активность сессии")
	}
}

// Logout завершает сессию и сбрасывает диалог.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	s.ClearState(userID)
	return s.repo.DeactivateSession(ctx, userID)
}

// GetState возвращает текущее состояние диалога.
func (s *Service) GetState(userID int64) *AdminState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()

	state, ok := s.states[userID]
	if !ok {
		return nil
	}
	if s.now().After(state.ExpiresAt) {
		return nil
	}
	return state
}

// SetState устанавливает состояние диалога с 5-минутным таймаутом.
func (s *Service) SetState(userID int64, stateName string, data any) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	s.states[userID] = &AdminState{
		State:     stateName,
		Data:      data,
		ExpiresAt: s.now().Add(stateTTL),
	}
}

// ClearState сбрасывает состояние диалога.
func (s *Service) ClearState(userID int64) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	delete(s.states, userID)
}

// --- Криптографические утилиты ---

// HashPassword возвращает хеш Argon2id в формате, который понимает verifyArgon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id проверяет пароль по хешу Argon2id.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// сравнение в постоянном времени
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}

// generateSecureToken генерирует криптографически безопасный токен сессии.
func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}
