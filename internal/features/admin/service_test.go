package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockmine.pro/mining-bot/internal/common"
	"blockmine.pro/mining-bot/internal/config"
)

const (
	adminID  = int64(42)
	password = "s3cret-pass"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[int64]*AdminSession
	attempts []LoginAttempt
	clock    func() time.Time
}

func (f *fakeSessions) CreateSession(ctx context.Context, s *AdminSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.IsActive = true
	s.AuthenticatedAt = f.clock()
	f.sessions[s.UserID] = s
	return nil
}

func (f *fakeSessions) GetActiveSession(ctx context.Context, userID int64) (*AdminSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[userID]
	if !ok || !s.IsActive {
		return nil, nil
	}
	return s, nil
}

func (f *fakeSessions) DeactivateSession(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[userID]; ok {
		s.IsActive = false
	}
	return nil
}

func (f *fakeSessions) UpdateActivity(ctx context.Context, userID int64) error { return nil }

func (f *fakeSessions) LogAttempt(ctx context.Context, userID int64, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, LoginAttempt{UserID: userID, AttemptTime: f.clock(), Success: success})
	return nil
}

func (f *fakeSessions) GetRecentAttempts(ctx context.Context, userID int64, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.UserID == userID && !a.Success && !a.AttemptTime.Before(since) {
			n++
		}
	}
	return n, nil
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *fakeSessions, *testClock) {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	sessions := &fakeSessions{sessions: make(map[int64]*AdminSession), clock: clock.now}
	cfg := &config.Config{AdminIDs: []int64{adminID}, AdminPasswordHash: hash}

	svc := newService(sessions, cfg)
	svc.SetClock(clock.now)
	return svc, sessions, clock
}

func TestHashPassword_Verifies(t *testing.T) {
	hash, err := HashPassword(password)
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=65536,t=3,p=2$")

	assert.True(t, verifyArgon2id(password, hash))
	assert.False(t, verifyArgon2id("wrong", hash))
	assert.False(t, verifyArgon2id(password, "not-a-hash"))
	assert.False(t, verifyArgon2id(password, "$bcrypt$v=19$m=1,t=1,p=1$AAAA$AAAA"))

	other, err := HashPassword(password)
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "соль случайная")
}

func TestVerifyPassword_CreatesSession(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	assert.False(t, svc.HasActiveSession(ctx, adminID))
	require.NoError(t, svc.VerifyPassword(ctx, adminID, password))
	assert.True(t, svc.HasActiveSession(ctx, adminID))

	clock.advance(sessionTTL + time.Minute)
	assert.False(t, svc.HasActiveSession(ctx, adminID), "сессия живёт 24 часа")
}

func TestVerifyPassword_Rejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.VerifyPassword(ctx, 7, password), common.ErrNotAdmin)
	assert.ErrorIs(t, svc.VerifyPassword(ctx, adminID, "nope"), common.ErrWrongPassword)
	assert.False(t, svc.HasActiveSession(ctx, adminID))
}

func TestVerifyPassword_LocksAfterThreeFailures(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	for i := 0; i < maxAttempts; i++ {
		assert.ErrorIs(t, svc.VerifyPassword(ctx, adminID, "nope"), common.ErrWrongPassword)
		clock.advance(time.Minute)
	}
	assert.ErrorIs(t, svc.VerifyPassword(ctx, adminID, password), common.ErrTooManyAttempts,
		"даже верный пароль не принимается во время блокировки")

	clock.advance(attemptsWindow)
	assert.NoError(t, svc.VerifyPassword(ctx, adminID, password))
}

func TestLogout(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.VerifyPassword(ctx, adminID, password))
	svc.SetState(adminID, StateManualDepositUser, nil)

	require.NoError(t, svc.Logout(ctx, adminID))
	assert.False(t, svc.HasActiveSession(ctx, adminID))
	assert.Nil(t, svc.GetState(adminID))
}

func TestState_ExpiresAfterTimeout(t *testing.T) {
	svc, _, clock := newTestService(t)

	svc.SetState(adminID, StateManualDepositAmount, &manualDepositDraft{UserID: 1})
	st := svc.GetState(adminID)
	require.NotNil(t, st)
	assert.Equal(t, StateManualDepositAmount, st.State)

	clock.advance(stateTTL + time.Second)
	assert.Nil(t, svc.GetState(adminID))
}
