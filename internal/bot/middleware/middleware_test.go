package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Close()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allowAt(1, start), "запрос %d", i)
	}
	assert.False(t, rl.allowAt(1, start))

	// другой пользователь не затронут
	assert.True(t, rl.allowAt(2, start))

	// один токен восполняется за window/limit
	assert.True(t, rl.allowAt(1, start.Add(20*time.Second)))
	assert.False(t, rl.allowAt(1, start.Add(20*time.Second)))
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.allowAt(1, start)
	rl.allowAt(2, start.Add(9*time.Minute))

	rl.evictIdle(start.Add(11 * time.Minute))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limiters, int64(1))
	assert.Contains(t, rl.limiters, int64(2))
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"короткий", "привет", 10, "привет"},
		{"ровно", "абв", 3, "абв"},
		{"кириллица", "пароль123", 6, "пароль..."},
		{"пустой", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateText(tt.in, tt.n))
		})
	}
}

func TestRecoverFromPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverFromPanic(42)
		panic("boom")
	})
}
