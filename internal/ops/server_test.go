package ops

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRouter_Healthz(t *testing.T) {
	tests := []struct {
		name     string
		db       Pinger
		wantCode int
		wantBody string
	}{
		{"без БД", nil, http.StatusOK, `"ok"`},
		{"БД доступна", pingerFunc(func(context.Context) error { return nil }), http.StatusOK, `"ok"`},
		{"БД недоступна", pingerFunc(func(context.Context) error { return errors.New("down") }), http.StatusServiceUnavailable, `"db unavailable"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewRouter(tt.db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
