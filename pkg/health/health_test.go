package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestRegistryStatus(t *testing.T) {
	tests := []struct {
		name     string
		required func(context.Context) error
		optional func(context.Context) error
		want     Status
	}{
		{"all healthy", ok, ok, StatusHealthy},
		{"optional down degrades", ok, down, StatusDegraded},
		{"required down fails", down, ok, StatusUnhealthy},
		{"both down fails", down, down, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			r.Register(NewCheckFunc("postgresql", tt.required))
			r.RegisterOptional(NewCheckFunc("mongodb", tt.optional))

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			require.Len(t, h.Checks, 2)
			assert.True(t, h.Checks["mongodb"].Optional)
		})
	}
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	assert.NoError(t, NewRedisChecker(client).Check(context.Background()))
	assert.Error(t, NewRedisChecker(nil).Check(context.Background()))

	mr.Close()
	assert.Error(t, NewRedisChecker(client).Check(context.Background()))
}

func TestHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(r *CheckerRegistry) *httptest.ResponseRecorder {
		router := gin.New()
		router.GET("/health", r.Handler())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		return w
	}

	degraded := NewCheckerRegistry()
	degraded.Register(NewCheckFunc("postgresql", ok))
	degraded.RegisterOptional(NewCheckFunc("redis", down))
	w := serve(degraded)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	unhealthy := NewCheckerRegistry()
	unhealthy.Register(NewCheckFunc("postgresql", down))
	w = serve(unhealthy)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
