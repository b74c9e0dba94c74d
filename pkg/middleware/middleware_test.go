package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"crmflow/internal/logger"
	"crmflow/pkg/logging"
)

type panicRecorder struct {
	recovered []interface{}
}

func (r *panicRecorder) Capture(context.Context, error, map[string]string) {}

func (r *panicRecorder) CapturePanic(_ context.Context, recovered interface{}, _ map[string]string) {
	r.recovered = append(r.recovered, recovered)
}

func (r *panicRecorder) Flush(time.Duration) bool { return true }

func TestRecoveryReportsPanics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reporter := &panicRecorder{}

	router := gin.New()
	router.Use(RecoveryMiddleware(logger.NopLogger(), reporter), LoggerMiddleware(logger.NopLogger()))
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, []interface{}{"boom"}, reporter.recovered)
}

func TestRequestIDPropagatesToTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var traceID string
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		traceID = logging.GetTraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", traceID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), traceID)
}

func TestLoggerLevelFollowsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	log := &logger.SugaredLogger{SugaredLogger: zap.New(core).Sugar()}

	router := gin.New()
	router.Use(RequestIDMiddleware(), LoggerMiddleware(log))
	router.GET("/rules/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/rules/r-1", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	router.ServeHTTP(httptest.NewRecorder(), req)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/rules/:id", fields["route"])
	assert.Equal(t, "req-7", fields["trace_id"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
}
