package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"orgdir.io/orgdir/internal/api/handlers"
	"orgdir.io/orgdir/internal/pkg/logger"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func TestRouterRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newRouter(handlers.NewServer(handlers.ServerDeps{Pool: okPinger{}}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/vms", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterLogLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, logger.Init("error", "json"))
	router := newRouter(handlers.NewServer(handlers.ServerDeps{Pool: okPinger{}}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/log/level", strings.NewReader(`{"level":"debug"}`))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, zapcore.DebugLevel, logger.GetLevel())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/log/level", nil))
	require.Contains(t, w.Body.String(), `"level":"debug"`)
	require.NoError(t, logger.SetLevel("error"))
}
