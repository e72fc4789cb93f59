package pause

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestSwitchToggles(t *testing.T) {
	t.Parallel()
	pauseSwitch := NewSwitch()
	require.False(t, pauseSwitch.Paused())

	pauseSwitch.Pause()
	require.True(t, pauseSwitch.Paused())

	pauseSwitch.Resume()
	require.False(t, pauseSwitch.Paused())
}

func TestGinMiddlewareBlocksWhilePaused(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	pauseSwitch := NewSwitch()
	pauseSwitch.Pause()

	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/v1/activate", nil)

	pauseSwitch.GinMiddleware()(ctx)

	require.True(t, ctx.IsAborted())
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestGinMiddlewarePassesWhileRunning(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	pauseSwitch := NewSwitch()

	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/v1/activate", nil)

	pauseSwitch.GinMiddleware()(ctx)

	require.False(t, ctx.IsAborted())
}
