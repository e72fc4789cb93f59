package pause

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Switch is a process-wide pause flag gating mutating operations at
// the transport boundary. The zero value is running.
type Switch struct {
	paused atomic.Bool
}

// NewSwitch returns a running Switch.
func NewSwitch() *Switch {
	return &Switch{}
}

// Pause blocks mutating operations until Resume.
func (pauseSwitch *Switch) Pause() {
	pauseSwitch.paused.Store(true)
}

// Resume lifts a pause.
func (pauseSwitch *Switch) Resume() {
	pauseSwitch.paused.Store(false)
}

// Paused reports whether mutating operations are blocked.
func (pauseSwitch *Switch) Paused() bool {
	return pauseSwitch.paused.Load()
}

// GinMiddleware rejects requests with 503 while the switch is paused.
// Mount it on mutating routes only; reads stay available.
func (pauseSwitch *Switch) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if pauseSwitch.Paused() {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{"code": "paused", "message": "service is paused"},
			})
			return
		}
		ctx.Next()
	}
}
