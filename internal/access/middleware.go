package access

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// GinMiddleware authenticates the Authorization bearer header and
// aborts unauthenticated requests with 401. The principal is stored
// under contextKey for handlers and in the request context for
// downstream capability checks.
func (authenticator *Authenticator) GinMiddleware(contextKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			abortUnauthorized(ctx, "missing bearer token")
			return
		}
		principal, err := authenticator.ParsePrincipal(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			abortUnauthorized(ctx, "invalid bearer token")
			return
		}
		ctx.Set(contextKey, principal)
		ctx.Request = ctx.Request.WithContext(WithPrincipal(ctx.Request.Context(), principal))
		ctx.Next()
	}
}

func abortUnauthorized(ctx *gin.Context, message string) {
	ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "unauthorized", "message": message},
	})
}
