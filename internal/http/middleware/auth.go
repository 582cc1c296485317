package middleware

import (
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"github.com/urbanease-realtime/internal/auth"
)

// OperatorIDKey is the gin context key holding the authenticated operator id.
const OperatorIDKey = "operator_id"

type Auth struct {
	service *auth.Service
}

func NewAuth(service *auth.Service) *Auth {
	return &Auth{service: service}
}

func (a *Auth) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := TokenFromRequest(ctx)
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := a.service.Verify(ctx, token)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx.Set(OperatorIDKey, claims.OperatorID)
		ctx.Next()
	}
}

// TokenFromRequest reads a bearer token from the Authorization header or,
// for browser websocket clients that cannot set headers, the token query
// parameter.
func TokenFromRequest(ctx *gin.Context) string {
	if header := ctx.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ctx.Query("token")
}

// OperatorID returns the id set by Middleware.
func OperatorID(ctx *gin.Context) (int64, bool) {
	val, ok := ctx.Get(OperatorIDKey)
	if !ok {
		return 0, false
	}
	id, ok := val.(int64)
	return id, ok
}
