package middleware

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

const maintenancePage = `<!doctype html><html lang="en"><head><meta charset="utf-8"/><title>Maintenance</title></head>
<body style="display:flex;align-items:center;justify-content:center;height:100vh;font-family:sans-serif;">
<div><h1>UrbanEase is under maintenance</h1><p>Live updates will resume shortly.</p></div>
</body></html>`

// Maintenance answers 503 while flagPath exists. Paths in exempt stay
// reachable so the flag can be cleared and probes keep working.
func Maintenance(flagPath string, exempt ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}
	return func(ctx *gin.Context) {
		if _, ok := skip[ctx.Request.URL.Path]; ok {
			ctx.Next()
			return
		}
		if _, err := os.Stat(flagPath); err == nil {
			ctx.Data(http.StatusServiceUnavailable, "text/html; charset=utf-8", []byte(maintenancePage))
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
