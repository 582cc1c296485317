package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/urbanease-realtime/internal/config"
	"github.com/urbanease-realtime/internal/http/middleware"
)

type RouterDeps struct {
	Handler *Handler
	AuthMW  *middleware.Auth
	Config  *config.Config
}

const (
	healthPath      = "/health"
	maintenancePath = "/admin/toggle-maintenance"
)

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	if deps.Config.Server.MaintenanceFlag != "" {
		r.Use(middleware.Maintenance(deps.Config.Server.MaintenanceFlag, healthPath, maintenancePath))
	}

	api := r.Group("/api")
	registerAuthRoutes(api.Group("/auth"), deps)
	registerTransportRoutes(api.Group("/transport"), deps)
	registerTrafficRoutes(api.Group("/traffic"), deps)
	registerHubRoutes(api, deps)
	registerSocketRoutes(r.Group("/ws"), deps)

	r.POST(maintenancePath, deps.Handler.ToggleMaintenance)
	r.GET(healthPath, deps.Handler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}

// NewServerHandler is the http.Server handler: the router behind CORS and
// rate limiting.
func NewServerHandler(deps RouterDeps) http.Handler {
	return middleware.Edge(NewRouter(deps), middleware.EdgeConfig{
		AllowedOrigins:    deps.Config.Server.CORSAllowedOrigins,
		RateLimitRequests: deps.Config.Server.RateLimitRequests,
		RateLimitWindow:   deps.Config.Server.RateLimitWindow,
	})
}

func registerAuthRoutes(r *gin.RouterGroup, deps RouterDeps) {
	r.POST("/login", deps.Handler.Login)
	r.GET("/verify", deps.AuthMW.Middleware(), deps.Handler.VerifyToken)
}

func registerTransportRoutes(r *gin.RouterGroup, deps RouterDeps) {
	r.GET("/routes/:route_id/vehicles", deps.Handler.RouteVehicles)
	r.POST("/vehicles", deps.AuthMW.Middleware(), deps.Handler.RegisterVehicle)
	r.PUT("/vehicles/:vehicle_id/location", deps.AuthMW.Middleware(), deps.Handler.UpdateVehicleLocation)
}

func registerTrafficRoutes(r *gin.RouterGroup, deps RouterDeps) {
	r.GET("/current", deps.Handler.CurrentTraffic)
	r.POST("/incidents", deps.AuthMW.Middleware(), deps.Handler.ReportIncident)
}

func registerHubRoutes(r *gin.RouterGroup, deps RouterDeps) {
	r.GET("/hub/topics", deps.Handler.HubTopics)
	r.POST("/broadcast/:topic", deps.AuthMW.Middleware(), deps.Handler.Broadcast)
}

func registerSocketRoutes(r *gin.RouterGroup, deps RouterDeps) {
	if deps.Config.Auth.Required {
		r.Use(deps.AuthMW.Middleware())
	}
	r.GET("/transport/:route_id", deps.Handler.TransportSocket)
	r.GET("/traffic", deps.Handler.TrafficSocket)
}
