package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/realtime"
	"github.com/urbanease-realtime/internal/validation"
)

// TransportSocket streams transport_<route_id>.
func (h *Handler) TransportSocket(ctx *gin.Context) {
	routeID := ctx.Param("route_id")
	if !validation.IsRouteID(routeID) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "unknown route"})
		return
	}
	h.serveSocket(ctx, realtime.TransportTopic(routeID))
}

// TrafficSocket streams the city-wide traffic topic.
func (h *Handler) TrafficSocket(ctx *gin.Context) {
	h.serveSocket(ctx, realtime.TrafficTopic)
}

func (h *Handler) serveSocket(ctx *gin.Context, topic string) {
	ws, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Warn().Err(err).Str("topic", topic).Msg("websocket upgrade failed")
		return
	}

	if err := realtime.ServeConn(ctx.Request.Context(), h.hub, ws, topic, h.connOpts); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("websocket subscribe rejected")
	}
}
