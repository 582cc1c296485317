package http

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/urbanease-realtime/internal/auth"
	"github.com/urbanease-realtime/internal/config"
	"github.com/urbanease-realtime/internal/http/middleware"
	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/mobility"
	"github.com/urbanease-realtime/internal/realtime"
	"github.com/urbanease-realtime/internal/validation"
)

// maxBroadcastBody matches the websocket frame limit.
const maxBroadcastBody = 512 * 1024

type Handler struct {
	hub       *realtime.Hub
	mobility  *mobility.Service
	auth      *auth.Service
	validator *validation.Validator
	cfg       *config.Config
	upgrader  websocket.Upgrader
	connOpts  realtime.ConnOptions
}

func NewHandler(hub *realtime.Hub, mobilitySvc *mobility.Service, authSvc *auth.Service, cfg *config.Config) *Handler {
	return &Handler{
		hub:       hub,
		mobility:  mobilitySvc,
		auth:      authSvc,
		validator: validation.New(),
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		connOpts: realtime.ConnOptions{
			PublishRate:  cfg.Hub.PublishRate,
			PublishBurst: cfg.Hub.PublishBurst,
		},
	}
}

// ---------------------- AUTH ----------------------

func (h *Handler) Login(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if !h.validator.BindJSON(ctx, &req) {
		return
	}

	token, op, err := h.auth.Login(ctx, req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("operator login failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"token": token, "operator": op})
}

func (h *Handler) VerifyToken(ctx *gin.Context) {
	id, _ := middleware.OperatorID(ctx)
	ctx.JSON(http.StatusOK, gin.H{"valid": true, "operator_id": id})
}

// ---------------------- HUB ----------------------

func (h *Handler) HubTopics(ctx *gin.Context) {
	topics := h.hub.Topics()
	total := 0
	for _, t := range topics {
		total += t.Subscribers
	}
	ctx.JSON(http.StatusOK, gin.H{"topics": topics, "subscribers": total})
}

// Broadcast publishes a {"message": ...} body to any topic on behalf of an
// operator.
func (h *Handler) Broadcast(ctx *gin.Context) {
	topic := ctx.Param("topic")
	if err := realtime.ValidateTopic(topic); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid topic"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxBroadcastBody))
	if err != nil {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}
	payload, err := realtime.DecodeEnvelope(body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object with a message field"})
		return
	}
	msg, err := realtime.EncodeEnvelope(payload)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recipients := h.hub.Publish(topic, msg)
	operatorID, _ := middleware.OperatorID(ctx)
	logging.Info().
		Str("topic", topic).
		Int64("operator_id", operatorID).
		Int("recipients", recipients).
		Msg("operator broadcast")
	ctx.JSON(http.StatusAccepted, gin.H{"topic": topic, "recipients": recipients})
}

// ---------------------- MAINTENANCE ----------------------

func (h *Handler) ToggleMaintenance(ctx *gin.Context) {
	token := ctx.GetHeader("x-admin-token")
	if token == "" {
		token = ctx.Query("admin_token")
	}
	if token == "" {
		if cookie, err := ctx.Cookie("admin_token"); err == nil {
			token = cookie
		}
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.Server.AdminToken)) != 1 {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	flag := h.cfg.Server.MaintenanceFlag
	if flag == "" {
		flag = "maintenance.flag"
	}
	if _, err := os.Stat(flag); err == nil {
		if err := os.Remove(flag); err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not disable maintenance mode"})
			return
		}
		logging.Info().Msg("maintenance mode disabled")
		ctx.JSON(http.StatusOK, gin.H{"message": "maintenance_disabled"})
		return
	}
	if err := os.WriteFile(flag, []byte("on"), 0o644); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not enable maintenance mode"})
		return
	}
	logging.Info().Msg("maintenance mode enabled")
	ctx.JSON(http.StatusOK, gin.H{"message": "maintenance_enabled"})
}

func (h *Handler) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok", "topics": h.hub.TopicCount()})
}
