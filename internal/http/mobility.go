package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/mobility"
	"github.com/urbanease-realtime/internal/validation"
)

func (h *Handler) RouteVehicles(ctx *gin.Context) {
	routeID := ctx.Param("route_id")
	if !validation.IsRouteID(routeID) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid route id"})
		return
	}

	vehicles, err := h.mobility.VehiclesOnRoute(ctx, routeID)
	if err != nil {
		h.internalError(ctx, err, "list vehicles")
		return
	}
	ctx.JSON(http.StatusOK, vehicles)
}

func (h *Handler) RegisterVehicle(ctx *gin.Context) {
	var req mobility.Vehicle
	if !h.validator.BindJSON(ctx, &req) {
		return
	}

	v, err := h.mobility.RegisterVehicle(ctx, req)
	if err != nil {
		h.internalError(ctx, err, "register vehicle")
		return
	}
	ctx.JSON(http.StatusCreated, v)
}

func (h *Handler) UpdateVehicleLocation(ctx *gin.Context) {
	var req mobility.LocationUpdate
	if !h.validator.BindJSON(ctx, &req) {
		return
	}

	v, err := h.mobility.UpdateVehicleLocation(ctx, ctx.Param("vehicle_id"), req)
	if errors.Is(err, mobility.ErrVehicleNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}
	if err != nil {
		h.internalError(ctx, err, "update vehicle location")
		return
	}
	ctx.JSON(http.StatusOK, v)
}

func (h *Handler) CurrentTraffic(ctx *gin.Context) {
	data, err := h.mobility.CurrentTraffic(ctx)
	if err != nil {
		h.internalError(ctx, err, "current traffic")
		return
	}
	ctx.JSON(http.StatusOK, data)
}

func (h *Handler) ReportIncident(ctx *gin.Context) {
	var req mobility.IncidentReport
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Location == nil || req.Description == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "location and description required"})
		return
	}
	if !h.validator.ValidateStruct(ctx, &req) {
		return
	}

	inc, err := h.mobility.ReportIncident(ctx, req)
	if err != nil {
		h.internalError(ctx, err, "report incident")
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": "incident reported", "incident": inc})
}

func (h *Handler) internalError(ctx *gin.Context, err error, op string) {
	_ = ctx.Error(err)
	if errors.Is(err, mobility.ErrStoreUnavailable) {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable"})
		return
	}
	logging.Error().Err(err).Str("op", op).Msg("request failed")
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
