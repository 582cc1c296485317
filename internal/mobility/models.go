// Package mobility stores transport and traffic observations and announces
// each change on the realtime hub.
package mobility

import (
	"errors"
	"time"
)

// ErrVehicleNotFound is returned when a location update names an unknown vehicle.
var ErrVehicleNotFound = errors.New("vehicle not found")

const (
	StatusActive      = "active"
	StatusMaintenance = "maintenance"
	StatusInactive    = "inactive"

	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
	LevelSevere = "severe"
)

// Event types carried in the envelope payload.
const (
	EventTransportUpdate = "transport_update"
	EventTrafficAlert    = "traffic_alert"
)

// CurrentTrafficLimit is how many of the latest traffic rows CurrentTraffic returns.
const CurrentTrafficLimit = 50

type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type Vehicle struct {
	VehicleID   string    `json:"vehicle_id" validate:"required,max=50"`
	RouteID     string    `json:"route_id" validate:"required,max=50,route_id"`
	Location    Location  `json:"current_location"`
	Speed       float64   `json:"speed" validate:"gte=0,lt=1000"`
	Capacity    int       `json:"capacity" validate:"gte=0"`
	Occupancy   int       `json:"occupancy" validate:"gte=0"`
	Status      string    `json:"status" validate:"omitempty,oneof=active maintenance inactive"`
	LastUpdated time.Time `json:"last_updated"`
}

// LocationUpdate is a position report for an existing vehicle. Nil fields
// keep their stored value.
type LocationUpdate struct {
	Location  *Location `json:"current_location" validate:"required"`
	Speed     *float64  `json:"speed" validate:"omitempty,gte=0,lt=1000"`
	Occupancy *int      `json:"occupancy" validate:"omitempty,gte=0"`
	Status    *string   `json:"status" validate:"omitempty,oneof=active maintenance inactive"`
}

type TrafficIncident struct {
	ID               int64     `json:"id"`
	Location         Location  `json:"location"`
	TrafficLevel     string    `json:"traffic_level"`
	AverageSpeed     float64   `json:"average_speed"`
	CongestionIndex  float64   `json:"congestion_index"`
	IncidentReported bool      `json:"incident_reported"`
	Description      string    `json:"incident_description"`
	Timestamp        time.Time `json:"timestamp"`
}

type IncidentReport struct {
	Location    *Location `json:"location" validate:"required"`
	Description string    `json:"description" validate:"required,max=2000"`
}

// Event is the payload of every envelope mobility publishes.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
