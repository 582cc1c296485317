package mobility

import (
	"context"
	"fmt"

	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/realtime"
)

// Publisher is satisfied by *realtime.Hub.
type Publisher interface {
	Publish(topic string, payload []byte) int
}

// Service writes observations through the Store and, once they are stored,
// publishes them to the matching topic.
type Service struct {
	store Store
	pub   Publisher
}

func NewService(store Store, pub Publisher) *Service {
	return &Service{store: store, pub: pub}
}

// RegisterVehicle creates or replaces a vehicle and announces it on its route.
func (s *Service) RegisterVehicle(ctx context.Context, v Vehicle) (*Vehicle, error) {
	saved, err := s.store.UpsertVehicle(ctx, v)
	if err != nil {
		return nil, err
	}
	s.announce(realtime.TransportTopic(saved.RouteID), EventTransportUpdate, saved)
	return saved, nil
}

func (s *Service) UpdateVehicleLocation(ctx context.Context, vehicleID string, upd LocationUpdate) (*Vehicle, error) {
	v, err := s.store.UpdateVehicleLocation(ctx, vehicleID, upd)
	if err != nil {
		return nil, err
	}
	s.announce(realtime.TransportTopic(v.RouteID), EventTransportUpdate, v)
	return v, nil
}

func (s *Service) VehiclesOnRoute(ctx context.Context, routeID string) ([]Vehicle, error) {
	return s.store.ListActiveVehicles(ctx, routeID)
}

// ReportIncident records a severe, fully congested incident and raises a
// traffic alert.
func (s *Service) ReportIncident(ctx context.Context, report IncidentReport) (*TrafficIncident, error) {
	if report.Location == nil || report.Description == "" {
		return nil, fmt.Errorf("location and description required")
	}
	inc, err := s.store.CreateIncident(ctx, TrafficIncident{
		Location:         *report.Location,
		TrafficLevel:     LevelSevere,
		AverageSpeed:     0,
		CongestionIndex:  1.0,
		IncidentReported: true,
		Description:      report.Description,
	})
	if err != nil {
		return nil, err
	}
	s.announce(realtime.TrafficTopic, EventTrafficAlert, inc)
	return inc, nil
}

func (s *Service) CurrentTraffic(ctx context.Context) ([]TrafficIncident, error) {
	return s.store.RecentTraffic(ctx, CurrentTrafficLimit)
}

func (s *Service) announce(topic, eventType string, payload any) {
	msg, err := realtime.MarshalEnvelope(Event{Type: eventType, Payload: payload})
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("encode mobility event")
		return
	}
	n := s.pub.Publish(topic, msg)
	logging.Debug().
		Str("topic", topic).
		Str("event", eventType).
		Int("recipients", n).
		Msg("mobility event published")
}
