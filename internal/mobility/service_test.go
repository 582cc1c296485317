package mobility

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/urbanease-realtime/internal/logging"
	"github.com/urbanease-realtime/internal/realtime"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type memStore struct {
	mu        sync.Mutex
	vehicles  map[string]Vehicle
	incidents []TrafficIncident
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{vehicles: make(map[string]Vehicle)}
}

func (m *memStore) UpsertVehicle(_ context.Context, v Vehicle) (*Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	if v.Status == "" {
		v.Status = StatusActive
	}
	v.LastUpdated = time.Now()
	m.vehicles[v.VehicleID] = v
	return &v, nil
}

func (m *memStore) UpdateVehicleLocation(_ context.Context, id string, upd LocationUpdate) (*Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	v, ok := m.vehicles[id]
	if !ok {
		return nil, ErrVehicleNotFound
	}
	v.Location = *upd.Location
	if upd.Speed != nil {
		v.Speed = *upd.Speed
	}
	if upd.Occupancy != nil {
		v.Occupancy = *upd.Occupancy
	}
	if upd.Status != nil {
		v.Status = *upd.Status
	}
	m.vehicles[id] = v
	return &v, nil
}

func (m *memStore) ListActiveVehicles(_ context.Context, routeID string) ([]Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Vehicle
	for _, v := range m.vehicles {
		if v.RouteID == routeID && v.Status == StatusActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) CreateIncident(_ context.Context, inc TrafficIncident) (*TrafficIncident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	inc.ID = int64(len(m.incidents) + 1)
	inc.Timestamp = time.Now()
	m.incidents = append(m.incidents, inc)
	return &inc, nil
}

func (m *memStore) RecentTraffic(_ context.Context, limit int) ([]TrafficIncident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.incidents) > limit {
		return m.incidents[len(m.incidents)-limit:], nil
	}
	return m.incidents, nil
}

type published struct {
	topic   string
	payload []byte
}

type recordingPublisher struct {
	msgs []published
}

func (p *recordingPublisher) Publish(topic string, payload []byte) int {
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return 1
}

func decodeEvent(t *testing.T, payload []byte) (string, map[string]any) {
	t.Helper()
	raw, err := realtime.DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	var ev struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev.Type, ev.Payload
}

func TestUpdateVehicleLocationPublishesToRoute(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	svc := NewService(store, pub)
	ctx := context.Background()

	if _, err := svc.RegisterVehicle(ctx, Vehicle{VehicleID: "bus-1", RouteID: "12", Capacity: 60}); err != nil {
		t.Fatal(err)
	}
	speed := 32.5
	v, err := svc.UpdateVehicleLocation(ctx, "bus-1", LocationUpdate{Location: &Location{Lat: 55.75, Lng: 37.61}, Speed: &speed})
	if err != nil {
		t.Fatalf("UpdateVehicleLocation: %v", err)
	}
	if v.Speed != 32.5 || v.Location.Lat != 55.75 {
		t.Fatalf("vehicle = %+v", v)
	}

	if len(pub.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.msgs))
	}
	last := pub.msgs[1]
	if last.topic != "transport_12" {
		t.Fatalf("topic = %q", last.topic)
	}
	typ, payload := decodeEvent(t, last.payload)
	if typ != EventTransportUpdate || payload["vehicle_id"] != "bus-1" {
		t.Fatalf("event = %s %v", typ, payload)
	}
}

func TestUpdateUnknownVehiclePublishesNothing(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(newMemStore(), pub)

	_, err := svc.UpdateVehicleLocation(context.Background(), "ghost", LocationUpdate{Location: &Location{}})
	if !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("err = %v, want ErrVehicleNotFound", err)
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
}

func TestReportIncident(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	svc := NewService(store, pub)

	inc, err := svc.ReportIncident(context.Background(), IncidentReport{
		Location:    &Location{Lat: 1, Lng: 2},
		Description: "accident on Main St",
	})
	if err != nil {
		t.Fatalf("ReportIncident: %v", err)
	}
	if inc.TrafficLevel != LevelSevere || inc.CongestionIndex != 1.0 || inc.AverageSpeed != 0 || !inc.IncidentReported {
		t.Fatalf("incident = %+v", inc)
	}

	if len(pub.msgs) != 1 || pub.msgs[0].topic != realtime.TrafficTopic {
		t.Fatalf("published = %+v", pub.msgs)
	}
	typ, payload := decodeEvent(t, pub.msgs[0].payload)
	if typ != EventTrafficAlert || payload["incident_description"] != "accident on Main St" {
		t.Fatalf("event = %s %v", typ, payload)
	}
}

func TestPersistFailurePublishesNothing(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("db down")
	pub := &recordingPublisher{}
	svc := NewService(store, pub)

	if _, err := svc.ReportIncident(context.Background(), IncidentReport{Location: &Location{}, Description: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := svc.RegisterVehicle(context.Background(), Vehicle{VehicleID: "a", RouteID: "1"}); err == nil {
		t.Fatal("expected error")
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
}

func TestServiceWithHubDeliversToRouteSubscribers(t *testing.T) {
	hub := realtime.NewHub(realtime.Options{})
	t.Cleanup(hub.Close)

	got := make(chan []byte, 1)
	if _, err := hub.Subscribe("transport_7", realtime.HandleFunc(func(_ context.Context, p []byte) error {
		got <- p
		return nil
	})); err != nil {
		t.Fatal(err)
	}

	svc := NewService(newMemStore(), hub)
	if _, err := svc.RegisterVehicle(context.Background(), Vehicle{VehicleID: "tram-3", RouteID: "7"}); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-got:
		if typ, _ := decodeEvent(t, p); typ != EventTransportUpdate {
			t.Fatalf("type = %s", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}
