package mobility

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store interface {
	UpsertVehicle(ctx context.Context, v Vehicle) (*Vehicle, error)
	UpdateVehicleLocation(ctx context.Context, vehicleID string, upd LocationUpdate) (*Vehicle, error)
	ListActiveVehicles(ctx context.Context, routeID string) ([]Vehicle, error)
	CreateIncident(ctx context.Context, inc TrafficIncident) (*TrafficIncident, error)
	RecentTraffic(ctx context.Context, limit int) ([]TrafficIncident, error)
}

// PGStore is the PostgreSQL Store.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const vehicleColumns = `vehicle_id, route_id, lat, lng, speed, capacity, occupancy, status, last_updated`

func scanVehicle(row pgx.Row) (*Vehicle, error) {
	var v Vehicle
	err := row.Scan(&v.VehicleID, &v.RouteID, &v.Location.Lat, &v.Location.Lng,
		&v.Speed, &v.Capacity, &v.Occupancy, &v.Status, &v.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PGStore) UpsertVehicle(ctx context.Context, v Vehicle) (*Vehicle, error) {
	if v.Status == "" {
		v.Status = StatusActive
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transport_vehicles (vehicle_id, route_id, lat, lng, speed, capacity, occupancy, status, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (vehicle_id) DO UPDATE SET
			route_id = EXCLUDED.route_id, lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			speed = EXCLUDED.speed, capacity = EXCLUDED.capacity, occupancy = EXCLUDED.occupancy,
			status = EXCLUDED.status, last_updated = NOW()
		RETURNING `+vehicleColumns,
		v.VehicleID, v.RouteID, v.Location.Lat, v.Location.Lng, v.Speed, v.Capacity, v.Occupancy, v.Status)
	saved, err := scanVehicle(row)
	if err != nil {
		return nil, fmt.Errorf("upsert vehicle %s: %w", v.VehicleID, err)
	}
	return saved, nil
}

func (s *PGStore) UpdateVehicleLocation(ctx context.Context, vehicleID string, upd LocationUpdate) (*Vehicle, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE transport_vehicles SET
			lat = $2, lng = $3,
			speed = COALESCE($4, speed),
			occupancy = COALESCE($5, occupancy),
			status = COALESCE($6, status),
			last_updated = NOW()
		WHERE vehicle_id = $1
		RETURNING `+vehicleColumns,
		vehicleID, upd.Location.Lat, upd.Location.Lng, upd.Speed, upd.Occupancy, upd.Status)
	v, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update vehicle %s: %w", vehicleID, err)
	}
	return v, nil
}

func (s *PGStore) ListActiveVehicles(ctx context.Context, routeID string) ([]Vehicle, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+vehicleColumns+` FROM transport_vehicles
		WHERE route_id = $1 AND status = $2 ORDER BY vehicle_id`, routeID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := make([]Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, *v)
	}
	return vehicles, rows.Err()
}

func (s *PGStore) CreateIncident(ctx context.Context, inc TrafficIncident) (*TrafficIncident, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO traffic_data (lat, lng, traffic_level, average_speed, congestion_index, incident_reported, incident_description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, reported_at`,
		inc.Location.Lat, inc.Location.Lng, inc.TrafficLevel, inc.AverageSpeed,
		inc.CongestionIndex, inc.IncidentReported, inc.Description).Scan(&inc.ID, &inc.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	return &inc, nil
}

func (s *PGStore) RecentTraffic(ctx context.Context, limit int) ([]TrafficIncident, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lat, lng, traffic_level, average_speed, congestion_index, incident_reported, incident_description, reported_at
		FROM traffic_data ORDER BY reported_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TrafficIncident, 0, limit)
	for rows.Next() {
		var inc TrafficIncident
		if err := rows.Scan(&inc.ID, &inc.Location.Lat, &inc.Location.Lng, &inc.TrafficLevel,
			&inc.AverageSpeed, &inc.CongestionIndex, &inc.IncidentReported, &inc.Description, &inc.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
