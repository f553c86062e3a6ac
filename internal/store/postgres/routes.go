package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

const routeColumns = `id, destination_type, data_format, interval_s, headers,
	destination_url, file_path, topic, devices, last_updated`

func scanRoute(row pgx.Row) (model.Route, error) {
	var r model.Route
	err := row.Scan(&r.ID, &r.DestinationType, &r.DataFormat, &r.Interval, &r.Headers,
		&r.DestinationURL, &r.FilePath, &r.Topic, &r.Devices, &r.LastUpdated)
	return r, err
}

func (s *Store) ListRoutes(ctx context.Context) ([]model.Route, error) {
	rows, err := s.db.Query(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na routy: %w", err)
	}
	defer rows.Close()

	routes := []model.Route{}
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *Store) GetRoute(ctx context.Context, id int64) (model.Route, error) {
	r, err := scanRoute(s.db.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, id))
	if err != nil {
		return model.Route{}, mapErr(err, fmt.Sprintf("routa %d", id))
	}
	return r, nil
}

func nonNilRoute(r model.Route) model.Route {
	if r.Headers == nil {
		r.Headers = []model.Header{}
	}
	if r.Devices == nil {
		r.Devices = []string{}
	}
	return r
}

func (s *Store) CreateRoute(ctx context.Context, r model.Route) (model.Route, error) {
	r = nonNilRoute(r)
	err := s.db.QueryRow(ctx, `
		INSERT INTO routes (destination_type, data_format, interval_s, headers,
			destination_url, file_path, topic, devices, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		r.DestinationType, r.DataFormat, r.Interval, r.Headers,
		r.DestinationURL, r.FilePath, r.Topic, r.Devices, r.LastUpdated,
	).Scan(&r.ID)
	if err != nil {
		return model.Route{}, mapErr(err, "nová routa")
	}
	return r, nil
}

// UpdateRoute přepíše nastavení routy. last_updated zapisuje jen forwarding.
func (s *Store) UpdateRoute(ctx context.Context, r model.Route) (model.Route, error) {
	r = nonNilRoute(r)
	err := s.db.QueryRow(ctx, `
		UPDATE routes SET
			destination_type = $2, data_format = $3, interval_s = $4, headers = $5,
			destination_url = $6, file_path = $7, topic = $8, devices = $9
		WHERE id = $1
		RETURNING last_updated`,
		r.ID, r.DestinationType, r.DataFormat, r.Interval, r.Headers,
		r.DestinationURL, r.FilePath, r.Topic, r.Devices,
	).Scan(&r.LastUpdated)
	if err != nil {
		return model.Route{}, mapErr(err, fmt.Sprintf("routa %d", r.ID))
	}
	return r, nil
}

func (s *Store) DeleteRoute(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM routes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("nelze smazat routu %d: %w", id, err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("routa %d", id))
}

func (s *Store) SetRouteLastUpdated(ctx context.Context, id int64, summary string) error {
	tag, err := s.db.Exec(ctx, `UPDATE routes SET last_updated = $2 WHERE id = $1`, id, summary)
	if err != nil {
		return fmt.Errorf("nelze uložit stav routy %d: %w", id, err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("routa %d", id))
}
