package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

const deviceColumns = `id, name, type, address, acquisition_time, status,
	security_policy, security_mode, username, password, rack, slot`

func scanDevice(row pgx.Row) (model.Device, error) {
	var d model.Device
	err := row.Scan(&d.ID, &d.Name, &d.Type, &d.Address, &d.AcquisitionTime, &d.Status,
		&d.SecurityPolicy, &d.SecurityMode, &d.Username, &d.Password, &d.Rack, &d.Slot)
	return d, err
}

// ListDevices vrací všechna zařízení včetně datapointů.
func (s *Store) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := s.db.Query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na zařízení: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	index := make(map[int64]int)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		d.Datapoints = []model.Datapoint{}
		index[d.ID] = len(devices)
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Datapointy všech zařízení jedním dotazem.
	dpRows, err := s.db.Query(ctx, `
		SELECT device_id, datapoint_id, name, datatype, address
		FROM datapoints
		ORDER BY device_id, datapoint_id`)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na datapointy: %w", err)
	}
	defer dpRows.Close()

	for dpRows.Next() {
		var deviceID int64
		var dp model.Datapoint
		if err := dpRows.Scan(&deviceID, &dp.ID, &dp.Name, &dp.Datatype, &dp.Address); err != nil {
			return nil, err
		}
		if i, ok := index[deviceID]; ok {
			devices[i].Datapoints = append(devices[i].Datapoints, dp)
		}
	}
	return devices, dpRows.Err()
}

// GetDevice vrací jedno zařízení s datapointy.
func (s *Store) GetDevice(ctx context.Context, id int64) (model.Device, error) {
	d, err := scanDevice(s.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if err != nil {
		return model.Device{}, mapErr(err, fmt.Sprintf("zařízení %d", id))
	}

	d.Datapoints, err = loadDatapoints(ctx, s.db, id)
	if err != nil {
		return model.Device{}, err
	}
	return d, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadDatapoints(ctx context.Context, q querier, deviceID int64) ([]model.Datapoint, error) {
	rows, err := q.Query(ctx, `
		SELECT datapoint_id, name, datatype, address
		FROM datapoints
		WHERE device_id = $1
		ORDER BY datapoint_id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na datapointy: %w", err)
	}
	defer rows.Close()

	dps := []model.Datapoint{}
	for rows.Next() {
		var dp model.Datapoint
		if err := rows.Scan(&dp.ID, &dp.Name, &dp.Datatype, &dp.Address); err != nil {
			return nil, err
		}
		dps = append(dps, dp)
	}
	return dps, rows.Err()
}

func replaceDatapoints(ctx context.Context, tx pgx.Tx, deviceID int64, dps []model.Datapoint) error {
	if _, err := tx.Exec(ctx, `DELETE FROM datapoints WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("nelze smazat datapointy: %w", err)
	}
	for _, dp := range dps {
		_, err := tx.Exec(ctx, `
			INSERT INTO datapoints (device_id, datapoint_id, name, datatype, address)
			VALUES ($1, $2, $3, $4, $5)`,
			deviceID, dp.ID, dp.Name, dp.Datatype, dp.Address)
		if err != nil {
			return mapErr(err, fmt.Sprintf("datapoint %s", dp.ID))
		}
	}
	return nil
}

// CreateDevice vloží zařízení a jeho datapointy v jedné transakci.
func (s *Store) CreateDevice(ctx context.Context, d model.Device) (model.Device, error) {
	if d.Status == "" {
		d.Status = model.StatusInitializing
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO devices (name, type, address, acquisition_time, status,
				security_policy, security_mode, username, password, rack, slot)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`,
			d.Name, d.Type, d.Address, d.AcquisitionTime, d.Status,
			d.SecurityPolicy, d.SecurityMode, d.Username, d.Password, d.Rack, d.Slot,
		).Scan(&d.ID)
		if err != nil {
			return mapErr(err, fmt.Sprintf("zařízení %q", d.Name))
		}
		return replaceDatapoints(ctx, tx, d.ID, d.Datapoints)
	})
	if err != nil {
		return model.Device{}, err
	}
	if d.Datapoints == nil {
		d.Datapoints = []model.Datapoint{}
	}
	return d, nil
}

// UpdateDevice přepíše zařízení a nahradí jeho datapointy. Prázdný stav zůstává beze změny.
func (s *Store) UpdateDevice(ctx context.Context, d model.Device) (model.Device, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE devices SET
				name = $2, type = $3, address = $4, acquisition_time = $5,
				status = COALESCE(NULLIF($6, ''), status),
				security_policy = $7, security_mode = $8, username = $9, password = $10,
				rack = $11, slot = $12
			WHERE id = $1
			RETURNING status`,
			d.ID, d.Name, d.Type, d.Address, d.AcquisitionTime, d.Status,
			d.SecurityPolicy, d.SecurityMode, d.Username, d.Password, d.Rack, d.Slot,
		).Scan(&d.Status)
		if err != nil {
			return mapErr(err, fmt.Sprintf("zařízení %d", d.ID))
		}
		return replaceDatapoints(ctx, tx, d.ID, d.Datapoints)
	})
	if err != nil {
		return model.Device{}, err
	}
	if d.Datapoints == nil {
		d.Datapoints = []model.Datapoint{}
	}
	return d, nil
}

// DeleteDevice smaže zařízení. Datapointy zmizí díky ON DELETE CASCADE.
func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("nelze smazat zařízení %d: %w", id, err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("zařízení %d", id))
}

// SetDeviceStatus uloží stav nahlášený driverem.
func (s *Store) SetDeviceStatus(ctx context.Context, id int64, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE devices SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("nelze uložit stav zařízení %d: %w", id, err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("zařízení %d", id))
}
