package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

const processColumns = `id, name, device_id, device_name, endpoint, description,
	object_id, method_id, method_args, check_node_id, image_node_id, ack_node_id,
	capture_mode, cyclic_interval, enable_upload, upload_url, upload_headers, timestamp_header_name,
	status, last_execution, last_image, last_upload_status, last_upload_error,
	upload_success_count, upload_failure_count, created_at, updated_at`

func scanProcess(row pgx.Row) (model.ImageProcess, error) {
	var p model.ImageProcess
	err := row.Scan(&p.ID, &p.Name, &p.DeviceID, &p.DeviceName, &p.Endpoint, &p.Description,
		&p.ObjectID, &p.MethodID, &p.MethodArgs, &p.CheckNodeID, &p.ImageNodeID, &p.AckNodeID,
		&p.CaptureMode, &p.CyclicInterval, &p.EnableUpload, &p.UploadURL, &p.UploadHeaders, &p.TimestampHeaderName,
		&p.Status, &p.LastExecution, &p.LastImage, &p.LastUploadStatus, &p.LastUploadError,
		&p.UploadSuccessCount, &p.UploadFailureCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.EnableCyclic = p.CaptureMode == model.CaptureInterval
	return p, nil
}

func (s *Store) ListProcesses(ctx context.Context) ([]model.ImageProcess, error) {
	rows, err := s.db.Query(ctx, `SELECT `+processColumns+` FROM image_processes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na procesy: %w", err)
	}
	defer rows.Close()

	processes := []model.ImageProcess{}
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		processes = append(processes, p)
	}
	return processes, rows.Err()
}

func (s *Store) GetProcess(ctx context.Context, id int64) (model.ImageProcess, error) {
	p, err := scanProcess(s.db.QueryRow(ctx, `SELECT `+processColumns+` FROM image_processes WHERE id = $1`, id))
	if err != nil {
		return model.ImageProcess{}, mapErr(err, fmt.Sprintf("proces %d", id))
	}
	return p, nil
}

func (s *Store) CreateProcess(ctx context.Context, p model.ImageProcess) (model.ImageProcess, error) {
	p.Normalize()
	row := s.db.QueryRow(ctx, `
		INSERT INTO image_processes (name, device_id, device_name, endpoint, description,
			object_id, method_id, method_args, check_node_id, image_node_id, ack_node_id,
			capture_mode, cyclic_interval, enable_upload, upload_url, upload_headers, timestamp_header_name,
			status, last_upload_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING `+processColumns,
		p.Name, p.DeviceID, p.DeviceName, p.Endpoint, p.Description,
		p.ObjectID, p.MethodID, p.MethodArgs, p.CheckNodeID, p.ImageNodeID, p.AckNodeID,
		p.CaptureMode, p.CyclicInterval, p.EnableUpload, p.UploadURL, p.UploadHeaders, p.TimestampHeaderName,
		p.Status, p.LastUploadStatus)
	created, err := scanProcess(row)
	if err != nil {
		return model.ImageProcess{}, mapErr(err, "nový proces")
	}
	return created, nil
}

// UpdateProcess mění jen nastavení. Stav, poslední běh a čítače zůstávají.
func (s *Store) UpdateProcess(ctx context.Context, p model.ImageProcess) (model.ImageProcess, error) {
	p.Normalize()
	row := s.db.QueryRow(ctx, `
		UPDATE image_processes SET
			name = $2, device_id = $3, device_name = $4, endpoint = $5, description = $6,
			object_id = $7, method_id = $8, method_args = $9, check_node_id = $10,
			image_node_id = $11, ack_node_id = $12, capture_mode = $13, cyclic_interval = $14,
			enable_upload = $15, upload_url = $16, upload_headers = $17, timestamp_header_name = $18,
			updated_at = now()
		WHERE id = $1
		RETURNING `+processColumns,
		p.ID, p.Name, p.DeviceID, p.DeviceName, p.Endpoint, p.Description,
		p.ObjectID, p.MethodID, p.MethodArgs, p.CheckNodeID,
		p.ImageNodeID, p.AckNodeID, p.CaptureMode, p.CyclicInterval,
		p.EnableUpload, p.UploadURL, p.UploadHeaders, p.TimestampHeaderName)
	updated, err := scanProcess(row)
	if err != nil {
		return model.ImageProcess{}, mapErr(err, fmt.Sprintf("proces %d", p.ID))
	}
	return updated, nil
}

func (s *Store) DeleteProcess(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM image_processes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("nelze smazat proces %d: %w", id, err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("proces %d", id))
}

func (s *Store) SetProcessStatus(ctx context.Context, id int64, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE image_processes SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("nelze uložit stav procesu %d: %w", id, err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("proces %d", id))
}

// RecordExecution zapíše výsledek jednoho snímání a posune čítače uploadu.
func (s *Store) RecordExecution(ctx context.Context, id int64, exec model.Execution) error {
	var success, failure int64
	switch exec.UploadStatus {
	case model.UploadSuccess:
		success = 1
	case model.UploadFailed:
		failure = 1
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE image_processes SET
			last_execution = $2,
			last_image = COALESCE(NULLIF($3, ''), last_image),
			last_upload_status = $4,
			last_upload_error = $5,
			upload_success_count = upload_success_count + $6,
			upload_failure_count = upload_failure_count + $7,
			updated_at = now()
		WHERE id = $1`,
		id, exec.At, exec.ObjectKey, exec.UploadStatus, exec.UploadError, success, failure)
	if err != nil {
		return fmt.Errorf("nelze zapsat běh procesu %d: %w", id, err)
	}
	return notFoundIfNone(tag, fmt.Sprintf("proces %d", id))
}
