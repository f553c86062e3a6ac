package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

func (s *Store) AddImage(ctx context.Context, img model.Image) (model.Image, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO images (device, device_name, process_id, object_key, size, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		img.Device, img.DeviceName, img.ProcessID, img.ObjectKey, img.Size, img.Timestamp,
	).Scan(&img.ID)
	if err != nil {
		return model.Image{}, mapErr(err, "nový obrázek")
	}
	img.Image = ""
	return img, nil
}

// ListImages vrací metadata od nejnovějšího. Název zařízení se doplní z tabulky devices,
// pokud nebyl uložen při snímání.
func (s *Store) ListImages(ctx context.Context) ([]model.Image, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.id, i.device, COALESCE(NULLIF(i.device_name, ''), d.name, ''), i.process_id, i.object_key, i.size, i.ts
		FROM images i
		LEFT JOIN devices d ON d.id::text = i.device
		ORDER BY i.ts DESC, i.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("selhal SQL dotaz na obrázky: %w", err)
	}
	defer rows.Close()

	images := []model.Image{}
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(&img.ID, &img.Device, &img.DeviceName, &img.ProcessID, &img.ObjectKey, &img.Size, &img.Timestamp); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.SortImagesNewestFirst(images)
	return images, nil
}

func (s *Store) DeleteImagesBefore(ctx context.Context, t time.Time) ([]model.Image, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM images WHERE ts < $1
		RETURNING id, device, device_name, process_id, object_key, size, ts`, t)
	if err != nil {
		return nil, fmt.Errorf("nelze smazat staré obrázky: %w", err)
	}
	defer rows.Close()

	var removed []model.Image
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(&img.ID, &img.Device, &img.DeviceName, &img.ProcessID, &img.ObjectKey, &img.Size, &img.Timestamp); err != nil {
			return nil, err
		}
		removed = append(removed, img)
	}
	return removed, rows.Err()
}
