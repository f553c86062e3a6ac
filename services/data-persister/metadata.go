package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceMetadata drží údaje zařízení potřebné k uložení hodnoty.
type DeviceMetadata struct {
	Name string
	// Datapoints mapuje datapointId na název datapointu (measurement v Influxu).
	Datapoints map[string]string
}

// MetadataSource načte metadata všech zařízení.
type MetadataSource interface {
	LoadMetadata(ctx context.Context) (map[int64]DeviceMetadata, error)
}

// PostgresSource čte metadata přímo z registru zařízení.
type PostgresSource struct {
	db *pgxpool.Pool
}

func NewPostgresSource(db *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) LoadMetadata(ctx context.Context) (map[int64]DeviceMetadata, error) {
	// LEFT JOIN, aby i zařízení bez datapointů bylo známé.
	query := `
		SELECT d.id, d.name, dp.datapoint_id, dp.name
		FROM devices d
		LEFT JOIN datapoints dp ON dp.device_id = d.id
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("SQL dotaz selhal: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]DeviceMetadata)
	for rows.Next() {
		var (
			id           int64
			name         string
			dpID, dpName *string
		)
		if err := rows.Scan(&id, &name, &dpID, &dpName); err != nil {
			return nil, fmt.Errorf("nelze načíst řádek: %w", err)
		}
		meta, ok := out[id]
		if !ok {
			meta = DeviceMetadata{Name: name, Datapoints: map[string]string{}}
			out[id] = meta
		}
		if dpID != nil && dpName != nil {
			meta.Datapoints[*dpID] = *dpName
		}
	}
	return out, rows.Err()
}

// MetadataService drží metadata zařízení v paměti a periodicky je obnovuje.
// Díky tomu nové zařízení začne persister ukládat bez restartu.
type MetadataService struct {
	source MetadataSource
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[int64]DeviceMetadata
}

func NewMetadataService(source MetadataSource, logger *slog.Logger) *MetadataService {
	return &MetadataService{
		source: source,
		logger: logger,
		cache:  make(map[int64]DeviceMetadata),
	}
}

// LoadDevices načte metadata a atomicky vymění cache.
func (s *MetadataService) LoadDevices(ctx context.Context) error {
	fresh, err := s.source.LoadMetadata(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = fresh
	s.mu.Unlock()

	s.logger.Debug("Metadata zařízení obnovena", "devices", len(fresh))
	return nil
}

// GetMetadata se volá pro každou zprávu, drží jen read lock.
func (s *MetadataService) GetMetadata(deviceID int64) (DeviceMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.cache[deviceID]
	return meta, ok
}

// StartAutoRefresh obnovuje cache každou periodu, dokud ctx neskončí.
func (s *MetadataService) StartAutoRefresh(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.LoadDevices(ctx); err != nil {
				s.logger.Error("Nelze obnovit metadata zařízení", "error", err)
			}
		}
	}
}
