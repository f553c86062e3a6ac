package main

import (
	"context"
	"fmt"

	"github.com/jola2802/iot-gateway-sub000/internal/history"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// LastValueStore drží poslední hodnotu datapointu pro konzoli (Redis).
type LastValueStore interface {
	SetLastValue(ctx context.Context, deviceID int64, datapointID, value string) error
}

// Repository zapouzdřuje obě úložiště. Zbytek služby jen volá SaveReading.
type Repository struct {
	history history.Writer
	last    LastValueStore
}

func NewRepository(hist history.Writer, last LastValueStore) *Repository {
	return &Repository{history: hist, last: last}
}

// SaveReading uloží čtení do historie a přepíše poslední hodnotu.
func (r *Repository) SaveReading(ctx context.Context, reading model.Reading) error {
	// Historie je zdroj pravdy, bez ní nemá smysl aktualizovat poslední hodnotu.
	if err := r.history.WriteReading(ctx, reading); err != nil {
		return fmt.Errorf("chyba zápisu do InfluxDB: %w", err)
	}

	// Chyba Redisu neohrozí data v historii, ale musíme o ní vědět.
	if err := r.last.SetLastValue(ctx, reading.DeviceID, reading.DatapointID, reading.Value); err != nil {
		return err
	}
	return nil
}
