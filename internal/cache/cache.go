// Package cache drží krátkodobá data konzole: memo seznamu zařízení pro routy,
// poslední hodnoty datapointů a jednorázové tokeny pro WebSockety.
package cache

import (
	"context"
	"time"
)

// Cache je společné rozhraní pro Redis (Valkey) i paměťovou variantu.
type Cache interface {
	// DeviceRefs vrací uložený seznam "<id> - <název>". ok=false znamená, že memo je prázdné.
	DeviceRefs(ctx context.Context) (refs []string, ok bool, err error)
	SetDeviceRefs(ctx context.Context, refs []string) error
	// InvalidateDevices zahodí memo po každém zápisu zařízení.
	InvalidateDevices(ctx context.Context) error

	SetLastValue(ctx context.Context, deviceID int64, datapointID, value string) error
	// LastValues vrací mapu datapointId -> poslední hodnota.
	LastValues(ctx context.Context, deviceID int64) (map[string]string, error)

	IssueToken(ctx context.Context, ttl time.Duration) (string, error)
	// TokenExpiry vrací čas vypršení tokenu nebo ok=false pro neznámý token.
	TokenExpiry(ctx context.Context, token string) (expires time.Time, ok bool, err error)
}

const (
	// LastValueTTL drží hodnoty mrtvých zařízení v cache nejvýš den.
	LastValueTTL = 24 * time.Hour
	// DeviceRefsTTL je pojistka pro případ, že se invalidace ztratí.
	DeviceRefsTTL = 5 * time.Minute
)
