package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const deviceRefsKey = "devices:refs"

// Redis implementuje Cache nad Valkey/Redis.
type Redis struct {
	rdb *redis.Client
}

// NewRedis připojí klienta a ověří spojení Pingem.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Valkey není dostupný: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// Close uzavře klienta.
func (c *Redis) Close() error {
	return c.rdb.Close()
}

func (c *Redis) DeviceRefs(ctx context.Context) ([]string, bool, error) {
	raw, err := c.rdb.Get(ctx, deviceRefsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("chyba čtení Valkey: %w", err)
	}

	var refs []string
	if err := json.Unmarshal(raw, &refs); err != nil {
		// Poškozené memo se chová jako prázdné.
		return nil, false, nil
	}
	return refs, true, nil
}

func (c *Redis) SetDeviceRefs(ctx context.Context, refs []string) error {
	raw, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, deviceRefsKey, raw, DeviceRefsTTL).Err()
}

func (c *Redis) InvalidateDevices(ctx context.Context) error {
	return c.rdb.Del(ctx, deviceRefsKey).Err()
}

func lastValueKey(deviceID int64) string {
	return fmt.Sprintf("device:last:%d", deviceID)
}

// SetLastValue přepisuje poslední hodnotu datapointu. Celý hash zařízení expiruje po 24h bez dat.
func (c *Redis) SetLastValue(ctx context.Context, deviceID int64, datapointID, value string) error {
	key := lastValueKey(deviceID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, datapointID, value)
	pipe.Expire(ctx, key, LastValueTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chyba update Valkey: %w", err)
	}
	return nil
}

func (c *Redis) LastValues(ctx context.Context, deviceID int64) (map[string]string, error) {
	values, err := c.rdb.HGetAll(ctx, lastValueKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("chyba čtení Valkey: %w", err)
	}
	return values, nil
}

func tokenKey(token string) string {
	return "ws:token:" + token
}

// IssueToken uloží náhodný token. Hodnotou je čas vypršení v Unix sekundách.
func (c *Redis) IssueToken(ctx context.Context, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	expires := time.Now().Add(ttl).Unix()
	if err := c.rdb.Set(ctx, tokenKey(token), expires, ttl).Err(); err != nil {
		return "", fmt.Errorf("nelze uložit token: %w", err)
	}
	return token, nil
}

func (c *Redis) TokenExpiry(ctx context.Context, token string) (time.Time, bool, error) {
	if token == "" {
		return time.Time{}, false, nil
	}
	unix, err := c.rdb.Get(ctx, tokenKey(token)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("chyba čtení Valkey: %w", err)
	}
	return time.Unix(unix, 0), true, nil
}
