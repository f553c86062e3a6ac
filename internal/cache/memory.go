package cache

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory je Cache v paměti procesu. Expirace se kontroluje při čtení.
type Memory struct {
	mu sync.Mutex

	refs        []string
	refsExpires time.Time
	values      map[int64]map[string]string
	tokens      map[string]time.Time

	now func() time.Time
}

// NewMemory vytvoří prázdnou cache.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[int64]map[string]string),
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *Memory) DeviceRefs(ctx context.Context) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == nil || m.now().After(m.refsExpires) {
		return nil, false, nil
	}
	return slices.Clone(m.refs), true, nil
}

func (m *Memory) SetDeviceRefs(ctx context.Context, refs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs = slices.Clone(refs)
	if m.refs == nil {
		m.refs = []string{}
	}
	m.refsExpires = m.now().Add(DeviceRefsTTL)
	return nil
}

func (m *Memory) InvalidateDevices(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs = nil
	return nil
}

func (m *Memory) SetLastValue(ctx context.Context, deviceID int64, datapointID, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, ok := m.values[deviceID]
	if !ok {
		dev = make(map[string]string)
		m.values[deviceID] = dev
	}
	dev[datapointID] = value
	return nil
}

func (m *Memory) LastValues(ctx context.Context, deviceID int64) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := maps.Clone(m.values[deviceID])
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

func (m *Memory) IssueToken(ctx context.Context, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := uuid.NewString()
	m.tokens[token] = m.now().Add(ttl)
	return token, nil
}

func (m *Memory) TokenExpiry(ctx context.Context, token string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires, ok := m.tokens[token]
	if !ok {
		return time.Time{}, false, nil
	}
	if m.now().After(expires) {
		delete(m.tokens, token)
		return time.Time{}, false, nil
	}
	return expires, true, nil
}
