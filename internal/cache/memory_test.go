package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeviceRefsInvalidation(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	_, ok, err := c.DeviceRefs(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetDeviceRefs(ctx, []string{"1 - PLC"}))
	refs, ok, err := c.DeviceRefs(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"1 - PLC"}, refs)

	require.NoError(t, c.InvalidateDevices(ctx))
	_, ok, err = c.DeviceRefs(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Prázdný seznam je platné memo.
	require.NoError(t, c.SetDeviceRefs(ctx, nil))
	refs, ok, _ = c.DeviceRefs(ctx)
	assert.True(t, ok)
	assert.Empty(t, refs)
}

func TestMemoryDeviceRefsExpire(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.SetDeviceRefs(ctx, []string{"1 - PLC"}))
	now = now.Add(DeviceRefsTTL + time.Second)

	_, ok, err := c.DeviceRefs(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLastValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.SetLastValue(ctx, 3, "001", "21.50"))
	require.NoError(t, c.SetLastValue(ctx, 3, "001", "21.75"))
	require.NoError(t, c.SetLastValue(ctx, 3, "002", "on"))

	values, err := c.LastValues(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"001": "21.75", "002": "on"}, values)

	values, err = c.LastValues(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestMemoryTokens(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	token, err := c.IssueToken(ctx, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	expires, ok, err := c.TokenExpiry(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Minute), expires)

	_, ok, _ = c.TokenExpiry(ctx, "neznamy")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.TokenExpiry(ctx, token)
	assert.False(t, ok)
}
