package main

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jola2802/iot-gateway-sub000/internal/sysstats"
)

type recorder struct {
	msgs   map[string]string
	failOn string
}

func (r *recorder) Publish(topic string, payload []byte) error {
	if topic == r.failOn {
		return errors.New("broker nedostupný")
	}
	r.msgs[topic] = string(payload)
	return nil
}

func TestPublishStats(t *testing.T) {
	rec := &recorder{msgs: map[string]string{}}
	s := sysstats.Stats{CPULoad: 12.5, RamUsedMB: 512, RamTotalMB: 2048, AppRamUsedMB: 100.126, DiskUsedGB: 3, DiskTotalGB: 32}

	require.NoError(t, PublishStats(rec, "system", s))
	assert.Equal(t, "12.50", rec.msgs["system/cpu"])
	assert.Equal(t, "100.13", rec.msgs["system/app_ram"])
	assert.Equal(t, "32.00", rec.msgs["system/disk_total"])
	assert.Len(t, rec.msgs, 7)

	var decoded sysstats.Stats
	require.NoError(t, json.Unmarshal([]byte(rec.msgs["system/stats"]), &decoded))
	assert.Equal(t, s, decoded)
}

func TestPublishStatsStopsOnError(t *testing.T) {
	rec := &recorder{msgs: map[string]string{}, failOn: "system/ram_used"}
	err := PublishStats(rec, "system", sysstats.Stats{})
	assert.ErrorContains(t, err, "system/ram_used")
	assert.NotContains(t, rec.msgs, "system/stats")
}
