package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

type staticSource struct {
	data  map[int64]DeviceMetadata
	err   error
	calls int
}

func (s *staticSource) LoadMetadata(ctx context.Context) (map[int64]DeviceMetadata, error) {
	s.calls++
	return s.data, s.err
}

func newMeta(t *testing.T, src *staticSource) *MetadataService {
	t.Helper()
	m := NewMetadataService(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, m.LoadDevices(context.Background()))
	return m
}

func TestProcessMessage(t *testing.T) {
	src := &staticSource{data: map[int64]DeviceMetadata{
		7: {Name: "Lis", Datapoints: map[string]string{"001": "teplota"}},
	}}
	meta := newMeta(t, src)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	r, err := ProcessMessage("data/s7/7/001", []byte(" 21.5 "), meta, now)
	require.NoError(t, err)
	assert.Equal(t, model.Reading{
		DeviceID:      7,
		DeviceName:    "Lis",
		DatapointID:   "001",
		DatapointName: "teplota",
		Value:         "21.5",
		Timestamp:     now.UTC(),
	}, r)

	_, err = ProcessMessage("data/s7/8/001", []byte("1"), meta, now)
	assert.Error(t, err, "neznámé zařízení")
	_, err = ProcessMessage("data/s7/7/999", []byte("1"), meta, now)
	assert.Error(t, err, "neznámý datapoint")
	_, err = ProcessMessage("data/s7/7/001", []byte("  "), meta, now)
	assert.Error(t, err, "prázdná hodnota")
	_, err = ProcessMessage("logs/console-api", []byte("1"), meta, now)
	assert.Error(t, err)
}

func TestMetadataReloadKeepsOldCacheOnError(t *testing.T) {
	src := &staticSource{data: map[int64]DeviceMetadata{1: {Name: "A", Datapoints: map[string]string{}}}}
	meta := newMeta(t, src)

	src.err = errors.New("db nedostupná")
	src.data = nil
	assert.Error(t, meta.LoadDevices(context.Background()))

	got, ok := meta.GetMetadata(1)
	require.True(t, ok)
	assert.Equal(t, "A", got.Name)
}

func TestMetadataAutoRefresh(t *testing.T) {
	src := &staticSource{data: map[int64]DeviceMetadata{}}
	meta := newMeta(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		meta.StartAutoRefresh(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	assert.Greater(t, src.calls, 2)
}

type recordingHistory struct {
	written []model.Reading
	err     error
}

func (h *recordingHistory) WriteReading(ctx context.Context, r model.Reading) error {
	if h.err != nil {
		return h.err
	}
	h.written = append(h.written, r)
	return nil
}

type recordingLast struct {
	values map[string]string
}

func (l *recordingLast) SetLastValue(ctx context.Context, deviceID int64, datapointID, value string) error {
	l.values[datapointID] = value
	return nil
}

func TestRepositorySaveReading(t *testing.T) {
	hist := &recordingHistory{}
	last := &recordingLast{values: map[string]string{}}
	repo := NewRepository(hist, last)

	r := model.Reading{DeviceID: 1, DatapointID: "001", Value: "3.14", Timestamp: time.Now()}
	require.NoError(t, repo.SaveReading(context.Background(), r))
	assert.Len(t, hist.written, 1)
	assert.Equal(t, "3.14", last.values["001"])

	// Bez zápisu do historie se poslední hodnota nemění.
	hist.err = errors.New("influx spadl")
	r.Value = "9"
	assert.Error(t, repo.SaveReading(context.Background(), r))
	assert.Equal(t, "3.14", last.values["001"])
}
