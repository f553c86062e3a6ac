package forwarding

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/retry"
	"github.com/jola2802/iot-gateway-sub000/internal/store/memory"
	"github.com/jola2802/iot-gateway-sub000/internal/telemetry"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sample() []model.Reading {
	return []model.Reading{
		{DeviceID: 1, DeviceName: "PLC", DatapointID: "001", DatapointName: "teplota", Value: "21.5", Timestamp: ts},
		{DeviceID: 1, DeviceName: "PLC", DatapointID: "002", DatapointName: "tlak", Value: "1.2", Timestamp: ts.Add(time.Second)},
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

func TestRESTSinkSendsHeadersAndWireArray(t *testing.T) {
	var gotHeader, gotType string
	var got []model.WireReading
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewRESTSink(srv.Client(), srv.URL, []model.Header{{Name: "X-Api-Key", Value: "abc"}}, fastPolicy())
	require.NoError(t, sink.Send(context.Background(), sample()))

	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "application/json", gotType)
	require.Len(t, got, 2)
	assert.Equal(t, model.WireReading{DatapointID: "001", Value: "21.5", Timestamp: "2024-05-01T12:00:00Z"}, got[0])
}

func TestRESTSinkRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewRESTSink(srv.Client(), srv.URL, nil, fastPolicy())
	require.NoError(t, sink.Send(context.Background(), sample()))
	assert.Equal(t, 3, calls)
}

func TestRESTSinkDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewRESTSink(srv.Client(), srv.URL, nil, fastPolicy())
	err := sink.Send(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, 1, calls)
}

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "data.jsonl")
	sink := NewFileSink(path, model.FormatJSON)

	require.NoError(t, sink.Send(context.Background(), sample()))
	require.NoError(t, sink.Send(context.Background(), sample()[:1]))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []model.Reading
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r model.Reading
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		lines = append(lines, r)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "teplota", lines[0].DatapointName)
	assert.Equal(t, "001", lines[2].DatapointID)
}

func TestFileSinkCSVHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	sink := NewFileSink(path, model.FormatCSV)
	require.NoError(t, sink.Send(context.Background(), sample()))
	require.NoError(t, sink.Send(context.Background(), sample()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, strings.Join(CSVHeader, ","), lines[0])
	assert.Equal(t, "1,PLC,001,teplota,21.5,2024-05-01T12:00:00Z", lines[1])
}

func TestFileSinkParquet(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(filepath.Join(dir, "export.parquet"), model.FormatParquet)
	sink.now = func() time.Time { return ts }
	require.NoError(t, sink.Send(context.Background(), sample()))

	want := filepath.Join(dir, "export_20240501T120000.000Z.parquet")
	info, err := os.Stat(want)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

type recordingPublisher struct {
	topic   string
	payload []byte
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.topic, p.payload = topic, payload
	return nil
}

func TestInlineMQTTSink(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewInlineMQTTSink(pub, "linka1", model.FormatJSON)
	require.NoError(t, sink.Send(context.Background(), sample()))

	assert.Equal(t, "public/linka1", pub.topic)
	var got []model.Reading
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Len(t, got, 2)
}

func TestKafkaMessagesKeyedByDevice(t *testing.T) {
	msgs, err := KafkaMessages(model.FormatJSON, sample())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", string(msgs[0].Key))
	assert.False(t, strings.HasSuffix(string(msgs[0].Value), "\n"))
	assert.Equal(t, ts, msgs[0].Time)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "2024-05-01T12:00:00Z\namount of datapoints sent: 4", Summary(ts, 4, nil))
	assert.True(t, strings.HasPrefix(Summary(ts, 4, errors.New("boom")), "error sending request: 2024-05-01T12:00:00Z"))
}

type fakeSink struct {
	mu   sync.Mutex
	sent [][]model.Reading
	err  error
}

func (s *fakeSink) Send(ctx context.Context, r []model.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, r)
	return s.err
}

func (s *fakeSink) Close() error { return nil }

func TestManagerFlushFiltersDevicesAndRecordsSummary(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	route, err := st.CreateRoute(ctx, model.Route{
		DestinationType: model.RouteFile, DataFormat: model.FormatJSON, Interval: 60,
		FilePath: "/tmp/x", Devices: []string{"1 - PLC"},
	})
	require.NoError(t, err)

	buf := telemetry.NewBuffer(100)
	mgr := NewManager(st, buf, nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	mgr.now = func() time.Time { return ts }

	sink := &fakeSink{}
	w := &worker{route: route, sink: sink, devices: deviceSet(route), cursor: buf.Cursor()}

	buf.Append(model.Reading{DeviceID: 1, DatapointID: "001", Value: "1", Timestamp: ts})
	buf.Append(model.Reading{DeviceID: 2, DatapointID: "001", Value: "2", Timestamp: ts})
	mgr.flush(ctx, w)

	require.Len(t, sink.sent, 1)
	require.Len(t, sink.sent[0], 1)
	assert.Equal(t, int64(1), sink.sent[0][0].DeviceID)

	got, err := st.GetRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00Z\namount of datapoints sent: 1", got.LastUpdated)

	// Druhý tik bez nových dat nic neposílá.
	mgr.flush(ctx, w)
	assert.Len(t, sink.sent, 1)
}

func TestManagerReloadStartsWorkers(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	r1, err := st.CreateRoute(ctx, model.Route{DestinationType: model.RouteFile, FilePath: "/tmp/a", Interval: 60, DataFormat: model.FormatJSON})
	require.NoError(t, err)
	r2, err := st.CreateRoute(ctx, model.Route{DestinationType: "ftp", Interval: 60})
	require.NoError(t, err)

	mgr := NewManager(st, telemetry.NewBuffer(10), nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, mgr.Reload(ctx))
	defer mgr.stopAll()

	running := mgr.Running()
	assert.True(t, running[r1.ID])
	assert.False(t, running[r2.ID])

	bad, err := st.GetRoute(ctx, r2.ID)
	require.NoError(t, err)
	assert.Contains(t, bad.LastUpdated, "error sending request")
}
