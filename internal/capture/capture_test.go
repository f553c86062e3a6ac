package capture

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jola2802/iot-gateway-sub000/internal/broker"
	"github.com/jola2802/iot-gateway-sub000/internal/imagestore"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/retry"
	"github.com/jola2802/iot-gateway-sub000/internal/store/memory"
)

var png = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

type fakeCapturer struct {
	calls atomic.Int32
	block bool
}

func (f *fakeCapturer) Capture(ctx context.Context, dev model.Device, p model.ImageProcess) ([]byte, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return png, nil
}

type fakeTriggers struct {
	mu           sync.Mutex
	handlers     map[string]broker.MessageHandler
	unsubscribed int
}

func (f *fakeTriggers) Subscribe(filter string, handler broker.MessageHandler) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]broker.MessageHandler{}
	}
	f.handlers[filter] = handler
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, filter)
		f.unsubscribed++
		return nil
	}, nil
}

func (f *fakeTriggers) fire(topic string) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if ok {
		h(topic, []byte("go"))
	}
	return ok
}

type fixture struct {
	store    *memory.Store
	blobs    *imagestore.Memory
	capturer *fakeCapturer
	triggers *fakeTriggers
	mgr      *Manager
	device   model.Device
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:    memory.New(),
		blobs:    imagestore.NewMemory(),
		capturer: &fakeCapturer{},
		triggers: &fakeTriggers{},
		now:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	dev, err := f.store.CreateDevice(ctx, model.Device{Name: "Kamera", Type: model.DeviceOPCUA, Address: "opc.tcp://cam:4840"})
	require.NoError(t, err)
	f.device = dev

	f.mgr = NewManager(f.store, f.blobs, f.capturer, f.triggers, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	f.mgr.policy = retry.Policy{MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	f.mgr.now = func() time.Time { return f.now }
	t.Cleanup(f.mgr.Close)
	return f
}

func (f *fixture) process(t *testing.T, p model.ImageProcess) model.ImageProcess {
	t.Helper()
	p.Name = "cam"
	p.DeviceID = f.device.ID
	p.ImageNodeID = "ns=2;s=Image"
	p.Normalize()
	require.NoError(t, p.Validate())
	created, err := f.store.CreateProcess(context.Background(), p)
	require.NoError(t, err)
	return created
}

func TestExecuteStoresAndUploads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, png, body)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		assert.Equal(t, "line-4", r.Header.Get("X-Station"))
		assert.Equal(t, "2024-05-01 08:00:00", r.Header.Get("Read-Timestamp"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := f.process(t, model.ImageProcess{
		EnableUpload:        true,
		UploadURL:           srv.URL,
		UploadHeaders:       map[string]string{"X-Station": "line-4"},
		TimestampHeaderName: "Read-Timestamp",
	})

	exec, err := f.mgr.Execute(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadSuccess, exec.UploadStatus)
	assert.EqualValues(t, 1, hits.Load())

	data, err := f.blobs.Get(ctx, exec.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, png, data)

	images, err := f.store.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, p.ID, images[0].ProcessID)
	assert.Equal(t, "Kamera", images[0].DeviceName)

	got, err := f.store.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.UploadSuccessCount)
	assert.EqualValues(t, 0, got.UploadFailureCount)
	assert.Equal(t, exec.ObjectKey, got.LastImage)
	require.NotNil(t, got.LastExecution)
	assert.Equal(t, f.now, got.LastExecution.UTC())
}

func TestExecuteUploadRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := f.process(t, model.ImageProcess{EnableUpload: true, UploadURL: srv.URL})

	exec, err := f.mgr.Execute(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadFailed, exec.UploadStatus)
	assert.Contains(t, exec.UploadError, "400")
	assert.EqualValues(t, 1, hits.Load(), "4xx se neopakuje")

	got, err := f.store.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.UploadFailureCount)
	assert.Equal(t, model.UploadFailed, got.LastUploadStatus)
}

func TestExecuteUploadRetriesServerErrors(t *testing.T) {
	f := newFixture(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := f.process(t, model.ImageProcess{EnableUpload: true, UploadURL: srv.URL})
	exec, err := f.mgr.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadSuccess, exec.UploadStatus)
	assert.EqualValues(t, 3, hits.Load())
}

func TestExecuteWithoutUpload(t *testing.T) {
	f := newFixture(t)
	p := f.process(t, model.ImageProcess{})

	exec, err := f.mgr.Execute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadNotAttempted, exec.UploadStatus)
	assert.Equal(t, 1, f.blobs.Len())
}

func TestExecuteTimeout(t *testing.T) {
	f := newFixture(t)
	f.capturer.block = true
	f.mgr.timeout = 20 * time.Millisecond
	p := f.process(t, model.ImageProcess{})

	_, err := f.mgr.Execute(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestExecuteUnknownProcess(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Execute(context.Background(), 999)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestStartStopConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.process(t, model.ImageProcess{CaptureMode: model.CaptureInterval, CyclicInterval: 3600})

	require.NoError(t, f.mgr.Start(ctx, p.ID))
	assert.True(t, f.mgr.Running(p.ID))
	assert.ErrorIs(t, f.mgr.Start(ctx, p.ID), ErrAlreadyRunning)

	got, err := f.store.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessRunning, got.Status)

	require.NoError(t, f.mgr.Stop(ctx, p.ID))
	assert.False(t, f.mgr.Running(p.ID))
	assert.ErrorIs(t, f.mgr.Stop(ctx, p.ID), ErrNotRunning)

	got, err = f.store.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStopped, got.Status)
}

func TestTriggerModeCapturesOnMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.process(t, model.ImageProcess{CaptureMode: model.CaptureTrigger})

	require.NoError(t, f.mgr.Start(ctx, p.ID))
	require.True(t, f.triggers.fire(TriggerTopic(p.ID)))

	require.Eventually(t, func() bool { return f.blobs.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.mgr.Stop(ctx, p.ID))
	assert.Equal(t, 1, f.triggers.unsubscribed)
	assert.False(t, f.triggers.fire(TriggerTopic(p.ID)))
}

func TestIntervalModeTicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.process(t, model.ImageProcess{CaptureMode: model.CaptureInterval, CyclicInterval: 1})

	require.NoError(t, f.mgr.Start(ctx, p.ID))
	require.Eventually(t, func() bool { return f.capturer.calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, f.mgr.Stop(ctx, p.ID))
}

func TestRestoreStartsRunningProcesses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	running := f.process(t, model.ImageProcess{CaptureMode: model.CaptureInterval, CyclicInterval: 3600})
	stopped := f.process(t, model.ImageProcess{CaptureMode: model.CaptureInterval, CyclicInterval: 3600})
	require.NoError(t, f.store.SetProcessStatus(ctx, running.ID, model.ProcessRunning))

	require.NoError(t, f.mgr.Restore(ctx))
	assert.True(t, f.mgr.Running(running.ID))
	assert.False(t, f.mgr.Running(stopped.ID))
}

func TestPruneRemovesOldImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.now.AddDate(0, -4, 0)
	require.NoError(t, f.blobs.Put(ctx, "images/1/old.png", png, "image/png"))
	_, err := f.store.AddImage(ctx, model.Image{Device: "1", Timestamp: old, ObjectKey: "images/1/old.png"})
	require.NoError(t, err)
	_, err = f.store.AddImage(ctx, model.Image{Device: "1", Timestamp: f.now.Add(-time.Hour)})
	require.NoError(t, err)

	f.mgr.Prune(ctx)

	images, err := f.store.ListImages(ctx)
	require.NoError(t, err)
	assert.Len(t, images, 1)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestImageBytes(t *testing.T) {
	got, err := ImageBytes(png)
	require.NoError(t, err)
	assert.Equal(t, png, got)

	got, err = ImageBytes(base64.StdEncoding.EncodeToString(png))
	require.NoError(t, err)
	assert.Equal(t, png, got)

	_, err = ImageBytes("not base64!")
	assert.Error(t, err)
	_, err = ImageBytes([]byte{})
	assert.Error(t, err)
	_, err = ImageBytes(42)
	assert.Error(t, err)
}

func TestMethodInputsNaturalOrderAsStrings(t *testing.T) {
	inputs, err := MethodInputs(map[string]any{
		"arg10": "k",
		"arg2":  float64(3),
		"arg1":  "b",
		"arg0":  true,
	})
	require.NoError(t, err)
	require.Len(t, inputs, 4)

	var got []any
	for _, in := range inputs {
		got = append(got, in.Value())
	}
	assert.Equal(t, []any{"true", "b", "3", "k"}, got)

	_, err = MethodInputs(map[string]any{"arg0": map[string]any{"x": 1}})
	assert.ErrorIs(t, err, model.ErrInvalid)
}

func TestNaturalLess(t *testing.T) {
	assert.True(t, naturalLess("arg2", "arg10"))
	assert.False(t, naturalLess("arg10", "arg2"))
	assert.True(t, naturalLess("a", "b"))
	assert.True(t, naturalLess("arg", "arg0"))
	assert.True(t, naturalLess("x2y", "x2z"))
	assert.False(t, naturalLess("arg1", "arg1"))
}
