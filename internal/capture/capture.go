// Package capture spouští procesy snímání obrázků z OPC-UA zařízení.
// Proces běží buď v intervalu, nebo čeká na zprávu capture/trigger/<id> na interním brokeru.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/broker"
	"github.com/jola2802/iot-gateway-sub000/internal/imagestore"
	"github.com/jola2802/iot-gateway-sub000/internal/metrics"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/retry"
)

var (
	// ErrAlreadyRunning vrací Start pro proces, který už běží.
	ErrAlreadyRunning = errors.New("proces již běží")
	// ErrNotRunning vrací Stop pro proces, který neběží.
	ErrNotRunning = errors.New("proces neběží")
	// ErrTimeout vrací Execute, pokud snímání nedoběhne včas.
	ErrTimeout = errors.New("vypršel čas snímání")
)

const (
	// ExecuteTimeout je limit ručního spuštění přes API.
	ExecuteTimeout = 20 * time.Second
	// TriggerPrefix je prefix topicu, kterým se spouští proces v režimu trigger.
	TriggerPrefix = "capture/trigger/"
	// TimestampLayout je formát hodnoty časové hlavičky uploadu (UTC).
	TimestampLayout = "2006-01-02 15:04:05"

	contentType = "image/png"
)

// RetentionCutoff vrací hranici, před kterou se snímky mažou (3 měsíce).
func RetentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, -3, 0)
}

// TriggerTopic vrací topic spouštěče procesu.
func TriggerTopic(id int64) string {
	return TriggerPrefix + strconv.FormatInt(id, 10)
}

// Capturer získá data jednoho snímku ze zařízení.
type Capturer interface {
	Capture(ctx context.Context, dev model.Device, p model.ImageProcess) ([]byte, error)
}

// Store je část úložiště, kterou manager potřebuje.
type Store interface {
	ListProcesses(ctx context.Context) ([]model.ImageProcess, error)
	GetProcess(ctx context.Context, id int64) (model.ImageProcess, error)
	SetProcessStatus(ctx context.Context, id int64, status string) error
	RecordExecution(ctx context.Context, id int64, exec model.Execution) error
	GetDevice(ctx context.Context, id int64) (model.Device, error)
	AddImage(ctx context.Context, img model.Image) (model.Image, error)
	DeleteImagesBefore(ctx context.Context, t time.Time) ([]model.Image, error)
}

// Subscriber doručuje zprávy z interního brokeru.
type Subscriber interface {
	Subscribe(filter string, handler broker.MessageHandler) (func() error, error)
}

type runningProcess struct {
	stop        chan struct{}
	done        chan struct{}
	unsubscribe func() error
	started     time.Time
}

// Manager drží mapu běžících procesů.
type Manager struct {
	store    Store
	blobs    imagestore.Blobs
	capturer Capturer
	triggers Subscriber
	client   *http.Client
	policy   retry.Policy
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration

	mu      sync.Mutex
	running map[int64]*runningProcess
}

// NewManager vytvoří manager. triggers může být nil, pak režim trigger nelze spustit.
func NewManager(st Store, blobs imagestore.Blobs, capturer Capturer, triggers Subscriber, m *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		blobs:    blobs,
		capturer: capturer,
		triggers: triggers,
		client:   &http.Client{Timeout: 30 * time.Second},
		policy:   retry.DefaultPolicy(),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		timeout:  ExecuteTimeout,
		running:  make(map[int64]*runningProcess),
	}
}

// Restore znovu spustí procesy, které byly při posledním běhu ve stavu running.
func (m *Manager) Restore(ctx context.Context) error {
	processes, err := m.store.ListProcesses(ctx)
	if err != nil {
		return fmt.Errorf("nelze načíst procesy snímání: %w", err)
	}
	for _, p := range processes {
		if p.Status != model.ProcessRunning {
			continue
		}
		if err := m.Start(ctx, p.ID); err != nil {
			m.logger.Error("Nelze obnovit proces snímání", "process_id", p.ID, "error", err)
			if err := m.store.SetProcessStatus(ctx, p.ID, model.ProcessError); err != nil {
				m.logger.Warn("Nelze uložit stav procesu", "process_id", p.ID, "error", err)
			}
			continue
		}
		m.logger.Info("Proces snímání obnoven", "process_id", p.ID, "name", p.Name)
	}
	return nil
}

// Running vrací true, pokud proces běží v tomto manageru.
func (m *Manager) Running(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

// Start spustí worker procesu podle jeho capture_mode.
func (m *Manager) Start(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[id]; ok {
		return fmt.Errorf("proces %d: %w", id, ErrAlreadyRunning)
	}
	p, err := m.store.GetProcess(ctx, id)
	if err != nil {
		return err
	}

	rp := &runningProcess{
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		started: m.now(),
	}

	var fire <-chan struct{}
	if p.CaptureMode == model.CaptureTrigger {
		if m.triggers == nil {
			return fmt.Errorf("%w: režim trigger vyžaduje broker", model.ErrInvalid)
		}
		ch := make(chan struct{}, 1)
		unsubscribe, err := m.triggers.Subscribe(TriggerTopic(id), func(topic string, payload []byte) {
			select {
			case ch <- struct{}{}:
			default:
				// Snímání už čeká, další zprávu zahodíme.
			}
		})
		if err != nil {
			return fmt.Errorf("nelze přihlásit odběr spouštěče: %w", err)
		}
		rp.unsubscribe = unsubscribe
		fire = ch
	}

	if err := m.store.SetProcessStatus(ctx, id, model.ProcessRunning); err != nil {
		if rp.unsubscribe != nil {
			_ = rp.unsubscribe()
		}
		return err
	}

	m.running[id] = rp
	go m.run(p, rp, fire)

	m.logger.Info("Proces snímání spuštěn", "process_id", id, "mode", p.CaptureMode, "interval", p.Interval())
	return nil
}

// Stop zastaví worker a počká na jeho ukončení.
func (m *Manager) Stop(ctx context.Context, id int64) error {
	m.mu.Lock()
	rp, ok := m.running[id]
	if ok {
		delete(m.running, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("proces %d: %w", id, ErrNotRunning)
	}
	m.halt(rp)

	if err := m.store.SetProcessStatus(ctx, id, model.ProcessStopped); err != nil {
		return err
	}
	m.logger.Info("Proces snímání zastaven", "process_id", id)
	return nil
}

// Close zastaví všechny workery. Stav v úložišti zůstává running, aby je Restore po restartu obnovil.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.running
	m.running = make(map[int64]*runningProcess)
	m.mu.Unlock()

	for _, rp := range all {
		m.halt(rp)
	}
}

func (m *Manager) halt(rp *runningProcess) {
	if rp.unsubscribe != nil {
		if err := rp.unsubscribe(); err != nil {
			m.logger.Warn("Nelze odhlásit odběr spouštěče", "error", err)
		}
	}
	close(rp.stop)
	<-rp.done
}

func (m *Manager) run(p model.ImageProcess, rp *runningProcess, fire <-chan struct{}) {
	defer close(rp.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rp.stop
		cancel()
	}()

	var tick <-chan time.Time
	if p.CaptureMode == model.CaptureInterval {
		ticker := time.NewTicker(p.Interval())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-rp.stop:
			return
		case <-tick:
		case <-fire:
		}
		if _, err := m.execute(ctx, p.ID); err != nil && ctx.Err() == nil {
			m.logger.Error("Snímání selhalo", "process_id", p.ID, "error", err)
		}
	}
}

// Execute provede jedno snímání hned. Pokud nedoběhne do limitu, vrací ErrTimeout.
func (m *Manager) Execute(ctx context.Context, id int64) (model.Execution, error) {
	// Proces musí existovat, jinak 404 místo timeoutu.
	if _, err := m.store.GetProcess(ctx, id); err != nil {
		return model.Execution{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		exec model.Execution
		err  error
	}
	done := make(chan result, 1)
	go func() {
		exec, err := m.execute(ctx, id)
		done <- result{exec: exec, err: err}
	}()

	select {
	case r := <-done:
		return r.exec, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.Execution{}, fmt.Errorf("proces %d: %w", id, ErrTimeout)
		}
		return model.Execution{}, ctx.Err()
	}
}

// execute načte aktuální konfiguraci procesu, sejme snímek, uloží ho a případně nahraje.
func (m *Manager) execute(ctx context.Context, id int64) (model.Execution, error) {
	p, err := m.store.GetProcess(ctx, id)
	if err != nil {
		return model.Execution{}, err
	}
	dev, err := m.store.GetDevice(ctx, p.DeviceID)
	if err != nil {
		return model.Execution{}, fmt.Errorf("zařízení procesu %d: %w", id, err)
	}

	data, err := m.capturer.Capture(ctx, dev, p)
	m.metrics.CaptureDone(err)
	if err != nil {
		return model.Execution{}, fmt.Errorf("snímání procesu %d: %w", id, err)
	}

	at := m.now().UTC()
	key := imagestore.ObjectKey(strconv.FormatInt(dev.ID, 10), at)
	if err := m.blobs.Put(ctx, key, data, contentType); err != nil {
		return model.Execution{}, err
	}
	img, err := m.store.AddImage(ctx, model.Image{
		Device:     strconv.FormatInt(dev.ID, 10),
		DeviceName: dev.Name,
		ProcessID:  p.ID,
		Timestamp:  at,
		ObjectKey:  key,
		Size:       int64(len(data)),
	})
	if err != nil {
		return model.Execution{}, err
	}
	m.Prune(ctx)

	exec := model.Execution{
		At:           at,
		ImageID:      img.ID,
		ObjectKey:    key,
		UploadStatus: model.UploadNotAttempted,
	}
	if p.EnableUpload {
		err := m.upload(ctx, p, data, at)
		m.metrics.UploadDone(err)
		if err != nil {
			exec.UploadStatus = model.UploadFailed
			exec.UploadError = err.Error()
			m.logger.Warn("Upload snímku selhal", "process_id", id, "url", p.UploadURL, "error", err)
		} else {
			exec.UploadStatus = model.UploadSuccess
		}
	}

	if err := m.store.RecordExecution(ctx, id, exec); err != nil {
		return exec, err
	}
	m.logger.Info("Snímek uložen", "process_id", id, "image_id", img.ID, "bytes", len(data), "upload", exec.UploadStatus)
	return exec, nil
}

// Prune smaže snímky starší než retenční okno včetně jejich dat.
func (m *Manager) Prune(ctx context.Context) {
	removed, err := m.store.DeleteImagesBefore(ctx, RetentionCutoff(m.now()))
	if err != nil {
		m.logger.Warn("Nelze smazat staré snímky", "error", err)
		return
	}
	for _, img := range removed {
		if img.ObjectKey == "" {
			continue
		}
		if err := m.blobs.Remove(ctx, img.ObjectKey); err != nil && !errors.Is(err, imagestore.ErrNotFound) {
			m.logger.Warn("Nelze smazat data snímku", "key", img.ObjectKey, "error", err)
		}
	}
	if len(removed) > 0 {
		m.logger.Info("Staré snímky smazány", "count", len(removed))
	}
}
