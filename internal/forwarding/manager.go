// Package forwarding přeposílá živá data zařízení do cílů nastavených v routách
// (REST, soubor, MQTT, Kafka). Každá routa má vlastní worker s tickerem.
package forwarding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/metrics"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/retry"
	"github.com/jola2802/iot-gateway-sub000/internal/telemetry"
)

// Sink je cíl jedné routy.
type Sink interface {
	Send(ctx context.Context, readings []model.Reading) error
	Close() error
}

// RouteStore je část registru rout, kterou manager potřebuje.
type RouteStore interface {
	ListRoutes(ctx context.Context) ([]model.Route, error)
	SetRouteLastUpdated(ctx context.Context, id int64, summary string) error
}

// Summary je text, který se ukládá do lastUpdated routy.
func Summary(at time.Time, sent int, err error) string {
	ts := at.Format(time.RFC3339)
	if err != nil {
		return fmt.Sprintf("error sending request: %s\n%v", ts, err)
	}
	return fmt.Sprintf("%s\namount of datapoints sent: %d", ts, sent)
}

// Manager spouští a zastavuje workery rout.
type Manager struct {
	routes  RouteStore
	buffer  *telemetry.Buffer
	inline  Publisher
	client  *http.Client
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// newSink je vyměnitelná v testech.
	newSink func(r model.Route) (Sink, error)

	reloadMu sync.Mutex

	mu      sync.Mutex
	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running map[int64]bool
}

// NewManager vytvoří manager. inline je vestavěný broker pro MQTT routy bez URL.
func NewManager(routes RouteStore, buffer *telemetry.Buffer, inline Publisher, m *metrics.Metrics, logger *slog.Logger) *Manager {
	mgr := &Manager{
		routes:  routes,
		buffer:  buffer,
		inline:  inline,
		client:  &http.Client{Timeout: 10 * time.Second},
		policy:  retry.DefaultPolicy(),
		metrics: m,
		logger:  logger,
		now:     time.Now,
		base:    context.Background(),
		running: map[int64]bool{},
	}
	mgr.newSink = mgr.sinkFor
	return mgr
}

func (m *Manager) sinkFor(r model.Route) (Sink, error) {
	switch r.DestinationType {
	case model.RouteREST:
		return NewRESTSink(m.client, r.DestinationURL, r.Headers, m.policy), nil
	case model.RouteFile:
		return NewFileSink(r.FilePath, r.DataFormat), nil
	case model.RouteMQTT:
		topic := r.Topic
		if topic == "" {
			topic = strconv.FormatInt(r.ID, 10)
		}
		if r.DestinationURL == "" {
			return NewInlineMQTTSink(m.inline, topic, r.DataFormat), nil
		}
		return NewExternalMQTTSink(r.DestinationURL, fmt.Sprintf("gateway-route-%d", r.ID), topic, r.DataFormat, m.logger)
	case model.RouteKafka:
		return NewKafkaSink(r.DestinationURL, r.Topic, r.DataFormat), nil
	}
	return nil, fmt.Errorf("%w: nepodporovaný typ cíle %q", model.ErrInvalid, r.DestinationType)
}

// Run spustí workery všech rout a čeká na zrušení ctx.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()

	if err := m.Reload(ctx); err != nil {
		m.logger.Error("Nelze spustit přeposílání dat", "error", err)
	}
	<-ctx.Done()
	m.stopAll()
	return nil
}

// Reload zastaví všechny workery a spustí je znovu podle aktuálních rout.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	routes, err := m.routes.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("nelze načíst routy: %w", err)
	}

	m.stopAll()

	m.mu.Lock()
	defer m.mu.Unlock()
	workerCtx, cancel := context.WithCancel(m.base)
	m.cancel = cancel
	m.running = make(map[int64]bool, len(routes))

	for _, r := range routes {
		sink, err := m.newSink(r)
		if err != nil {
			m.logger.Error("Routu nelze spustit", "routeId", r.ID, "error", err)
			m.saveSummary(ctx, r.ID, Summary(m.now(), 0, err))
			continue
		}
		w := &worker{route: r, sink: sink, devices: deviceSet(r), cursor: m.buffer.Cursor()}
		m.running[r.ID] = true
		m.wg.Add(1)
		go m.runWorker(workerCtx, w)
	}
	m.logger.Info("Přeposílání dat spuštěno", "routes", len(m.running))
	return nil
}

// Running vrací ID rout, které mají spuštěný worker.
func (m *Manager) Running() map[int64]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]bool, len(m.running))
	for id := range m.running {
		out[id] = true
	}
	return out
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

type worker struct {
	route   model.Route
	sink    Sink
	devices map[int64]bool
	cursor  uint64
}

func deviceSet(r model.Route) map[int64]bool {
	set := map[int64]bool{}
	for _, id := range r.DeviceIDs() {
		set[id] = true
	}
	return set
}

func (m *Manager) runWorker(ctx context.Context, w *worker) {
	defer m.wg.Done()
	defer w.sink.Close()

	ticker := time.NewTicker(w.route.IntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.flush(ctx, w)
		}
	}
}

// flush odešle čtení nasbíraná od posledního tiku. Routa bez zařízení nic neposílá.
func (m *Manager) flush(ctx context.Context, w *worker) {
	if len(w.devices) == 0 {
		return
	}
	readings, next := m.buffer.Since(w.cursor, w.devices)
	w.cursor = next
	if len(readings) == 0 {
		m.logger.Debug("Žádná data k odeslání", "routeId", w.route.ID)
		return
	}

	err := w.sink.Send(ctx, readings)
	m.metrics.Forwarded(w.route.DestinationType, len(readings), err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("Chyba při přeposílání dat", "routeId", w.route.ID, "type", w.route.DestinationType, "error", err)
	}
	m.saveSummary(ctx, w.route.ID, Summary(m.now(), len(readings), err))
}

func (m *Manager) saveSummary(ctx context.Context, id int64, summary string) {
	if err := m.routes.SetRouteLastUpdated(ctx, id, summary); err != nil {
		m.logger.Error("Nelze uložit stav routy", "routeId", id, "error", err)
	}
}
