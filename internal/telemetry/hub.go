package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/broker"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

// DeviceSource je část registru zařízení, kterou hub potřebuje.
type DeviceSource interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
	SetDeviceStatus(ctx context.Context, id int64, status string) error
}

// Subscriber přihlašuje inline odběry na brokeru.
type Subscriber interface {
	Subscribe(filter string, handler broker.MessageHandler) (func() error, error)
}

// DatapointValue je hodnota jednoho datapointu ve WS zprávě.
type DatapointValue struct {
	DatapointID string `json:"datapointId"`
	Value       string `json:"value"`
}

// DeviceData je jedno zařízení ve WS zprávě /api/deviceData.
type DeviceData struct {
	DeviceID   int64            `json:"deviceId"`
	DeviceName string           `json:"deviceName"`
	Status     string           `json:"status"`
	Datapoints []DatapointValue `json:"datapoints"`
}

type deviceState struct {
	known   bool
	name    string
	status  string
	dpNames map[string]string
	values  map[string]string
}

// Hub agreguje poslední hodnoty a stavy zařízení z brokeru.
// Každé čtení zároveň vloží do bufferu pro přeposílání.
type Hub struct {
	devices DeviceSource
	buffer  *Buffer
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	state map[int64]*deviceState
}

// NewHub vytvoří hub. buffer může být nil, pokud se data nepřeposílají.
func NewHub(devices DeviceSource, buffer *Buffer, logger *slog.Logger) *Hub {
	return &Hub{
		devices: devices,
		buffer:  buffer,
		logger:  logger,
		now:     time.Now,
		state:   make(map[int64]*deviceState),
	}
}

// Buffer vrací buffer čtení.
func (h *Hub) Buffer() *Buffer {
	return h.buffer
}

func (h *Hub) entry(id int64) *deviceState {
	st, ok := h.state[id]
	if !ok {
		st = &deviceState{dpNames: map[string]string{}, values: map[string]string{}}
		h.state[id] = st
	}
	return st
}

// Refresh načte zařízení z registru (názvy, datapointy, uložený stav).
// Hodnoty už přijaté z brokeru zůstávají.
func (h *Hub) Refresh(ctx context.Context) error {
	list, err := h.devices.ListDevices(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	present := make(map[int64]bool, len(list))
	for _, d := range list {
		present[d.ID] = true
		st := h.entry(d.ID)
		st.known = true
		st.name = d.Name
		if st.status == "" {
			st.status = d.Status
		}
		st.dpNames = make(map[string]string, len(d.Datapoints))
		for _, dp := range d.Datapoints {
			st.dpNames[dp.ID] = dp.Name
		}
	}
	for id := range h.state {
		if !present[id] {
			delete(h.state, id)
		}
	}
	return nil
}

// HandleData zpracuje zprávu z data/<typ>/<id>/<datapoint>.
func (h *Hub) HandleData(topic string, payload []byte) {
	t, err := ParseDataTopic(topic)
	if err != nil {
		h.logger.Debug("Zpráva ignorována", "topic", topic, "důvod", err)
		return
	}
	value := strings.TrimSpace(string(payload))
	now := h.now()

	h.mu.Lock()
	st := h.entry(t.DeviceID)
	st.values[t.DatapointID] = value
	reading := model.Reading{
		DeviceID:      t.DeviceID,
		DeviceName:    st.name,
		DatapointID:   t.DatapointID,
		DatapointName: st.dpNames[t.DatapointID],
		Value:         value,
		Timestamp:     now,
	}
	h.mu.Unlock()

	if h.buffer != nil {
		h.buffer.Append(reading)
	}
}

// HandleState zpracuje stav driveru z driver/states/<typ>/<id>.
// Změnu stavu známého zařízení zapíše do registru.
func (h *Hub) HandleState(topic string, payload []byte) {
	_, id, err := ParseStateTopic(topic)
	if err != nil {
		h.logger.Debug("Zpráva ignorována", "topic", topic, "důvod", err)
		return
	}
	status := strings.TrimSpace(string(payload))
	if !model.ValidStatus(status) {
		h.logger.Warn("Neznámý stav driveru", "deviceId", id, "status", status)
		return
	}

	h.mu.Lock()
	st := h.entry(id)
	changed := st.status != status
	st.status = status
	known := st.known
	h.mu.Unlock()

	if !changed || !known {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.devices.SetDeviceStatus(ctx, id, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("Nelze uložit stav zařízení", "deviceId", id, "error", err)
	}
}

// Snapshot vrací známá zařízení seřazená podle ID s datapointy seřazenými podle ID.
// Číselné hodnoty jsou formátované na dvě desetinná místa.
func (h *Hub) Snapshot() []DeviceData {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]DeviceData, 0, len(h.state))
	for id, st := range h.state {
		if !st.known {
			continue
		}
		dd := DeviceData{
			DeviceID:   id,
			DeviceName: st.name,
			Status:     st.status,
			Datapoints: make([]DatapointValue, 0, len(st.values)),
		}
		for dpID, v := range st.values {
			dd.Datapoints = append(dd.Datapoints, DatapointValue{DatapointID: dpID, Value: FormatValue(v)})
		}
		sort.Slice(dd.Datapoints, func(i, j int) bool {
			return model.LessDatapointID(dd.Datapoints[i].DatapointID, dd.Datapoints[j].DatapointID)
		})
		out = append(out, dd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// LastValues vrací poslední nezformátované hodnoty datapointů zařízení.
func (h *Hub) LastValues(deviceID int64) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.state[deviceID]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(st.values))
	for k, v := range st.values {
		out[k] = v
	}
	return out
}

// DeviceCount vrací počet zařízení v registru.
func (h *Hub) DeviceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, st := range h.state {
		if st.known {
			n++
		}
	}
	return n
}

// Run přihlásí odběry na brokeru a každou periodu obnoví registr zařízení.
func (h *Hub) Run(ctx context.Context, sub Subscriber, refreshEvery time.Duration) error {
	if err := h.Refresh(ctx); err != nil {
		h.logger.Error("Nelze načíst zařízení", "error", err)
	}

	unsubData, err := sub.Subscribe(DataFilter, h.HandleData)
	if err != nil {
		return err
	}
	defer unsubData()
	unsubState, err := sub.Subscribe(StateFilter, h.HandleState)
	if err != nil {
		return err
	}
	defer unsubState()

	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Refresh(ctx); err != nil {
				h.logger.Error("Nelze obnovit zařízení", "error", err)
			}
		}
	}
}
