// Package console obsluhuje REST/WS rozhraní administrátorské konzole brány.
// Service drží pravidla nad úložištěm a běžícími komponentami, APIHandler je HTTP vrstva.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/broker"
	"github.com/jola2802/iot-gateway-sub000/internal/cache"
	"github.com/jola2802/iot-gateway-sub000/internal/capture"
	"github.com/jola2802/iot-gateway-sub000/internal/history"
	"github.com/jola2802/iot-gateway-sub000/internal/imagestore"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

// ErrUnavailable vrací Service, pokud potřebná komponenta není nakonfigurovaná.
var ErrUnavailable = errors.New("služba není dostupná")

// WSTokenTTL je platnost tokenu pro WebSockety.
const WSTokenTTL = 10 * time.Minute

// BrokerControl je část brokeru, kterou konzole ovládá.
type BrokerControl interface {
	Reload(ctx context.Context) error
	Publish(topic string, payload []byte) error
}

// Reloader restartuje komponentu po změně konfigurace (forwarding).
type Reloader interface {
	Reload(ctx context.Context) error
}

// CaptureControl je správce procesů snímání.
type CaptureControl interface {
	Start(ctx context.Context, id int64) error
	Stop(ctx context.Context, id int64) error
	Execute(ctx context.Context, id int64) (model.Execution, error)
	Running(id int64) bool
	Prune(ctx context.Context)
}

// NodeBrowser prochází adresní prostor OPC-UA zařízení.
type NodeBrowser interface {
	Browse(ctx context.Context, dev model.Device) ([]capture.Node, error)
}

// LiveValues jsou živá data z telemetrického hubu.
type LiveValues interface {
	LastValues(deviceID int64) map[string]string
	Refresh(ctx context.Context) error
}

// Deps jsou závislosti Service. Broker, Forwarding, Capture, Browser, History, Blobs a Live mohou být nil.
type Deps struct {
	Store      store.Store
	Cache      cache.Cache
	Broker     BrokerControl
	Forwarding Reloader
	Capture    CaptureControl
	Browser    NodeBrowser
	History    history.Querier
	Blobs      imagestore.Blobs
	Live       LiveValues
	Location   *time.Location
	// BrokerListeners jsou listenery vestavěného brokeru. Z websocket listeneru se skládá
	// adresa v přihlašovacích údajích konzole.
	BrokerListeners []broker.ListenerConfig
	Logger          *slog.Logger
}

// Service je business logika konzole.
type Service struct {
	store      store.Store
	cache      cache.Cache
	broker     BrokerControl
	forwarding Reloader
	capture    CaptureControl
	browser    NodeBrowser
	history    history.Querier
	blobs      imagestore.Blobs
	live       LiveValues
	loc        *time.Location
	brokerWS   broker.Endpoint
	hasWS      bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewService vytvoří Service.
func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	ws, hasWS := broker.WebsocketEndpoint(d.BrokerListeners)
	return &Service{
		store:      d.Store,
		cache:      d.Cache,
		broker:     d.Broker,
		forwarding: d.Forwarding,
		capture:    d.Capture,
		browser:    d.Browser,
		history:    d.History,
		blobs:      d.Blobs,
		live:       d.Live,
		loc:        loc,
		brokerWS:   ws,
		hasWS:      hasWS,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// --- zařízení ---

// ListDevices vrací řádky seznamu zařízení.
func (s *Service) ListDevices(ctx context.Context) ([]model.DeviceSummary, error) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.DeviceSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Summary())
	}
	return out, nil
}

// GetDevice vrací zařízení s datapointy seřazenými podle ID a s posledními hodnotami.
// Hodnoty z hubu mají přednost před cache, protože jsou čerstvější.
func (s *Service) GetDevice(ctx context.Context, id int64) (model.Device, error) {
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return model.Device{}, err
	}

	values, err := s.cache.LastValues(ctx, id)
	if err != nil {
		s.logger.Warn("Nelze načíst poslední hodnoty z cache", "device_id", id, "error", err)
		values = map[string]string{}
	}
	if s.live != nil {
		for dp, v := range s.live.LastValues(id) {
			values[dp] = v
		}
	}

	model.SortDatapoints(d.Datapoints)
	for i := range d.Datapoints {
		d.Datapoints[i].Value = values[d.Datapoints[i].ID]
	}
	return d, nil
}

// DeviceRefs vrací "<id> - <název>" všech zařízení. Seznam se drží v cache do další změny zařízení.
func (s *Service) DeviceRefs(ctx context.Context) ([]string, error) {
	refs, ok, err := s.cache.DeviceRefs(ctx)
	if err != nil {
		s.logger.Warn("Cache zařízení nedostupná", "error", err)
	}
	if ok {
		return refs, nil
	}

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	refs = make([]string, 0, len(devices))
	for _, d := range devices {
		refs = append(refs, d.Ref())
	}
	if err := s.cache.SetDeviceRefs(ctx, refs); err != nil {
		s.logger.Warn("Nelze uložit seznam zařízení do cache", "error", err)
	}
	return refs, nil
}

// SaveDevice založí (id == 0) nebo přepíše zařízení. MQTT zařízení dostane
// uživatele brokeru se svým jménem a heslem.
func (s *Service) SaveDevice(ctx context.Context, id int64, d model.Device) (model.Device, error) {
	if err := d.Validate(); err != nil {
		return model.Device{}, err
	}
	if d.Type == model.DeviceMQTT && d.Password == "" {
		return model.Device{}, fmt.Errorf("%w: MQTT zařízení potřebuje heslo pro broker", model.ErrInvalid)
	}
	if d.Type == model.DeviceMQTT && d.Name == broker.AdminUsername {
		return model.Device{}, fmt.Errorf("zařízení %q: %w", d.Name, store.ErrConflict)
	}
	d.AssignDatapointIDs()

	var (
		old   model.Device
		saved model.Device
		err   error
	)
	if id == 0 {
		d.ID = 0
		d.Status = ""
		if err := s.checkDeviceUserFree(ctx, old, d); err != nil {
			return model.Device{}, err
		}
		saved, err = s.store.CreateDevice(ctx, d)
	} else {
		old, err = s.store.GetDevice(ctx, id)
		if err != nil {
			return model.Device{}, err
		}
		if err := s.checkDeviceUserFree(ctx, old, d); err != nil {
			return model.Device{}, err
		}
		d.ID = id
		if d.Status == "" {
			d.Status = old.Status
		}
		saved, err = s.store.UpdateDevice(ctx, d)
	}
	if err != nil {
		return model.Device{}, err
	}

	if err := s.syncDeviceUser(ctx, old, saved); err != nil {
		return saved, err
	}
	s.afterDeviceWrite(ctx)
	s.logger.Info("Zařízení uloženo", "device_id", saved.ID, "name", saved.Name, "type", saved.Type)
	return saved, nil
}

// DeleteDevice smaže zařízení včetně datapointů a případného uživatele brokeru.
func (s *Service) DeleteDevice(ctx context.Context, id int64) error {
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	if err := s.syncDeviceUser(ctx, d, model.Device{}); err != nil {
		return err
	}
	s.afterDeviceWrite(ctx)
	s.logger.Info("Zařízení smazáno", "device_id", id, "name", d.Name)
	return nil
}

// RestartDevice požádá driver zařízení o restart zprávou driver/restart/<typ>/<id>.
func (s *Service) RestartDevice(ctx context.Context, id int64) error {
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if s.broker == nil {
		return ErrUnavailable
	}
	topic := fmt.Sprintf("driver/restart/%s/%d", d.Type, d.ID)
	if err := s.broker.Publish(topic, []byte("restart")); err != nil {
		return fmt.Errorf("nelze odeslat restart: %w", err)
	}
	return nil
}

// checkDeviceUserFree hlídá, aby MQTT zařízení nepřevzalo existujícího uživatele brokeru.
// Vlastní uživatel zařízení (stejné jméno před i po změně) konflikt není.
func (s *Service) checkDeviceUserFree(ctx context.Context, old, d model.Device) error {
	if d.Type != model.DeviceMQTT {
		return nil
	}
	if old.Type == model.DeviceMQTT && old.Name == d.Name {
		return nil
	}
	_, err := s.store.GetBrokerUser(ctx, d.Name)
	switch {
	case err == nil:
		return fmt.Errorf("uživatel brokeru %q už existuje: %w", d.Name, store.ErrConflict)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return err
	}
}

// syncDeviceUser udržuje uživatele brokeru MQTT zařízení v souladu se zařízením.
// Prázdné old znamená nové zařízení, prázdné updated smazané.
func (s *Service) syncDeviceUser(ctx context.Context, old, updated model.Device) error {
	changed := false
	if old.Type == model.DeviceMQTT && (updated.Type != model.DeviceMQTT || updated.Name != old.Name) {
		if err := s.store.DeleteBrokerUser(ctx, old.Name); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("nelze smazat uživatele brokeru %q: %w", old.Name, err)
		}
		changed = true
	}
	if updated.Type == model.DeviceMQTT {
		if err := s.store.SaveBrokerUser(ctx, broker.DeviceUser(updated)); err != nil {
			return fmt.Errorf("nelze uložit uživatele brokeru %q: %w", updated.Name, err)
		}
		changed = true
	}
	if changed {
		s.reloadBroker(ctx)
	}
	return nil
}

func (s *Service) afterDeviceWrite(ctx context.Context) {
	if err := s.cache.InvalidateDevices(ctx); err != nil {
		s.logger.Warn("Nelze zneplatnit cache zařízení", "error", err)
	}
	if s.live != nil {
		if err := s.live.Refresh(ctx); err != nil {
			s.logger.Warn("Nelze obnovit seznam zařízení v hubu", "error", err)
		}
	}
}

func (s *Service) reloadBroker(ctx context.Context) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Reload(ctx); err != nil {
		s.logger.Error("Nelze obnovit uživatele brokeru", "error", err)
	}
}

// --- uživatelé brokeru ---

func (s *Service) ListBrokerUsers(ctx context.Context) ([]model.BrokerUser, error) {
	return s.store.ListBrokerUsers(ctx)
}

func (s *Service) GetBrokerUser(ctx context.Context, username string) (model.BrokerUser, error) {
	return s.store.GetBrokerUser(ctx, username)
}

// SaveBrokerUser vloží nebo nahradí uživatele včetně ACL a obnoví autorizaci brokeru.
func (s *Service) SaveBrokerUser(ctx context.Context, u model.BrokerUser) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveBrokerUser(ctx, u); err != nil {
		return err
	}
	s.reloadBroker(ctx)
	s.logger.Info("Uživatel brokeru uložen", "username", u.Username, "acls", len(u.ACLs))
	return nil
}

// DeleteBrokerUser smaže uživatele. Uživatele admin smazat nelze.
func (s *Service) DeleteBrokerUser(ctx context.Context, username string) error {
	if username == broker.AdminUsername {
		return fmt.Errorf("%w: uživatele %s nelze smazat", model.ErrInvalid, broker.AdminUsername)
	}
	if err := s.store.DeleteBrokerUser(ctx, username); err != nil {
		return err
	}
	s.reloadBroker(ctx)
	s.logger.Info("Uživatel brokeru smazán", "username", username)
	return nil
}

// BrokerLogin jsou údaje, kterými se konzole připojí k brokeru přes websocket.
type BrokerLogin struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	BrokerURL string `json:"brokerUrl"`
}

// BrokerLogin vrací přihlašovací údaje admina. host je jméno serveru z požadavku konzole.
func (s *Service) BrokerLogin(ctx context.Context, host string) (BrokerLogin, error) {
	if !s.hasWS {
		return BrokerLogin{}, fmt.Errorf("%w: broker nemá websocket listener", ErrUnavailable)
	}
	u, err := s.store.GetBrokerUser(ctx, broker.AdminUsername)
	if err != nil {
		return BrokerLogin{}, err
	}
	return BrokerLogin{
		Username:  u.Username,
		Password:  u.Password,
		BrokerURL: s.brokerWS.URL(host),
	}, nil
}

// --- routy ---

func (s *Service) ListRoutes(ctx context.Context) ([]model.Route, error) {
	return s.store.ListRoutes(ctx)
}

func (s *Service) GetRoute(ctx context.Context, id int64) (model.Route, error) {
	return s.store.GetRoute(ctx, id)
}

// CreateRoute uloží novou routu a restartuje workery.
func (s *Service) CreateRoute(ctx context.Context, r model.Route) (model.Route, error) {
	if err := r.Validate(); err != nil {
		return model.Route{}, err
	}
	r.ID = 0
	r.LastUpdated = ""
	created, err := s.store.CreateRoute(ctx, r)
	if err != nil {
		return model.Route{}, err
	}
	s.reloadForwarding(ctx)
	s.logger.Info("Routa vytvořena", "route_id", created.ID, "type", created.DestinationType)
	return created, nil
}

// UpdateRoute přepíše routu a restartuje workery.
func (s *Service) UpdateRoute(ctx context.Context, id int64, r model.Route) (model.Route, error) {
	if err := r.Validate(); err != nil {
		return model.Route{}, err
	}
	r.ID = id
	updated, err := s.store.UpdateRoute(ctx, r)
	if err != nil {
		return model.Route{}, err
	}
	s.reloadForwarding(ctx)
	return updated, nil
}

// DeleteRoute smaže routu a zastaví její worker.
func (s *Service) DeleteRoute(ctx context.Context, id int64) error {
	if err := s.store.DeleteRoute(ctx, id); err != nil {
		return err
	}
	s.reloadForwarding(ctx)
	return nil
}

func (s *Service) reloadForwarding(ctx context.Context) {
	if s.forwarding == nil {
		return
	}
	if err := s.forwarding.Reload(ctx); err != nil {
		s.logger.Error("Nelze restartovat přeposílání dat", "error", err)
	}
}
