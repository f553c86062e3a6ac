package console

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jola2802/iot-gateway-sub000/internal/auth"
	"github.com/jola2802/iot-gateway-sub000/internal/broker"
	"github.com/jola2802/iot-gateway-sub000/internal/cache"
	"github.com/jola2802/iot-gateway-sub000/internal/capture"
	"github.com/jola2802/iot-gateway-sub000/internal/imagestore"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
	"github.com/jola2802/iot-gateway-sub000/internal/store/memory"
)

type fakeBroker struct {
	mu        sync.Mutex
	reloads   int
	published []string
}

func (b *fakeBroker) Reload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloads++
	return nil
}

func (b *fakeBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, topic)
	return nil
}

type fakeCapture struct {
	running map[int64]bool
}

func (c *fakeCapture) Start(ctx context.Context, id int64) error {
	if c.running[id] {
		return capture.ErrAlreadyRunning
	}
	c.running[id] = true
	return nil
}

func (c *fakeCapture) Stop(ctx context.Context, id int64) error {
	if !c.running[id] {
		return capture.ErrNotRunning
	}
	delete(c.running, id)
	return nil
}

func (c *fakeCapture) Execute(ctx context.Context, id int64) (model.Execution, error) {
	return model.Execution{}, capture.ErrTimeout
}

func (c *fakeCapture) Running(id int64) bool     { return c.running[id] }
func (c *fakeCapture) Prune(ctx context.Context) {}

type fakeBrowser struct {
	nodes   []capture.Node
	err     error
	browsed []string
}

func (b *fakeBrowser) Browse(ctx context.Context, dev model.Device) ([]capture.Node, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("procházení bez časového limitu")
	}
	b.browsed = append(b.browsed, dev.Address)
	return b.nodes, b.err
}

type fixture struct {
	st      *memory.Store
	cache   *cache.Memory
	blobs   *imagestore.Memory
	broker  *fakeBroker
	capture *fakeCapture
	browser *fakeBrowser
	svc     *Service
	mux     *http.ServeMux
	cookie  *http.Cookie
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	f := &fixture{
		st:      memory.New(),
		cache:   cache.NewMemory(),
		blobs:   imagestore.NewMemory(),
		broker:  &fakeBroker{},
		capture: &fakeCapture{running: map[int64]bool{}},
		browser: &fakeBrowser{},
	}
	require.NoError(t, auth.EnsureUser(ctx, f.st, "admin", "admin1234"))
	require.NoError(t, f.st.SaveBrokerUser(ctx, model.BrokerUser{
		Username: "admin", Password: "tajne", ACLs: []model.AclEntry{{Topic: "#", Permission: model.PermReadWrite}},
	}))

	f.svc = NewService(Deps{
		Store:   f.st,
		Cache:   f.cache,
		Broker:  f.broker,
		Capture: f.capture,
		Browser: f.browser,
		Blobs:   f.blobs,
		BrokerListeners: []broker.ListenerConfig{
			{ID: "tcp", Type: "tcp", Address: ":1883"},
			{ID: "ws", Type: "websocket", Address: ":5102", TLS: true},
		},
		Logger: logger,
	})
	sessions := auth.NewSessions(nil, nil, time.Hour, false)
	h := NewAPIHandler(f.svc, sessions, auth.NewLimiter(time.Minute, 3), LiveHandlers{}, logger)
	f.mux = http.NewServeMux()
	h.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/login", map[string]string{"username": "admin", "password": "admin1234"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	f.cookie = cookies[0]
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func opcuaDevice(name string) model.Device {
	return model.Device{
		Name:    name,
		Type:    model.DeviceOPCUA,
		Address: "opc.tcp://plc:4840",
		Datapoints: []model.Datapoint{
			{Name: "teplota", Address: "ns=2;s=Temp"},
			{Name: "tlak", Address: "ns=2;s=Press"},
		},
	}
}

func TestAPIRequiresSession(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/getDevices", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/login", map[string]string{"username": "admin", "password": "spatne"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	f.login(t)
	rec = f.do(t, http.MethodGet, "/api/getDevices", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.True(t, cleared[0].MaxAge < 0)
}

func TestLoginForm(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("username=admin&password=admin1234"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/login", map[string]string{"username": "admin", "password": "spatne"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/login", map[string]string{"username": "admin", "password": "admin1234"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDeviceRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/device/new", opcuaDevice("Lis 1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &created)
	require.NotZero(t, created.ID)

	require.NoError(t, f.cache.SetLastValue(ctx, created.ID, "002", "1.5"))

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/getDevice/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Device model.Device `json:"device"`
	}
	decodeBody(t, rec, &got)
	assert.Equal(t, "Lis 1", got.Device.Name)
	require.Len(t, got.Device.Datapoints, 2)
	assert.Equal(t, "001", got.Device.Datapoints[0].ID)
	assert.Equal(t, "", got.Device.Datapoints[0].Value)
	assert.Equal(t, "1.5", got.Device.Datapoints[1].Value)

	rec = f.do(t, http.MethodGet, "/api/getDevice/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/delete-device/%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/getDevice/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceValidationError(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	d := opcuaDevice("")
	rec := f.do(t, http.MethodPost, "/api/add-device", d)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/add-device", strings.NewReader("{"))
	req.AddCookie(f.cookie)
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMQTTDeviceGetsBrokerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := model.Device{Name: "senzor", Type: model.DeviceMQTT, Password: "heslo"}
	saved, err := f.svc.SaveDevice(ctx, 0, d)
	require.NoError(t, err)

	u, err := f.st.GetBrokerUser(ctx, "senzor")
	require.NoError(t, err)
	assert.Equal(t, "heslo", u.Password)
	assert.Equal(t, 1, f.broker.reloads)

	require.NoError(t, f.svc.DeleteDevice(ctx, saved.ID))
	_, err = f.st.GetBrokerUser(ctx, "senzor")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.SaveDevice(ctx, 0, model.Device{Name: "senzor2", Type: model.DeviceMQTT})
	assert.ErrorIs(t, err, model.ErrInvalid)
	_, err = f.svc.SaveDevice(ctx, 0, model.Device{Name: "admin", Type: model.DeviceMQTT, Password: "x"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestMQTTDeviceDoesNotTakeOverBrokerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	operator := model.BrokerUser{
		Username: "operator",
		Password: "op-heslo",
		ACLs:     []model.AclEntry{{Topic: "data/#", Permission: model.PermRead}},
	}
	require.NoError(t, f.st.SaveBrokerUser(ctx, operator))

	_, err := f.svc.SaveDevice(ctx, 0, model.Device{Name: "operator", Type: model.DeviceMQTT, Password: "x"})
	assert.ErrorIs(t, err, store.ErrConflict)
	devices, err := f.st.ListDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	saved, err := f.svc.SaveDevice(ctx, 0, model.Device{Name: "senzor", Type: model.DeviceMQTT, Password: "heslo"})
	require.NoError(t, err)

	// Přejmenování na cizího uživatele je konflikt, zařízení zůstane beze změny.
	_, err = f.svc.SaveDevice(ctx, saved.ID, model.Device{Name: "operator", Type: model.DeviceMQTT, Password: "x"})
	assert.ErrorIs(t, err, store.ErrConflict)
	got, err := f.st.GetDevice(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "senzor", got.Name)

	// Vlastního uživatele zařízení lze dál upravovat.
	_, err = f.svc.SaveDevice(ctx, saved.ID, model.Device{Name: "senzor", Type: model.DeviceMQTT, Password: "nove"})
	require.NoError(t, err)
	u, err := f.st.GetBrokerUser(ctx, "senzor")
	require.NoError(t, err)
	assert.Equal(t, "nove", u.Password)

	kept, err := f.st.GetBrokerUser(ctx, "operator")
	require.NoError(t, err)
	assert.Equal(t, "op-heslo", kept.Password)
	assert.Equal(t, operator.ACLs, kept.ACLs)

	f.login(t)
	rec := f.do(t, http.MethodPost, "/api/add-device", map[string]any{"deviceName": "operator", "deviceType": "mqtt", "password": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBrowseNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t)

	plc, err := f.svc.SaveDevice(ctx, 0, opcuaDevice("PLC"))
	require.NoError(t, err)
	f.browser.nodes = []capture.Node{
		{NodeID: "ns=2;s=Cam.Image", BrowseName: "Image", Path: "Objects.Camera.Image", NodeClass: "NodeClassVariable", DataType: "ByteString"},
	}

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/browse-nodes/%d", plc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Nodes []capture.Node `json:"nodes"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, f.browser.nodes, body.Nodes)
	assert.Equal(t, []string{"opc.tcp://plc:4840"}, f.browser.browsed)

	mqttDev, err := f.svc.SaveDevice(ctx, 0, model.Device{Name: "m1", Type: model.DeviceMQTT, Password: "x"})
	require.NoError(t, err)
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/browse-nodes/%d", mqttDev.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/browse-nodes/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.browser.nodes = nil
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/browse-nodes/%d", plc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"nodes":[]}`, rec.Body.String())

	f.browser.err = errors.New("nelze se připojit")
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/browse-nodes/%d", plc.ID), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeviceRefsInvalidatedOnWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.SaveDevice(ctx, 0, opcuaDevice("A"))
	require.NoError(t, err)
	refs, err := f.svc.DeviceRefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{fmt.Sprintf("%d - A", first.ID)}, refs)

	second, err := f.svc.SaveDevice(ctx, 0, opcuaDevice("B"))
	require.NoError(t, err)
	refs, err = f.svc.DeviceRefs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{fmt.Sprintf("%d - A", first.ID), fmt.Sprintf("%d - B", second.ID)}, refs)
}

func TestRestartDevicePublishes(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	d, err := f.svc.SaveDevice(context.Background(), 0, opcuaDevice("Lis"))
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/restart-device/%d", d.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{fmt.Sprintf("driver/restart/opc-ua/%d", d.ID)}, f.broker.published)
}

func TestBrokerUsers(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	bad := map[string]any{"username": "ctenar", "password": "x", "acls": []map[string]any{{"topic": "data/#", "permission": 7}}}
	rec := f.do(t, http.MethodPost, "/api/add-broker-user", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	good := map[string]any{"username": "ctenar", "password": "x", "acls": []map[string]any{{"topic": "data/#", "permission": "1"}}}
	rec = f.do(t, http.MethodPost, "/api/add-broker-user", good)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.broker.reloads)

	rec = f.do(t, http.MethodGet, "/api/getBrokerUser/ctenar", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var u model.BrokerUser
	decodeBody(t, rec, &u)
	require.Len(t, u.ACLs, 1)
	assert.Equal(t, model.PermRead, u.ACLs[0].Permission)

	rec = f.do(t, http.MethodDelete, "/api/delete-broker-user/admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/delete-broker-user/ctenar", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/getBrokerUsers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []model.BrokerUser
	decodeBody(t, rec, &users)
	for _, u := range users {
		assert.NotEqual(t, "ctenar", u.Username)
	}

	rec = f.do(t, http.MethodDelete, "/api/delete-broker-user/ctenar", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBrokerLogin(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	req := httptest.NewRequest(http.MethodGet, "http://gateway.local:8088/api/getBrokerLogin", nil)
	req.AddCookie(f.cookie)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var login BrokerLogin
	decodeBody(t, rec, &login)
	assert.Equal(t, "admin", login.Username)
	assert.Equal(t, "tajne", login.Password)
	assert.Equal(t, "wss://gateway.local:5102/", login.BrokerURL)
}

func TestBrokerLoginFollowsListener(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, broker.EnsureAdmin(ctx, st, "tajne"))

	plain := NewService(Deps{
		Store:           st,
		BrokerListeners: []broker.ListenerConfig{{ID: "ws", Type: "websocket", Address: ":9001"}},
		Logger:          testLogger(),
	})
	login, err := plain.BrokerLogin(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:9001/", login.BrokerURL)

	def := NewService(Deps{Store: st, BrokerListeners: broker.DefaultListeners(), Logger: testLogger()})
	login, err = def.BrokerLogin(ctx, "gateway.local")
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.local:5101/", login.BrokerURL)

	none := NewService(Deps{Store: st, BrokerListeners: []broker.ListenerConfig{{ID: "tcp", Type: "tcp", Address: ":1883"}}, Logger: testLogger()})
	_, err = none.BrokerLogin(ctx, "gateway.local")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.do(t, http.MethodPost, "/api/add-route", map[string]any{"destinationType": "rest", "destination_url": "ftp://x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	route := map[string]any{
		"destinationType": "file-based",
		"dataFormat":      "csv",
		"filePath":        "/tmp/export.csv",
		"devices":         []string{"1 - Lis"},
	}
	rec = f.do(t, http.MethodPost, "/api/add-route", route)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodGet, "/api/get-routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Routes []model.Route `json:"routes"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Routes, 1)
	assert.Equal(t, model.DefaultRouteInterval, list.Routes[0].Interval)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/route/%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/route/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessLifecycle(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	dev, err := f.svc.SaveDevice(ctx, 0, opcuaDevice("Kamera"))
	require.NoError(t, err)

	body := map[string]any{"name": "Kontrola", "device_id": dev.ID, "image_node_id": "ns=2;s=Image"}
	rec := f.do(t, http.MethodPost, "/api/image-capture-processes", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Process model.ImageProcess `json:"process"`
	}
	decodeBody(t, rec, &created)
	assert.Equal(t, "Kamera", created.Process.DeviceName)
	assert.Equal(t, "opc.tcp://plc:4840", created.Process.Endpoint)
	assert.Equal(t, model.ProcessStopped, created.Process.Status)

	path := fmt.Sprintf("/api/image-capture-processes/%d", created.Process.ID)
	rec = f.do(t, http.MethodPost, path+"/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, path+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, path+"/execute", nil)
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)

	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.capture.Running(created.Process.ID))

	rec = f.do(t, http.MethodPost, path+"/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessRequiresOPCUADevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dev, err := f.svc.SaveDevice(ctx, 0, model.Device{Name: "mqtt", Type: model.DeviceMQTT, Password: "x"})
	require.NoError(t, err)
	_, err = f.svc.CreateProcess(ctx, model.ImageProcess{Name: "p", DeviceID: dev.ID, ImageNodeID: "ns=2;s=Img"})
	assert.ErrorIs(t, err, model.ErrInvalid)

	_, err = f.svc.CreateProcess(ctx, model.ImageProcess{Name: "p", DeviceID: 999, ImageNodeID: "ns=2;s=Img"})
	assert.ErrorIs(t, err, model.ErrInvalid)
}

func TestImagesArchive(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodGet, "/api/images/download", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	dev, err := f.svc.SaveDevice(ctx, 0, opcuaDevice("Kamera 1"))
	require.NoError(t, err)
	ts := time.Date(2024, 5, 1, 8, 30, 15, 0, time.UTC)
	img, err := f.svc.AddImage(ctx, ImageUpload{
		Image:     "data:image/png;base64,iVBORw0KGgo=",
		DeviceID:  dev.ID,
		Timestamp: ts,
	})
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/images/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, fmt.Sprintf("Kamera_1_2024-05-01_08-30-15_%d.png", img.ID), zr.File[0].Name)

	rec = f.do(t, http.MethodGet, "/api/images", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var images []model.Image
	decodeBody(t, rec, &images)
	require.Len(t, images, 1)
	assert.Equal(t, "iVBORw0KGgo=", images[0].Image)
}

func TestDecodeImage(t *testing.T) {
	_, err := DecodeImage("")
	assert.ErrorIs(t, err, model.ErrInvalid)
	_, err = DecodeImage("není base64!")
	assert.ErrorIs(t, err, model.ErrInvalid)

	data, err := DecodeImage("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestHistoryUnavailable(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	rec := f.do(t, http.MethodPost, "/api/get-measurements", map[string]any{"deviceId": 1})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProfileAndPassword(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.do(t, http.MethodPut, "/api/changePassword", model.PasswordChange{CurrentPassword: "spatne", NewPassword: "noveheslo1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/changePassword", model.PasswordChange{CurrentPassword: "admin1234", NewPassword: "noveheslo1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoError(t, f.svc.Login(context.Background(), "admin", "noveheslo1"))

	rec = f.do(t, http.MethodGet, "/api/profile", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWSToken(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.do(t, http.MethodGet, "/api/ws-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	require.NotEmpty(t, body["token"])

	_, ok, err := f.cache.TokenExpiry(context.Background(), body["token"])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", model.ErrInvalid), http.StatusBadRequest},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("zařízení 3: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{capture.ErrAlreadyRunning, http.StatusConflict},
		{capture.ErrTimeout, http.StatusRequestTimeout},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("db spadla"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestCorsPreflight(t *testing.T) {
	h := CorsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight nesmí projít dál")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/getDevices", nil)
	req.Header.Set("Origin", "http://konzole")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://konzole", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
