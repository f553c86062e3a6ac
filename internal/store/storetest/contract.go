// Package storetest obsahuje sdílené testy chování, které musí splnit každá implementace store.Store.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

// Run spustí všechny testy nad čerstvým úložištěm vytvořeným funkcí newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("devices", func(t *testing.T) { testDevices(t, newStore(t)) })
	t.Run("broker users", func(t *testing.T) { testBrokerUsers(t, newStore(t)) })
	t.Run("routes", func(t *testing.T) { testRoutes(t, newStore(t)) })
	t.Run("processes", func(t *testing.T) { testProcesses(t, newStore(t)) })
	t.Run("images", func(t *testing.T) { testImages(t, newStore(t)) })
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
}

func intPtr(v int) *int { return &v }

func testDevices(t *testing.T, s store.Store) {
	ctx := context.Background()

	in := model.Device{
		Name:            "PLC Linka 2",
		Type:            model.DeviceS7,
		Address:         "192.168.0.10",
		AcquisitionTime: 1000,
		Rack:            intPtr(0),
		Slot:            intPtr(2),
		Datapoints: []model.Datapoint{
			{ID: "001", Name: "teplota", Datatype: "REAL", Address: "DB1.DBD0"},
			{ID: "002", Name: "tlak", Datatype: "INT", Address: "DB1.DBW4"},
		},
	}
	created, err := s.CreateDevice(ctx, in)
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	assert.Equal(t, model.StatusInitializing, created.Status)

	got, err := s.GetDevice(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = s.CreateDevice(ctx, model.Device{Name: "PLC Linka 2", Type: model.DeviceMQTT})
	assert.ErrorIs(t, err, store.ErrConflict)

	got.Datapoints = got.Datapoints[:1]
	got.Address = "192.168.0.11"
	updated, err := s.UpdateDevice(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInitializing, updated.Status)

	again, err := s.GetDevice(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.11", again.Address)
	assert.Len(t, again.Datapoints, 1)

	require.NoError(t, s.SetDeviceStatus(ctx, created.ID, model.StatusRunning))
	list, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.StatusRunning, list[0].Status)

	require.NoError(t, s.DeleteDevice(ctx, created.ID))
	_, err = s.GetDevice(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDevice(ctx, created.ID), store.ErrNotFound)
	_, err = s.UpdateDevice(ctx, got)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testBrokerUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	u := model.BrokerUser{
		Username: "linka2",
		Password: "tajne",
		ACLs: []model.AclEntry{
			{Topic: "#", Permission: model.PermNone},
			{Topic: "data/s7/1/#", Permission: model.PermReadWrite},
		},
	}
	require.NoError(t, s.SaveBrokerUser(ctx, u))

	got, err := s.GetBrokerUser(ctx, "linka2")
	require.NoError(t, err)
	assert.Equal(t, u.Password, got.Password)
	assert.ElementsMatch(t, u.ACLs, got.ACLs)

	// Uložení znovu nahradí ACL, nepřidává k nim.
	u.ACLs = []model.AclEntry{{Topic: "public/#", Permission: model.PermRead}}
	require.NoError(t, s.SaveBrokerUser(ctx, u))
	got, err = s.GetBrokerUser(ctx, "linka2")
	require.NoError(t, err)
	assert.Equal(t, u.ACLs, got.ACLs)

	require.NoError(t, s.SaveBrokerUser(ctx, model.BrokerUser{Username: "druhy", Password: "x"}))
	users, err := s.ListBrokerUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, s.DeleteBrokerUser(ctx, "linka2"))
	users, err = s.ListBrokerUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "druhy", users[0].Username)

	_, err = s.GetBrokerUser(ctx, "linka2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBrokerUser(ctx, "linka2"), store.ErrNotFound)
}

func testRoutes(t *testing.T, s store.Store) {
	ctx := context.Background()

	r := model.Route{
		DestinationType: model.RouteREST,
		DataFormat:      model.FormatJSON,
		Interval:        30,
		Headers:         []model.Header{{Name: "Authorization", Value: "Bearer abc"}},
		DestinationURL:  "https://mes.example.com/ingest",
		Devices:         []string{"1 - PLC"},
	}
	created, err := s.CreateRoute(ctx, r)
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := s.GetRoute(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	require.NoError(t, s.SetRouteLastUpdated(ctx, created.ID, "2024-01-01T00:00:00Z\namount of datapoints sent: 3"))
	got.Interval = 60
	updated, err := s.UpdateRoute(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, 60, updated.Interval)
	assert.Contains(t, updated.LastUpdated, "amount of datapoints sent: 3")

	list, err := s.ListRoutes(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteRoute(ctx, created.ID))
	assert.ErrorIs(t, s.DeleteRoute(ctx, created.ID), store.ErrNotFound)
	_, err = s.GetRoute(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testProcesses(t *testing.T, s store.Store) {
	ctx := context.Background()

	p := model.ImageProcess{
		Name:          "Kamera vstup",
		DeviceID:      4,
		DeviceName:    "OPC server",
		Endpoint:      "opc.tcp://10.0.0.5:4840",
		ObjectID:      "ns=2;s=Camera",
		MethodID:      "ns=2;s=Camera.Trigger",
		MethodArgs:    map[string]any{"exposure": float64(20)},
		ImageNodeID:   "ns=2;s=Camera.Image",
		UploadHeaders: map[string]string{"X-Key": "k"},
	}
	p.Normalize()
	created, err := s.CreateProcess(ctx, p)
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.GetProcess(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.MethodArgs, got.MethodArgs)
	assert.Equal(t, p.UploadHeaders, got.UploadHeaders)
	assert.Equal(t, model.ProcessStopped, got.Status)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordExecution(ctx, created.ID, model.Execution{At: at, ObjectKey: "images/1.png", UploadStatus: model.UploadSuccess}))
	require.NoError(t, s.RecordExecution(ctx, created.ID, model.Execution{At: at.Add(time.Minute), UploadStatus: model.UploadFailed, UploadError: "503"}))
	require.NoError(t, s.SetProcessStatus(ctx, created.ID, model.ProcessRunning))

	got, err = s.GetProcess(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UploadSuccessCount)
	assert.Equal(t, int64(1), got.UploadFailureCount)
	assert.Equal(t, "images/1.png", got.LastImage)
	assert.Equal(t, model.UploadFailed, got.LastUploadStatus)
	assert.Equal(t, model.ProcessRunning, got.Status)
	require.NotNil(t, got.LastExecution)
	assert.True(t, got.LastExecution.Equal(at.Add(time.Minute)))

	// Úprava nastavení nesmaže čítače.
	got.Name = "Kamera výstup"
	updated, err := s.UpdateProcess(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "Kamera výstup", updated.Name)
	assert.Equal(t, int64(1), updated.UploadSuccessCount)

	require.NoError(t, s.DeleteProcess(ctx, created.ID))
	_, err = s.GetProcess(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testImages(t *testing.T, s store.Store) {
	ctx := context.Background()

	t0 := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i, ts := range []time.Time{t0, t0.Add(2 * time.Hour), t0.Add(time.Hour)} {
		_, err := s.AddImage(ctx, model.Image{
			Device:    "1",
			ProcessID: 1,
			Timestamp: ts,
			ObjectKey: "img/" + string(rune('a'+i)),
		})
		require.NoError(t, err)
	}

	list, err := s.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].Timestamp.After(list[i-1].Timestamp), "images must be newest first")
	}

	removed, err := s.DeleteImagesBefore(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "img/a", removed[0].ObjectKey)

	list, err = s.ListImages(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, "admin", []byte("hash-1")))
	// Druhé volání existujícího uživatele nepřepíše.
	require.NoError(t, s.EnsureUser(ctx, "admin", []byte("hash-2")))

	hash, err := s.PasswordHash(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []byte("hash-1"), hash)

	require.NoError(t, s.UpdateProfile(ctx, "admin", model.ProfileUpdate{Name: "Jana", Email: "jana@example.com", Company: "ACME"}))
	require.NoError(t, s.UpdateContact(ctx, "admin", model.ContactUpdate{Address: "Hlavní 1", City: "Brno", Country: "CZ"}))

	p, err := s.GetProfile(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.Profile{
		Username: "admin", Name: "Jana", Email: "jana@example.com", Company: "ACME",
		Address: "Hlavní 1", City: "Brno", Country: "CZ",
	}, p)

	require.NoError(t, s.SetPasswordHash(ctx, "admin", []byte("hash-3")))
	hash, err = s.PasswordHash(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []byte("hash-3"), hash)

	_, err = s.GetProfile(ctx, "nikdo")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
