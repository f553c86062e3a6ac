package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestDeviceValidate(t *testing.T) {
	tests := []struct {
		name    string
		device  Device
		wantErr bool
	}{
		{
			name:   "opc-ua with endpoint",
			device: Device{Name: "Lis 1", Type: DeviceOPCUA, Address: "opc.tcp://10.0.0.5:4840", SecurityMode: "None"},
		},
		{
			name:   "s7 with rack and slot",
			device: Device{Name: "PLC", Type: DeviceS7, Address: "10.0.0.9", Rack: intPtr(0), Slot: intPtr(1), Datapoints: []Datapoint{{Name: "temp", Address: "DB1.DBD0", Datatype: "REAL"}}},
		},
		{
			name:   "mqtt without address",
			device: Device{Name: "sensor", Type: DeviceMQTT},
		},
		{
			name:    "missing name",
			device:  Device{Type: DeviceMQTT},
			wantErr: true,
		},
		{
			name:    "name with topic wildcard",
			device:  Device{Name: "a/b", Type: DeviceMQTT},
			wantErr: true,
		},
		{
			name:    "unknown type",
			device:  Device{Name: "x", Type: "modbus", Address: "1.2.3.4"},
			wantErr: true,
		},
		{
			name:    "s7 without rack",
			device:  Device{Name: "PLC", Type: DeviceS7, Address: "10.0.0.9"},
			wantErr: true,
		},
		{
			name:    "s7 datapoint without datatype",
			device:  Device{Name: "PLC", Type: DeviceS7, Address: "10.0.0.9", Rack: intPtr(0), Slot: intPtr(1), Datapoints: []Datapoint{{Name: "temp", Address: "DB1.DBD0"}}},
			wantErr: true,
		},
		{
			name:    "unknown security mode",
			device:  Device{Name: "srv", Type: DeviceOPCUA, Address: "opc.tcp://x", SecurityMode: "Encrypt"},
			wantErr: true,
		},
		{
			name:    "duplicate datapoint id",
			device:  Device{Name: "srv", Type: DeviceOPCUA, Address: "opc.tcp://x", Datapoints: []Datapoint{{ID: "001", Name: "a", Address: "ns=2;i=1"}, {ID: "001", Name: "b", Address: "ns=2;i=2"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.device.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalid))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssignDatapointIDs(t *testing.T) {
	d := Device{Datapoints: []Datapoint{
		{Name: "a"},
		{ID: "004", Name: "b"},
		{Name: "c", Value: "1.00"},
	}}
	d.AssignDatapointIDs()

	assert.Equal(t, "005", d.Datapoints[0].ID)
	assert.Equal(t, "004", d.Datapoints[1].ID)
	assert.Equal(t, "006", d.Datapoints[2].ID)
	assert.Empty(t, d.Datapoints[2].Value)
}

func TestSortDatapointsNumeric(t *testing.T) {
	dps := []Datapoint{{ID: "1000"}, {ID: "abc"}, {ID: "999"}, {ID: "002"}, {ID: "010"}}
	SortDatapoints(dps)

	var ids []string
	for _, dp := range dps {
		ids = append(ids, dp.ID)
	}
	assert.Equal(t, []string{"002", "010", "999", "1000", "abc"}, ids)
	assert.True(t, LessDatapointID("999", "1000"))
	assert.False(t, LessDatapointID("1000", "999"))
}

func TestParseDeviceRef(t *testing.T) {
	id, err := ParseDeviceRef("12 - Lis 1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	id, err = ParseDeviceRef(" 7 ")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = ParseDeviceRef("Lis 1")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPermissionRange(t *testing.T) {
	for p := Permission(0); p <= 3; p++ {
		assert.True(t, p.Valid(), "permission %d", p)
	}
	assert.False(t, Permission(4).Valid())
	assert.False(t, Permission(-1).Valid())

	assert.Equal(t, "R/W", PermReadWrite.String())
	assert.True(t, PermReadWrite.CanRead())
	assert.True(t, PermWrite.CanWrite())
	assert.False(t, PermRead.CanWrite())
}

func TestBrokerUserValidate(t *testing.T) {
	var u BrokerUser
	require.NoError(t, json.Unmarshal([]byte(`{"username":"dev","password":"pw","acls":[{"topic":"data/#","permission":"3"}]}`), &u))
	assert.NoError(t, u.Validate())
	assert.Equal(t, PermReadWrite, u.ACLs[0].Permission)

	u.ACLs = append(u.ACLs, AclEntry{Topic: "x", Permission: 4})
	assert.ErrorIs(t, u.Validate(), ErrInvalid)

	u.ACLs = []AclEntry{{Topic: "data/#/x", Permission: 1}}
	assert.ErrorIs(t, u.Validate(), ErrInvalid)
}

func TestValidTopicFilter(t *testing.T) {
	assert.True(t, ValidTopicFilter("#"))
	assert.True(t, ValidTopicFilter("data/+/1/#"))
	assert.False(t, ValidTopicFilter(""))
	assert.False(t, ValidTopicFilter("data/x#"))
	assert.False(t, ValidTopicFilter("data/a+/b"))
}

func TestRouteDecodeAliases(t *testing.T) {
	var r Route
	body := `{"destinationType":"rest","destinationurl":"http://example.com/in","interval":"15",
		"headers":["Authorization: Bearer x",{"name":"X-Line","value":"2"}],"devices":["1 - Lis"]}`
	require.NoError(t, json.Unmarshal([]byte(body), &r))

	assert.Equal(t, "http://example.com/in", r.DestinationURL)
	assert.Equal(t, 15, r.Interval)
	require.Len(t, r.Headers, 2)
	assert.Equal(t, Header{Name: "Authorization", Value: "Bearer x"}, r.Headers[0])
	assert.Equal(t, Header{Name: "X-Line", Value: "2"}, r.Headers[1])
	assert.NoError(t, r.Validate())
	assert.Equal(t, []int64{1}, r.DeviceIDs())
}

func TestRouteValidate(t *testing.T) {
	tests := []struct {
		name    string
		route   Route
		wantErr bool
	}{
		{name: "rest complete", route: Route{DestinationType: RouteREST, DestinationURL: "https://x.io/a", Interval: 10}},
		{name: "rest without url", route: Route{DestinationType: RouteREST, Interval: 10}, wantErr: true},
		{name: "rest without interval", route: Route{DestinationType: RouteREST, DestinationURL: "https://x.io/a"}, wantErr: true},
		{name: "rest with ftp url", route: Route{DestinationType: RouteREST, DestinationURL: "ftp://x.io/a", Interval: 10}, wantErr: true},
		{name: "file complete", route: Route{DestinationType: RouteFile, FilePath: "/data/out.jsonl"}},
		{name: "file without path", route: Route{DestinationType: RouteFile}, wantErr: true},
		{name: "parquet on rest", route: Route{DestinationType: RouteREST, DestinationURL: "https://x.io", Interval: 5, DataFormat: FormatParquet}, wantErr: true},
		{name: "mqtt internal", route: Route{DestinationType: RouteMQTT}},
		{name: "kafka without topic", route: Route{DestinationType: RouteKafka, DestinationURL: "kafka:9092"}, wantErr: true},
		{name: "unknown type", route: Route{DestinationType: "ftp"}, wantErr: true},
		{name: "bad device ref", route: Route{DestinationType: RouteMQTT, Devices: []string{"abc"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.route.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Greater(t, tt.route.Interval, 0)
		})
	}
}

func TestImageProcessNormalize(t *testing.T) {
	var p ImageProcess
	body := `{"name":" Kamera ","device_id":3,"image_node_id":"ns=2;s=Image","enable_cyclic":true,"cyclic_interval":0,
		"upload_headers":[{"name":"X-Key","value":"abc"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	p.Normalize()

	assert.Equal(t, "Kamera", p.Name)
	assert.Equal(t, CaptureInterval, p.CaptureMode)
	assert.Equal(t, DefaultCyclicInterval, p.CyclicInterval)
	assert.Equal(t, ProcessStopped, p.Status)
	assert.Equal(t, UploadNotAttempted, p.LastUploadStatus)
	assert.Equal(t, "abc", p.UploadHeaders["X-Key"])
	assert.NoError(t, p.Validate())
	assert.Equal(t, 30*time.Second, p.Interval())
}

func TestImageProcessValidate(t *testing.T) {
	base := func() ImageProcess {
		p := ImageProcess{Name: "cam", DeviceID: 1, ImageNodeID: "ns=2;s=Img"}
		p.Normalize()
		return p
	}

	p := base()
	p.Name = ""
	assert.ErrorIs(t, p.Validate(), ErrInvalid)

	p = base()
	p.DeviceID = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalid)

	p = base()
	p.EnableUpload = true
	assert.ErrorIs(t, p.Validate(), ErrInvalid)
	p.UploadURL = "http://mes.local/upload"
	assert.NoError(t, p.Validate())

	p = base()
	p.CaptureMode = CaptureTrigger
	p.Normalize()
	assert.False(t, p.EnableCyclic)
}

func TestSortImagesNewestFirstIsStable(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	images := []Image{
		{ID: 1, Timestamp: t0},
		{ID: 2, Timestamp: t0.Add(time.Minute)},
		{ID: 3, Timestamp: t0},
		{ID: 4, Timestamp: t0.Add(2 * time.Minute)},
	}
	SortImagesNewestFirst(images)

	ids := make([]int64, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	assert.Equal(t, []int64{4, 2, 1, 3}, ids)
}

func TestPasswordChangeValidate(t *testing.T) {
	assert.ErrorIs(t, PasswordChange{NewPassword: "longenough"}.Validate(), ErrInvalid)
	assert.ErrorIs(t, PasswordChange{CurrentPassword: "old", NewPassword: "short"}.Validate(), ErrInvalid)
	assert.NoError(t, PasswordChange{CurrentPassword: "old", NewPassword: "longenough"}.Validate())
}
