// Package telemetry sleduje živá data zařízení z brokeru a posílá je konzoli přes WebSocket.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Topicy, které publikují drivery.
const (
	DataFilter  = "data/#"
	StateFilter = "driver/states/#"
)

// DataTopic je rozparsovaný topic data/<typ>/<deviceId>/<datapointId>.
type DataTopic struct {
	DeviceType  string
	DeviceID    int64
	DatapointID string
}

// ParseDataTopic rozparsuje topic s hodnotou datapointu.
func ParseDataTopic(topic string) (DataTopic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "data" {
		return DataTopic{}, fmt.Errorf("neočekávaný datový topic %q", topic)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return DataTopic{}, fmt.Errorf("topic %q nemá číselné ID zařízení", topic)
	}
	if parts[1] == "" || parts[3] == "" {
		return DataTopic{}, fmt.Errorf("neúplný datový topic %q", topic)
	}
	return DataTopic{DeviceType: parts[1], DeviceID: id, DatapointID: parts[3]}, nil
}

// ParseStateTopic rozparsuje topic driver/states/<typ>/<deviceId>.
func ParseStateTopic(topic string) (deviceType string, deviceID int64, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "driver" || parts[1] != "states" {
		return "", 0, fmt.Errorf("neočekávaný stavový topic %q", topic)
	}
	id, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("topic %q nemá číselné ID zařízení", topic)
	}
	return parts[2], id, nil
}

// FormatValue formátuje číselné hodnoty na dvě desetinná místa, text nechává.
func FormatValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
	return raw
}
