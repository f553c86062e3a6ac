package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/telemetry"
)

// ProcessMessage převede zprávu z data/<typ>/<deviceId>/<datapointId> na čtení.
// Zprávy neznámých zařízení a datapointů se odmítají, do historie by se nedaly přiřadit.
func ProcessMessage(topic string, payload []byte, meta *MetadataService, now time.Time) (model.Reading, error) {
	t, err := telemetry.ParseDataTopic(topic)
	if err != nil {
		return model.Reading{}, err
	}

	device, ok := meta.GetMetadata(t.DeviceID)
	if !ok {
		return model.Reading{}, fmt.Errorf("neznámé zařízení %d (není v registru)", t.DeviceID)
	}
	dpName, ok := device.Datapoints[t.DatapointID]
	if !ok {
		return model.Reading{}, fmt.Errorf("zařízení %d nemá datapoint %q", t.DeviceID, t.DatapointID)
	}

	value := strings.TrimSpace(string(payload))
	if value == "" {
		return model.Reading{}, fmt.Errorf("prázdná hodnota na %s", topic)
	}

	return model.Reading{
		DeviceID:      t.DeviceID,
		DeviceName:    device.Name,
		DatapointID:   t.DatapointID,
		DatapointName: dpName,
		Value:         value,
		Timestamp:     now.UTC(),
	}, nil
}
