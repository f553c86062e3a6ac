package forwarding

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// CSVHeader je hlavička CSV výstupu.
var CSVHeader = []string{"device_id", "device_name", "datapoint_id", "datapoint_name", "value", "timestamp"}

func csvRecord(r model.Reading) []string {
	return []string{
		strconv.FormatInt(r.DeviceID, 10),
		r.DeviceName,
		r.DatapointID,
		r.DatapointName,
		r.Value,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// EncodeCSV zapíše čtení jako CSV, volitelně s hlavičkou.
func EncodeCSV(readings []model.Reading, header bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if header {
		if err := w.Write(CSVHeader); err != nil {
			return nil, err
		}
	}
	for _, r := range readings {
		if err := w.Write(csvRecord(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// EncodeJSONLines zapíše každé čtení jako jeden JSON řádek.
func EncodeJSONLines(readings []model.Reading) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range readings {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodeWire vrací JSON pole ve tvaru REST routy [{DatapointId, Value, Timestamp}].
func EncodeWire(readings []model.Reading) ([]byte, error) {
	wire := make([]model.WireReading, 0, len(readings))
	for _, r := range readings {
		wire = append(wire, r.Wire())
	}
	return json.Marshal(wire)
}

// encodeBatch kóduje dávku pro MQTT podle formátu routy.
func encodeBatch(format string, readings []model.Reading) ([]byte, error) {
	if format == model.FormatCSV {
		return EncodeCSV(readings, true)
	}
	return json.Marshal(readings)
}
