package model

import "time"

// Sample je jeden bod grafu historie. Klíče x/y očekává knihovna grafů v konzoli.
type Sample struct {
	Time  time.Time `json:"x"`
	Value any       `json:"y"`
}

// Reading je jedna naměřená hodnota datapointu tak, jak přišla z brokeru.
type Reading struct {
	DeviceID      int64     `json:"deviceId"`
	DeviceName    string    `json:"deviceName,omitempty"`
	DatapointID   string    `json:"datapointId"`
	DatapointName string    `json:"datapointName,omitempty"`
	Value         string    `json:"value"`
	Timestamp     time.Time `json:"timestamp"`
}

// WireReading je tvar, ve kterém REST routa odesílá data.
type WireReading struct {
	DatapointID string `json:"DatapointId"`
	Value       string `json:"Value"`
	Timestamp   string `json:"Timestamp"`
}

// Wire převede čtení na odchozí tvar REST routy.
func (r Reading) Wire() WireReading {
	return WireReading{
		DatapointID: r.DatapointID,
		Value:       r.Value,
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
