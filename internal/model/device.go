package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalid označuje data, která neprošla validací. API ho mapuje na 400.
var ErrInvalid = errors.New("neplatná data")

// invalidf je zkratka pro chybu obalující ErrInvalid.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Podporované typy zařízení.
const (
	DeviceOPCUA = "opc-ua"
	DeviceS7    = "s7"
	DeviceMQTT  = "mqtt"
)

// Stavy zařízení tak, jak je publikují drivery na driver/states/<typ>/<id>.
const (
	StatusStopped      = "0 (stopped)"
	StatusRunning      = "1 (running)"
	StatusInitializing = "2 (initializing)"
	StatusError        = "3 (error)"
	StatusNoDatapoints = "4 (no datapoints)"
	StatusNoConnection = "5 (no connection)"
)

var knownStatuses = map[string]bool{
	StatusStopped:      true,
	StatusRunning:      true,
	StatusInitializing: true,
	StatusError:        true,
	StatusNoDatapoints: true,
	StatusNoConnection: true,
}

// ValidStatus vrací true pro stav, který driver smí nahlásit.
func ValidStatus(s string) bool {
	return knownStatuses[s]
}

var securityModes = map[string]bool{
	"":               true,
	"None":           true,
	"Sign":           true,
	"SignAndEncrypt": true,
}

// Device je připojení k jednomu zařízení (PLC, OPC-UA server, MQTT klient).
type Device struct {
	ID              int64       `json:"id"`
	Name            string      `json:"deviceName"`
	Type            string      `json:"deviceType"`
	Address         string      `json:"address"`
	AcquisitionTime int         `json:"acquisitionTime"`
	Status          string      `json:"status"`
	SecurityPolicy  string      `json:"securityPolicy,omitempty"`
	SecurityMode    string      `json:"securityMode,omitempty"`
	Username        string      `json:"username,omitempty"`
	Password        string      `json:"password,omitempty"`
	Rack            *int        `json:"rack,omitempty"`
	Slot            *int        `json:"slot,omitempty"`
	Datapoints      []Datapoint `json:"datapoint"`
}

// Datapoint je jedna čtená hodnota zařízení (S7 adresa nebo OPC-UA node).
type Datapoint struct {
	ID       string `json:"datapointId"`
	Name     string `json:"name"`
	Datatype string `json:"datatype,omitempty"`
	Address  string `json:"address"`
	Value    string `json:"value,omitempty"`
}

// DeviceSummary je řádek seznamu zařízení (bez datapointů a přihlašovacích údajů).
type DeviceSummary struct {
	ID              int64  `json:"id"`
	Name            string `json:"deviceName"`
	Type            string `json:"deviceType"`
	Address         string `json:"address"`
	AcquisitionTime int    `json:"acquisitionTime"`
	Status          string `json:"status"`
}

// Summary zkrátí zařízení na řádek seznamu.
func (d Device) Summary() DeviceSummary {
	return DeviceSummary{
		ID:              d.ID,
		Name:            d.Name,
		Type:            d.Type,
		Address:         d.Address,
		AcquisitionTime: d.AcquisitionTime,
		Status:          d.Status,
	}
}

// Ref vrací textový odkaz "<id> - <název>", který používají routy.
func (d Device) Ref() string {
	return fmt.Sprintf("%d - %s", d.ID, d.Name)
}

// Validate kontroluje povinná pole podle typu zařízení.
func (d *Device) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	d.Address = strings.TrimSpace(d.Address)

	if d.Name == "" {
		return invalidf("chybí název zařízení")
	}
	if strings.ContainsAny(d.Name, "/#+") {
		return invalidf("název zařízení nesmí obsahovat / # +")
	}
	if d.AcquisitionTime < 0 {
		return invalidf("acquisitionTime nesmí být záporný")
	}

	switch d.Type {
	case DeviceOPCUA:
		if d.Address == "" {
			return invalidf("OPC-UA zařízení potřebuje adresu endpointu")
		}
		if !securityModes[d.SecurityMode] {
			return invalidf("neznámý securityMode %q", d.SecurityMode)
		}
	case DeviceS7:
		if d.Address == "" {
			return invalidf("S7 zařízení potřebuje IP adresu")
		}
		if d.Rack == nil || d.Slot == nil {
			return invalidf("S7 zařízení potřebuje rack a slot")
		}
		if *d.Rack < 0 || *d.Slot < 0 {
			return invalidf("rack a slot nesmí být záporné")
		}
	case DeviceMQTT:
		// MQTT zařízení se připojuje samo, adresa je volitelná.
	default:
		return invalidf("nepodporovaný typ zařízení %q", d.Type)
	}

	if d.Status != "" && !ValidStatus(d.Status) {
		return invalidf("neznámý stav %q", d.Status)
	}

	seen := make(map[string]bool, len(d.Datapoints))
	for i, dp := range d.Datapoints {
		if strings.TrimSpace(dp.Name) == "" {
			return invalidf("datapoint %d nemá název", i+1)
		}
		if d.Type != DeviceMQTT && strings.TrimSpace(dp.Address) == "" {
			return invalidf("datapoint %q nemá adresu", dp.Name)
		}
		if d.Type == DeviceS7 && dp.Datatype == "" {
			return invalidf("datapoint %q nemá datový typ", dp.Name)
		}
		if dp.ID != "" {
			if seen[dp.ID] {
				return invalidf("duplicitní datapointId %q", dp.ID)
			}
			seen[dp.ID] = true
		}
	}
	return nil
}

// AssignDatapointIDs doplní chybějící ID datapointů.
// Nová ID pokračují za nejvyšším číselným ID zařízení ("001", "002", ...).
func (d *Device) AssignDatapointIDs() {
	next := 1
	for _, dp := range d.Datapoints {
		if n, err := strconv.Atoi(dp.ID); err == nil && n >= next {
			next = n + 1
		}
	}
	for i := range d.Datapoints {
		if d.Datapoints[i].ID == "" {
			d.Datapoints[i].ID = fmt.Sprintf("%03d", next)
			next++
		}
		// Hodnota je jen pro čtení, do DB se neukládá.
		d.Datapoints[i].Value = ""
	}
}

// SortDatapoints seřadí datapointy podle ID.
func SortDatapoints(dps []Datapoint) {
	sort.SliceStable(dps, func(i, j int) bool { return LessDatapointID(dps[i].ID, dps[j].ID) })
}

// LessDatapointID řadí číselná id podle hodnoty ("999" < "1000"), ostatní jako text.
func LessDatapointID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil && na != nb {
		return na < nb
	}
	return a < b
}

// ParseDeviceRef vytáhne ID zařízení z odkazu "<id> - <název>" nebo z čistého čísla.
func ParseDeviceRef(ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if idx := strings.Index(ref, " - "); idx >= 0 {
		ref = ref[:idx]
	}
	id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidf("neplatný odkaz na zařízení %q", ref)
	}
	return id, nil
}

// DeviceDataTopic je filtr, pod kterým MQTT zařízení publikuje svá data.
func DeviceDataTopic(d Device) string {
	return fmt.Sprintf("data/%s/%d/#", d.Type, d.ID)
}
