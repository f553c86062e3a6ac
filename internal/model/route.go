package model

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// Typy cílů pro přeposílání dat.
const (
	RouteREST  = "rest"
	RouteFile  = "file-based"
	RouteMQTT  = "mqtt"
	RouteKafka = "kafka"
)

// Formáty dat na výstupu routy.
const (
	FormatJSON    = "json"
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// DefaultRouteInterval platí pro routy, které interval nevyžadují.
const DefaultRouteInterval = 60

// Header je jedna HTTP hlavička odesílaná s REST routou.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UnmarshalJSON přijímá objekt {name, value} i starší zápis "Klíč: Hodnota".
func (h *Header) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		name, value, ok := strings.Cut(s, ":")
		if !ok {
			return invalidf("hlavička %q nemá tvar Klíč: Hodnota", s)
		}
		h.Name = strings.TrimSpace(name)
		h.Value = strings.TrimSpace(value)
		return nil
	}
	type plain Header
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*h = Header(p)
	return nil
}

// Route je nastavení jednoho odchozího toku dat.
type Route struct {
	ID              int64    `json:"id"`
	DestinationType string   `json:"destinationType"`
	DataFormat      string   `json:"dataFormat"`
	Interval        int      `json:"interval"`
	Headers         []Header `json:"headers"`
	DestinationURL  string   `json:"destination_url"`
	FilePath        string   `json:"filePath"`
	Topic           string   `json:"topic,omitempty"`
	Devices         []string `json:"devices"`
	LastUpdated     string   `json:"lastUpdated"`
}

// UnmarshalJSON sjednocuje varianty názvu cílové URL, které posílá konzole.
func (r *Route) UnmarshalJSON(b []byte) error {
	type plain Route
	aux := struct {
		*plain
		DestinationURLLower string          `json:"destinationurl"`
		DestinationURLCamel string          `json:"destinationUrl"`
		Interval            json.RawMessage `json:"interval"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if r.DestinationURL == "" {
		r.DestinationURL = aux.DestinationURLLower
	}
	if r.DestinationURL == "" {
		r.DestinationURL = aux.DestinationURLCamel
	}
	if len(aux.Interval) > 0 && string(aux.Interval) != "null" {
		n, err := parseLooseInt(aux.Interval)
		if err != nil {
			return invalidf("interval musí být číslo")
		}
		r.Interval = n
	}
	return nil
}

func parseLooseInt(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Validate kontroluje povinná pole podle typu cíle a doplní výchozí hodnoty.
func (r *Route) Validate() error {
	r.DestinationType = strings.ToLower(strings.TrimSpace(r.DestinationType))
	r.DestinationURL = strings.TrimSpace(r.DestinationURL)
	r.FilePath = strings.TrimSpace(r.FilePath)
	if r.DataFormat == "" {
		r.DataFormat = FormatJSON
	}
	r.DataFormat = strings.ToLower(r.DataFormat)
	if r.Interval < 0 {
		return invalidf("interval nesmí být záporný")
	}

	switch r.DataFormat {
	case FormatJSON, FormatCSV:
	case FormatParquet:
		if r.DestinationType != RouteFile {
			return invalidf("formát parquet je jen pro file-based routy")
		}
	default:
		return invalidf("nepodporovaný formát %q", r.DataFormat)
	}

	switch r.DestinationType {
	case RouteREST:
		if r.DestinationURL == "" {
			return invalidf("REST routa potřebuje destination_url")
		}
		u, err := url.Parse(r.DestinationURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalidf("destination_url %q není http(s) adresa", r.DestinationURL)
		}
		if r.Interval == 0 {
			return invalidf("REST routa potřebuje interval")
		}
	case RouteFile:
		if r.FilePath == "" {
			return invalidf("file-based routa potřebuje filePath")
		}
	case RouteMQTT:
		if r.Topic != "" && strings.ContainsAny(r.Topic, "#+") {
			return invalidf("topic routy nesmí obsahovat zástupné znaky")
		}
	case RouteKafka:
		if r.DestinationURL == "" {
			return invalidf("Kafka routa potřebuje seznam brokerů v destination_url")
		}
		if strings.TrimSpace(r.Topic) == "" {
			return invalidf("Kafka routa potřebuje topic")
		}
	default:
		return invalidf("nepodporovaný typ cíle %q", r.DestinationType)
	}

	if r.Interval == 0 {
		r.Interval = DefaultRouteInterval
	}
	for _, ref := range r.Devices {
		if _, err := ParseDeviceRef(ref); err != nil {
			return err
		}
	}
	return nil
}

// DeviceIDs vrací ID zařízení, jejichž data routa přeposílá.
func (r Route) DeviceIDs() []int64 {
	ids := make([]int64, 0, len(r.Devices))
	for _, ref := range r.Devices {
		if id, err := ParseDeviceRef(ref); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// IntervalDuration převádí interval v sekundách na time.Duration.
func (r Route) IntervalDuration() time.Duration {
	if r.Interval <= 0 {
		return DefaultRouteInterval * time.Second
	}
	return time.Duration(r.Interval) * time.Second
}
