// Package history čte a zapisuje časové řady měření v InfluxDB v2.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// StartLayout je formát času z HTML pole datetime-local.
const StartLayout = "2006-01-02T15:04"

const (
	defaultDuration = 60 * time.Minute
	maxDuration     = 7 * 24 * time.Hour
	// MeasurementWindow je okno, ve kterém se hledají názvy měření zařízení.
	MeasurementWindow = 30 * 24 * time.Hour
)

// Querier vrací historická data pro grafy.
type Querier interface {
	Query(ctx context.Context, q Query) ([]model.Sample, error)
	Measurements(ctx context.Context, deviceID string) ([]string, error)
}

// Writer ukládá jednotlivá čtení.
type Writer interface {
	WriteReading(ctx context.Context, r model.Reading) error
}

// Request je tělo POST /api/query-data.
type Request struct {
	Start       string      `json:"start"`
	Duration    json.Number `json:"duration"`
	Measurement string      `json:"measurement"`
	DeviceID    json.Number `json:"deviceId"`
}

// Query je rozparsovaný dotaz na rozsah [From, To).
type Query struct {
	Measurement string
	DeviceID    string
	From        time.Time
	To          time.Time
}

// ParseRequest převede požadavek konzole na Query.
// Start je lokální čas v loc, prázdný start znamená "posledních duration minut".
func ParseRequest(req Request, loc *time.Location, now time.Time) (Query, error) {
	q := Query{
		Measurement: strings.TrimSpace(req.Measurement),
		DeviceID:    strings.TrimSpace(req.DeviceID.String()),
	}
	if q.Measurement == "" {
		return Query{}, fmt.Errorf("%w: chybí measurement", model.ErrInvalid)
	}

	dur := defaultDuration
	if s := req.Duration.String(); s != "" {
		minutes, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(minutes) || minutes <= 0 || math.IsInf(minutes, 0) {
			return Query{}, fmt.Errorf("%w: duration musí být kladný počet minut", model.ErrInvalid)
		}
		// Limit se kontroluje před převodem, velká čísla by přetekla time.Duration.
		if minutes > maxDuration.Minutes() {
			return Query{}, fmt.Errorf("%w: rozsah je omezen na %s", model.ErrInvalid, maxDuration)
		}
		dur = time.Duration(minutes * float64(time.Minute))
	}

	if strings.TrimSpace(req.Start) == "" {
		q.To = now
		q.From = now.Add(-dur)
		return q, nil
	}

	start, err := time.ParseInLocation(StartLayout, strings.TrimSpace(req.Start), loc)
	if err != nil {
		// Konzole občas pošle i sekundy nebo RFC3339.
		start, err = time.Parse(time.RFC3339, strings.TrimSpace(req.Start))
		if err != nil {
			return Query{}, fmt.Errorf("%w: start musí mít tvar %s", model.ErrInvalid, StartLayout)
		}
	}
	q.From = start
	q.To = start.Add(dur)
	return q, nil
}

// fluxString vrací řetězcový literál Flux s escapovanými uvozovkami a zpětnými lomítky.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

// BuildRangeQuery skládá Flux dotaz na hodnoty jednoho měření v časovém rozsahu.
func BuildRangeQuery(bucket string, q Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n",
		q.From.UTC().Format(time.RFC3339), q.To.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s)\n", fluxString(q.Measurement))
	if q.DeviceID != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.deviceId == %s)\n", fluxString(q.DeviceID))
	}
	b.WriteString("  |> filter(fn: (r) => r._field == \"value\")\n")
	b.WriteString("  |> sort(columns: [\"_time\"])")
	return b.String()
}

// BuildMeasurementsQuery vypisuje názvy měření zařízení za posledních 30 dní.
func BuildMeasurementsQuery(bucket, deviceID string) string {
	var b strings.Builder
	b.WriteString("import \"influxdata/influxdb/schema\"\n\n")
	fmt.Fprintf(&b, "schema.measurements(bucket: %s, start: -%dd", fluxString(bucket), int(MeasurementWindow.Hours()/24))
	if deviceID != "" {
		fmt.Fprintf(&b, ", predicate: (r) => r.deviceId == %s", fluxString(deviceID))
	}
	b.WriteString(")")
	return b.String()
}
