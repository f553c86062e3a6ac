package history

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// InfluxConfig jsou přístupové údaje k InfluxDB.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Influx implementuje Querier i Writer.
type Influx struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// NewInflux vytvoří klienta. Spojení se otevírá až při prvním dotazu.
func NewInflux(cfg InfluxConfig) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
}

// Close uzavře HTTP spojení klienta.
func (db *Influx) Close() {
	if db != nil && db.client != nil {
		db.client.Close()
	}
}

// Ping ověří, že server odpovídá.
func (db *Influx) Ping(ctx context.Context) error {
	ok, err := db.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("InfluxDB není dostupná: %w", err)
	}
	if !ok {
		return fmt.Errorf("InfluxDB není připravená")
	}
	return nil
}

// Query vrací body grafu seřazené podle času.
func (db *Influx) Query(ctx context.Context, q Query) ([]model.Sample, error) {
	result, err := db.queryAPI.Query(ctx, BuildRangeQuery(db.bucket, q))
	if err != nil {
		return nil, fmt.Errorf("chyba Flux dotazu: %w", err)
	}
	defer result.Close()

	samples := make([]model.Sample, 0, 100)
	for result.Next() {
		rec := result.Record()
		samples = append(samples, model.Sample{Time: rec.Time(), Value: rec.Value()})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("chyba čtení výsledku: %w", result.Err())
	}
	return samples, nil
}

// Measurements vrací seřazené názvy měření, která zařízení zapsalo za posledních 30 dní.
func (db *Influx) Measurements(ctx context.Context, deviceID string) ([]string, error) {
	result, err := db.queryAPI.Query(ctx, BuildMeasurementsQuery(db.bucket, deviceID))
	if err != nil {
		return nil, fmt.Errorf("chyba Flux dotazu: %w", err)
	}
	defer result.Close()

	names := []string{}
	for result.Next() {
		if name, ok := result.Record().Value().(string); ok {
			names = append(names, name)
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("chyba čtení výsledku: %w", result.Err())
	}
	sort.Strings(names)
	return names, nil
}

// WriteReading zapíše jedno čtení. Číselné hodnoty se ukládají jako float, ostatní jako text.
func (db *Influx) WriteReading(ctx context.Context, r model.Reading) error {
	return db.writeAPI.WritePoint(ctx, BuildPoint(r))
}

// BuildPoint převede čtení na bod Influxu. Measurement je název datapointu.
func BuildPoint(r model.Reading) *write.Point {
	measurement := r.DatapointName
	if measurement == "" {
		measurement = r.DatapointID
	}
	tags := map[string]string{
		"deviceId":    strconv.FormatInt(r.DeviceID, 10),
		"datapointId": r.DatapointID,
	}
	if r.DeviceName != "" {
		tags["deviceName"] = r.DeviceName
	}

	var value any = r.Value
	// NaN a Inf line protocol nepřijme, zůstanou textem.
	if f, err := strconv.ParseFloat(r.Value, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		value = f
	}
	return write.NewPoint(measurement, tags, map[string]any{"value": value}, r.Timestamp)
}
