package main

import (
	"encoding/json"
	"fmt"

	"github.com/jola2802/iot-gateway-sub000/internal/logging"
	"github.com/jola2802/iot-gateway-sub000/internal/sysstats"
)

// Metric je jedna hodnota publikovaná na vlastní topic.
type Metric struct {
	Topic string
	Value float64
}

// Metrics rozloží snímek na jednotlivé topicy pod prefixem.
func Metrics(prefix string, s sysstats.Stats) []Metric {
	return []Metric{
		{Topic: prefix + "/cpu", Value: s.CPULoad},
		{Topic: prefix + "/ram_used", Value: s.RamUsedMB},
		{Topic: prefix + "/ram_total", Value: s.RamTotalMB},
		{Topic: prefix + "/app_ram", Value: s.AppRamUsedMB},
		{Topic: prefix + "/disk_used", Value: s.DiskUsedGB},
		{Topic: prefix + "/disk_total", Value: s.DiskTotalGB},
	}
}

// PublishStats pošle každou metriku zvlášť (text "12.50") a celý snímek jako JSON na <prefix>/stats.
func PublishStats(pub logging.Publisher, prefix string, s sysstats.Stats) error {
	for _, m := range Metrics(prefix, s) {
		if err := pub.Publish(m.Topic, []byte(fmt.Sprintf("%.2f", m.Value))); err != nil {
			return fmt.Errorf("nelze publikovat %s: %w", m.Topic, err)
		}
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := pub.Publish(prefix+"/stats", payload); err != nil {
		return fmt.Errorf("nelze publikovat %s/stats: %w", prefix, err)
	}
	return nil
}
