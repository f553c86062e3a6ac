package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/broker"
	"github.com/jola2802/iot-gateway-sub000/internal/sysstats"
)

// Dashboard je zpráva /api/dashboardData.
type Dashboard struct {
	Uptime            int64   `json:"uptime"`
	NumberMessages    int64   `json:"numberMessages"`
	NumberDevices     int     `json:"numberDevices"`
	NumberClients     int64   `json:"numberClients"`
	CaptureConnection bool    `json:"captureConnection"`
	CPULoad           float64 `json:"cpuLoad"`
	RAMUsedMB         float64 `json:"ramUsedMB"`
}

// DashboardSource vrací aktuální čítače.
type DashboardSource interface {
	Dashboard(ctx context.Context) Dashboard
}

// BrokerStats vrací čítače brokeru.
type BrokerStats interface {
	Stats() broker.Stats
}

// SystemStats vrací poslední změřené vytížení hostitele.
type SystemStats interface {
	Latest() sysstats.Stats
}

// captureProbeInterval určuje, jak často se ověřuje dostupnost úložiště snímků.
const captureProbeInterval = 20 * time.Second

// Collector skládá Dashboard z brokeru, hubu a systémových statistik.
type Collector struct {
	broker BrokerStats
	hub    *Hub
	system SystemStats
	probe  func(ctx context.Context) bool
	now    func() time.Time

	mu       sync.Mutex
	probedAt time.Time
	probeOK  bool
}

// NewCollector vytvoří collector. probe ověřuje spojení na úložiště snímků a může být nil.
func NewCollector(b BrokerStats, hub *Hub, system SystemStats, probe func(ctx context.Context) bool) *Collector {
	return &Collector{broker: b, hub: hub, system: system, probe: probe, now: time.Now}
}

func (c *Collector) Dashboard(ctx context.Context) Dashboard {
	bs := c.broker.Stats()
	ss := c.system.Latest()
	return Dashboard{
		Uptime:            bs.Uptime,
		NumberMessages:    bs.MessagesReceived,
		NumberDevices:     c.hub.DeviceCount(),
		NumberClients:     bs.ClientsConnected,
		CaptureConnection: c.captureConnection(ctx),
		CPULoad:           ss.CPULoad,
		RAMUsedMB:         ss.RamUsedMB,
	}
}

func (c *Collector) captureConnection(ctx context.Context) bool {
	if c.probe == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if now := c.now(); c.probedAt.IsZero() || now.Sub(c.probedAt) >= captureProbeInterval {
		c.probeOK = c.probe(ctx)
		c.probedAt = now
	}
	return c.probeOK
}
