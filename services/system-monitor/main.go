package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/logging"
	"github.com/jola2802/iot-gateway-sub000/internal/mqttclient"
	"github.com/jola2802/iot-gateway-sub000/internal/sysstats"
)

const serviceName = "system-monitor"

func main() {
	cfg := LoadConfig()

	// Bez MQTT nemá smysl běžet, proto se klient připojuje jako první.
	client, err := mqttclient.Connect(mqttclient.Config{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, nil, nil)
	if err != nil {
		logging.New(serviceName, cfg.LogLevel, os.Stdout).Error("Selhalo připojení k MQTT", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect(250)

	pub := logging.PahoPublisher{Client: client}
	mqttWriter := logging.NewMqttWriter(pub, serviceName)
	defer mqttWriter.Close()
	logger := logging.New(serviceName, cfg.LogLevel, os.Stdout, mqttWriter)
	logger.Info("Startuji System Monitor", "interval", cfg.Interval, "prefix", cfg.TopicPrefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	measure := func() {
		// Měření CPU trvá sekundu.
		stats := sysstats.Collect(ctx, time.Second, logger)
		if err := PublishStats(pub, cfg.TopicPrefix, stats); err != nil {
			logger.Error("Chyba při odesílání metrik", "error", err)
			return
		}
		logger.Debug("Metriky odeslány", "cpu", stats.CPULoad, "ram_used", stats.RamUsedMB)
	}

	// Nečekáme na první tik časovače.
	measure()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Přijat signál ukončení, vypínám...")
			return
		case <-ticker.C:
			measure()
		}
	}
}
