package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jola2802/iot-gateway-sub000/internal/logging"
	"github.com/jola2802/iot-gateway-sub000/internal/mqttclient"
)

func main() {
	cfg := LoadConfig()

	// Collector loguje jen na stdout, logy do MQTT by si sám sbíral.
	logger := logging.New("log-collector", cfg.LogLevel, os.Stdout)
	logger.Info("Startuji Log Collector", "dir", cfg.LogDir)

	collector, err := NewCollector(cfg.LogDir)
	if err != nil {
		logger.Error("Kritická chyba", "error", err)
		os.Exit(1)
	}

	// Tato funkce se spustí pro KAŽDOU přijatou logovací zprávu z jakékoliv služby.
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := collector.Append(msg.Topic(), msg.Payload()); err != nil {
			logger.Error("Chyba při zápisu do souboru", "topic", msg.Topic(), "error", err)
		}
	}

	client, err := mqttclient.Connect(mqttclient.Config{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, logger, func(c mqtt.Client) {
		if err := mqttclient.Subscribe(c, cfg.LogTopic, 0, handler); err != nil {
			logger.Error("Subscribe selhal", "error", err)
			return
		}
		logger.Info("Poslouchám logy", "topic", cfg.LogTopic)
	})
	if err != nil {
		logger.Error("Kritická chyba MQTT", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("Vypínám službu...")
}
