// Package mqttclient připojuje paho klienta k brokeru brány.
package mqttclient

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config jsou údaje pro připojení.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect vytvoří klienta s automatickým obnovením spojení a počká na připojení.
// onConnect se volá po každém (i obnoveném) připojení, typicky pro Subscribe.
func Connect(cfg Config, logger *slog.Logger, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("Ztraceno spojení s MQTT", "broker", cfg.Broker, "error", err)
		}
	})
	if onConnect != nil {
		opts.SetOnConnectHandler(func(c mqtt.Client) { onConnect(c) })
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("připojení k MQTT %s vypršelo", cfg.Broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("selhalo připojení k MQTT %s: %w", cfg.Broker, token.Error())
	}
	return client, nil
}

// Subscribe přihlásí odběr a počká na potvrzení.
func Subscribe(client mqtt.Client, filter string, qos byte, handler mqtt.MessageHandler) error {
	if token := client.Subscribe(filter, qos, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s selhal: %w", filter, token.Error())
	}
	return nil
}
