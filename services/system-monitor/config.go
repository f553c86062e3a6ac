package main

import (
	"os"
	"time"
)

type Config struct {
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// TopicPrefix: pod ním se publikují jednotlivé metriky (system/cpu, ...)
	TopicPrefix string

	// Interval měření (např. "60s", "1m")
	Interval time.Duration

	LogLevel string
}

func LoadConfig() Config {
	interval, err := time.ParseDuration(getEnv("MONITOR_INTERVAL", "60s"))
	if err != nil || interval <= 0 {
		interval = 60 * time.Second
	}

	return Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://console-api:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "system-monitor"),
		MQTTUsername: getEnv("MQTT_USERNAME", "admin"),
		MQTTPassword: getEnv("MQTT_PASSWORD", "admin"),
		TopicPrefix:  getEnv("TOPIC_PREFIX", "system"),
		Interval:     interval,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
