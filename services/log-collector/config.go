package main

import (
	"os"
)

// Config drží veškeré nastavení pro službu Log Collector.
// Všechny hodnoty jsou načítány z Environment proměnných.
type Config struct {
	// MQTTBroker: Adresa brokeru brány (např. tcp://console-api:1883)
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// LogTopic: Topic, na kterém posloucháme logy (logs/<služba>)
	LogTopic string

	// LogDir: Adresář, kam se ukládají soubory <služba>.log.
	LogDir string

	LogLevel string
}

// LoadConfig načte konfiguraci z OS. Pokud proměnná chybí, použije default.
func LoadConfig() Config {
	return Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://console-api:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "log-collector"),
		MQTTUsername: getEnv("MQTT_USERNAME", "admin"),
		MQTTPassword: getEnv("MQTT_PASSWORD", "admin"),

		LogTopic: getEnv("LOG_TOPIC", "logs/#"),
		LogDir:   getEnv("LOG_DIR", "/var/log/iot-gateway"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv je pomocná funkce pro bezpečné čtení ENV.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
