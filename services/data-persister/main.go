package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jola2802/iot-gateway-sub000/internal/cache"
	"github.com/jola2802/iot-gateway-sub000/internal/history"
	"github.com/jola2802/iot-gateway-sub000/internal/logging"
	"github.com/jola2802/iot-gateway-sub000/internal/metrics"
	"github.com/jola2802/iot-gateway-sub000/internal/mqttclient"
)

const serviceName = "data-persister"

func main() {
	cfg := LoadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. MQTT klient dřív než logger, aby šel logovat i start do MQTT.
	// Odběr se obnovuje po každém připojení, zprávy se ale zpracují až po přidání routy níže.
	client, err := mqttclient.Connect(mqttclient.Config{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, nil, func(c mqtt.Client) {
		c.Subscribe(cfg.InputTopic, 0, nil)
	})
	if err != nil {
		logging.New(serviceName, cfg.LogLevel, os.Stdout).Error("Kritická chyba MQTT", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect(250)

	mqttWriter := logging.NewMqttWriter(logging.PahoPublisher{Client: client}, serviceName)
	defer mqttWriter.Close()
	logger := logging.New(serviceName, cfg.LogLevel, os.Stdout, mqttWriter)
	logger.Info("Startuji Data Persister", "broker", cfg.MQTTBroker, "topic", cfg.InputTopic)

	// 2. Registr zařízení
	dbPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("Kritická chyba: Nelze se připojit k DB", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	meta := NewMetadataService(NewPostgresSource(dbPool), logger)
	// První načtení je blokující, bez metadat by se všechny zprávy zahodily.
	if err := meta.LoadDevices(ctx); err != nil {
		logger.Error("Kritická chyba: Nepodařilo se načíst metadata zařízení", "error", err)
		os.Exit(1)
	}
	go meta.StartAutoRefresh(ctx, cfg.RefreshInterval)

	// 3. Úložiště
	influx := history.NewInflux(history.InfluxConfig{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	})
	defer influx.Close()

	rdb, err := cache.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("Kritická chyba: Nelze se připojit k Redisu", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	repo := NewRepository(influx, rdb)
	m := metrics.New()

	// 4. Zpracování zpráv
	client.AddRoute(cfg.InputTopic, func(_ mqtt.Client, msg mqtt.Message) {
		reading, err := ProcessMessage(msg.Topic(), msg.Payload(), meta, time.Now())
		if err != nil {
			// Jedna špatná zpráva službu nezastaví.
			logger.Debug("Zpráva odmítnuta", "topic", msg.Topic(), "důvod", err)
			m.ReadingProcessed(err)
			return
		}

		saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = repo.SaveReading(saveCtx, reading)
		m.ReadingProcessed(err)
		if err != nil {
			logger.Error("Chyba při ukládání dat", "device_id", reading.DeviceID, "datapoint", reading.DatapointID, "error", err)
			return
		}
		logger.Debug("Data uložena", "device_id", reading.DeviceID, "datapoint", reading.DatapointID, "val", reading.Value)
	})
	logger.Info("Poslouchám na topicu", "topic", cfg.InputTopic)

	// 5. Health a metriky
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", m.Handler())
	server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server spadl", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Vypínám službu...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
