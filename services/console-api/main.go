package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jola2802/iot-gateway-sub000/internal/auth"
	"github.com/jola2802/iot-gateway-sub000/internal/broker"
	"github.com/jola2802/iot-gateway-sub000/internal/cache"
	"github.com/jola2802/iot-gateway-sub000/internal/capture"
	"github.com/jola2802/iot-gateway-sub000/internal/console"
	"github.com/jola2802/iot-gateway-sub000/internal/forwarding"
	"github.com/jola2802/iot-gateway-sub000/internal/history"
	"github.com/jola2802/iot-gateway-sub000/internal/imagestore"
	"github.com/jola2802/iot-gateway-sub000/internal/logging"
	"github.com/jola2802/iot-gateway-sub000/internal/metrics"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
	"github.com/jola2802/iot-gateway-sub000/internal/store/memory"
	"github.com/jola2802/iot-gateway-sub000/internal/store/postgres"
	"github.com/jola2802/iot-gateway-sub000/internal/sysstats"
	"github.com/jola2802/iot-gateway-sub000/internal/telemetry"
)

const serviceName = "console-api"

func main() {
	cfg := LoadConfig()
	// Broker běží v tomto procesu, takže do MQTT se logovat dá až po jeho vytvoření.
	logger := logging.New(serviceName, cfg.LogLevel, os.Stdout)
	logger.Info("Startuji Console API", "port", cfg.HTTPPort, "store", cfg.Store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Kritická chyba", "error", err)
		os.Exit(1)
	}
	logger.Info("Console API ukončeno")
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	// 1. Registr
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := auth.EnsureUser(ctx, st, cfg.AdminUser, cfg.AdminPassword); err != nil {
		return err
	}
	if err := broker.EnsureAdmin(ctx, st, cfg.BrokerAdminPassword); err != nil {
		return err
	}

	// 2. Vestavěný broker
	listeners, err := broker.LoadListeners(cfg.BrokerListenersFile)
	if err != nil {
		return err
	}
	b, err := broker.New(ctx, broker.Config{
		Listeners: listeners,
		CertFile:  cfg.BrokerCertFile,
		KeyFile:   cfg.BrokerKeyFile,
	}, st, logger)
	if err != nil {
		return err
	}

	if cfg.MQTTLogs {
		mqttWriter := logging.NewMqttWriter(b, serviceName)
		defer mqttWriter.Close()
		logger = logging.New(serviceName, cfg.LogLevel, os.Stdout, mqttWriter)
	}

	// 3. Cache
	var c cache.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		c = rdb
		logger.Info("Cache připojena", "redis", cfg.RedisAddr)
	}

	// 4. Snímky
	var blobs imagestore.Blobs = imagestore.NewMemory()
	var probe func(ctx context.Context) bool
	if cfg.MinIOEndpoint != "" {
		mc, err := imagestore.NewMinIO(ctx, imagestore.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseTLS:    cfg.MinIOUseTLS,
			Bucket:    cfg.MinIOBucket,
		})
		if err != nil {
			return err
		}
		blobs = mc
		probe = func(ctx context.Context) bool { return mc.EnsureBucket(ctx) == nil }
	} else {
		logger.Warn("MINIO_ENDPOINT není nastaven, snímky se drží jen v paměti")
	}

	// 5. Historie
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		logger.Warn("Neznámé časové pásmo, použiji UTC", "tz", cfg.TimeZone, "error", err)
		loc = time.UTC
	}
	var hist history.Querier
	if cfg.InfluxURL != "" {
		influx := history.NewInflux(history.InfluxConfig{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		defer influx.Close()
		if err := influx.Ping(ctx); err != nil {
			logger.Warn("InfluxDB zatím neodpovídá", "url", cfg.InfluxURL, "error", err)
		}
		hist = influx
	}

	// 6. Běžící komponenty
	m := metrics.New()
	hub := telemetry.NewHub(st, telemetry.NewBuffer(cfg.TelemetryBuffer), logger)
	fwd := forwarding.NewManager(st, hub.Buffer(), b, m, logger)
	opc := capture.NewOPCUA(logger)
	captures := capture.NewManager(st, blobs, opc, b, m, logger)
	sampler := sysstats.NewSampler(cfg.StatsInterval, logger)
	collector := telemetry.NewCollector(b, hub, sampler, probe)

	svc := console.NewService(console.Deps{
		Store:           st,
		Cache:           c,
		Broker:          b,
		Forwarding:      fwd,
		Capture:         captures,
		Browser:         opc,
		History:         hist,
		Blobs:           blobs,
		Live:            hub,
		Location:        loc,
		BrokerListeners: listeners,
		Logger:          logger,
	})

	ws := telemetry.NewWSHandler(c, m, logger)
	api := console.NewAPIHandler(svc,
		auth.NewSessions([]byte(cfg.SessionHashKey), []byte(cfg.SessionBlock), cfg.SessionTTL, cfg.SecureCookie),
		auth.NewLimiter(cfg.LoginEvery, cfg.LoginBurst),
		console.LiveHandlers{DeviceData: ws.DeviceData(hub), Dashboard: ws.Dashboard(collector)},
		logger,
	)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           console.LoggingMiddleware(logger, m, console.CorsMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx, b, time.Minute) })
	g.Go(func() error { return fwd.Run(gctx) })
	g.Go(func() error { return sampler.Run(gctx) })
	g.Go(func() error {
		if err := captures.Restore(gctx); err != nil {
			logger.Error("Nelze obnovit procesy snímání", "error", err)
		}
		<-gctx.Done()
		captures.Close()
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server naslouchá", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Ukončuji službu...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.Store == "memory" {
		return memory.New(), nil
	}
	return postgres.Open(ctx, cfg.PostgresURL)
}
