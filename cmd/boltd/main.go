package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/config"
	"example.com/bolt/internal/monitor"
	"example.com/bolt/internal/server"
	"example.com/bolt/internal/sink"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	envPath := flag.String("env", ".env", "path to a .env file")
	addr := flag.String("addr", "", "listen address (overrides config host and port)")
	host := flag.String("host", config.DefaultHost, "listen host")
	port := flag.Int("port", config.DefaultPort, "listen port")
	title := flag.String("title", config.DefaultTitle, "dashboard title")
	serialPort := flag.String("serial", "", "serial device to connect at startup")
	baud := flag.Int("baud", config.DefaultBaud, "serial baud rate")
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := config.Load(*configPath, !set["config"])
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	if err := config.LoadDotEnv(*envPath); err != nil {
		common.Fatalf("load env: %v", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if set["host"] {
		cfg.HTTP.Host = *host
	}
	if set["port"] {
		cfg.HTTP.Port = *port
	}
	if set["title"] {
		cfg.Title = *title
	}
	if set["serial"] {
		cfg.Serial.Port = *serialPort
		cfg.Serial.AutoConnect = true
	}
	if set["baud"] {
		cfg.Serial.Baud = *baud
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		common.Fatalf("storage dir: %v", err)
	}
	logCloser, err := common.SetupLogging(cfg.Logs)
	if err != nil {
		common.Fatalf("setup logging: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cfg.MonitorOptions()
	opts.Metrics = common.NewMetrics()
	if cfg.Influx.Enabled() {
		influx, err := sink.NewInflux(ctx, sink.Options{
			URL:           cfg.Influx.URL,
			Token:         cfg.Influx.Token,
			Org:           cfg.Influx.Org,
			Bucket:        cfg.Influx.Bucket,
			Measurement:   cfg.Influx.Measurement,
			FlushInterval: cfg.Influx.FlushInterval,
		})
		if err != nil {
			common.Fatalf("influx: %v", err)
		}
		defer influx.Close()
		opts.Sink = influx
	}
	mon := monitor.New(opts)
	opts.Metrics.Start()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		mon.Run(ctx)
	}()

	preloadDictionaries(ctx, mon, cfg.Dictionaries)
	if cfg.Serial.AutoConnect && cfg.Serial.Port != "" {
		if err := mon.Connect(cfg.Serial.Transport()); err != nil {
			common.Logf("auto-connect: %v", err)
		}
	}

	srv, err := server.NewServer(mon, server.Options{
		Title:             cfg.Title,
		DefaultBaud:       cfg.Serial.Baud,
		TopN:              cfg.History.TopN,
		SerialReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		common.Fatalf("server init: %v", err)
	}
	router, err := server.NewRouter(srv)
	if err != nil {
		common.Fatalf("router init: %v", err)
	}
	listenAddr := cfg.HTTP.Addr()
	if *addr != "" {
		listenAddr = *addr
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	common.Logf("%s listening on http://%s", cfg.Title, listenAddr)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		common.Logf("shutdown: %v", err)
	}
	<-consumerDone
	opts.Metrics.Stop()
	common.Logf("boltd stopped after %d frames", opts.Metrics.Snapshot().Frames)
}

// preloadDictionaries loads the configured DBC files; failures are logged
// and skipped.
func preloadDictionaries(ctx context.Context, mon *monitor.Monitor, paths []string) {
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			common.Logf("dbc: %v", err)
			continue
		}
		if _, err := mon.LoadDictionary(ctx, filepath.Base(path), raw); err != nil {
			common.Logf("dbc: preload %s: %v", path, err)
		}
	}
}
