package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/poolhome/poolhome/internal/config"
	"github.com/poolhome/poolhome/internal/core"
	"github.com/poolhome/poolhome/internal/rate"
	"github.com/poolhome/poolhome/internal/server"
	"github.com/poolhome/poolhome/plugins/dolphin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := newLogger(cfg)

	dolphinPlugin, err := dolphin.NewPlugin(dolphin.Config{
		BootstrapFile:     cfg.Dolphin.BootstrapFile,
		Endpoint:          cfg.Dolphin.IoTEndpoint,
		Region:            cfg.Dolphin.IoTRegion,
		CredentialRefresh: cfg.Dolphin.CredentialRefresh,
		StateRefresh:      cfg.Dolphin.StateRefresh,
		ReconnectDelay:    cfg.Dolphin.ReconnectDelay,
	}, log.With().Str("plugin", "dolphin").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("build dolphin plugin")
	}

	plugins := []core.Plugin{dolphinPlugin}
	if err := core.ValidatePlugins(plugins); err != nil {
		log.Fatal().Err(err).Msg("validate plugins")
	}

	metricsRegistry := core.MetricsRegistry(plugins)
	metricsRegistry.MustRegister(rate.MetricsCollectors()...)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "poolhome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler)
	mux.HandleFunc("/plugins/health", server.PluginHealthHandler(plugins))
	mux.Handle("/metrics", server.MetricsHandler(metricsRegistry))
	core.RegisterHTTP(mux, plugins)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := core.StartAll(ctx, plugins); err != nil {
		log.Fatal().Err(err).Msg("start plugins")
	}

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, mux)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http serve")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Server.Shutdown(shutdownCtx)
	core.StopAll(plugins)
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr)
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
