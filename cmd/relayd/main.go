package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/config"
	"github.com/gamebridge/relay/ws"
)

func main() {
	cfgPath := flag.String("config", "relayd.yaml", "path to config file")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
		logger = logger.Level(level)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var checkOrigin ws.CheckOriginFn
	if len(cfg.Server.AllowedOrigins) > 0 {
		checkOrigin = ws.Origins(cfg.Server.AllowedOrigins...)
	} else {
		checkOrigin = ws.AllOrigins()
	}

	srv := ws.NewServer(ws.ServerConfig{
		Addr: cfg.Server.ListenAddr,
		Tokens: map[relay.Role][]string{
			relay.RoleProducer: cfg.Auth.ProducerTokens,
			relay.RoleConsumer: cfg.Auth.ConsumerTokens,
		},
		CommandDenylist:   cfg.Auth.CommandDenylist,
		QueueCapacity:     cfg.Queue.Capacity,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		ReportInterval:    cfg.Latency.ReportInterval,
		ThresholdMs:       cfg.Latency.ThresholdMs,
		MaxMessageBytes:   cfg.Limits.MaxMessageBytes,
		RateLimit: &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(cfg.Limits.RateLimitPerSec),
			Burst:             cfg.Limits.RateLimitBurst,
			Enabled:           cfg.Limits.RateLimitEnabled,
		},
		CheckOrigin: checkOrigin,
		Registerer:  reg,
		Logger:      logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start relay")
	}
	logger.Info().
		Str("listen", cfg.Server.ListenAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("relayd started")

	opsServer := startOpsServer(cfg.Server.MetricsAddr, srv, reg, logger)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	<-sigC

	logger.Info().Msg("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("relay shutdown")
	}
	if err := opsServer.Shutdown(stopCtx); err != nil {
		logger.Error().Err(err).Msg("ops server shutdown")
	}
}

// startOpsServer serves the health snapshot and Prometheus metrics on the
// operational address, separate from the relay's peer listener.
func startOpsServer(addr string, srv relay.Server, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(srv.Snapshot()); err != nil {
			logger.Debug().Err(err).Msg("encode health snapshot")
		}
	})

	ops := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("ops server failed")
		}
	}()
	return ops
}
