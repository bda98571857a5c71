package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mevdschee/lambdafpm/internal/bridge"
	"github.com/mevdschee/lambdafpm/internal/config"
	"github.com/mevdschee/lambdafpm/internal/runtime"
	"github.com/mevdschee/lambdafpm/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "Path to optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}),
	))
	log := slog.Default().With("context", "main")

	if cfg.RuntimeAPI == "" {
		log.Error("AWS_LAMBDA_RUNTIME_API is not set")
		os.Exit(1)
	}
	client := runtime.NewClient(cfg.RuntimeAPI)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn("metrics listener stopped", "error", err)
			}
		}()
		log.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	sup := supervisor.New(supervisor.Config{
		SocketPath: cfg.SocketPath,
		PidPath:    cfg.PidPath,
		ConfigPath: cfg.FpmConfigPath,
		Binary:     cfg.FpmBinary,
	})
	handler := bridge.New(bridge.Options{
		Supervisor:  sup,
		HandlerPath: cfg.HandlerPath(),
	})

	if err := handler.Start(); err != nil {
		log.Error("worker failed to start", "error", err)
		_ = client.PostInitError("Runtime.WorkerFailedToStart", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	loopErr := runtime.Run(ctx, client, handler, log)

	if err := handler.Stop(); err != nil {
		log.Error("worker did not stop cleanly", "error", err)
	}
	if loopErr != nil {
		log.Error("runtime loop failed", "error", loopErr)
		os.Exit(1)
	}
}
