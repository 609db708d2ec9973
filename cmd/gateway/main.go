package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/api"
	"github.com/ethan/rtp-egress-gateway/pkg/bootlog"
	"github.com/ethan/rtp-egress-gateway/pkg/config"
	"github.com/ethan/rtp-egress-gateway/pkg/controller"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/stats"
	"github.com/ethan/rtp-egress-gateway/pkg/stream"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
)

func main() {
	boot := bootlog.New()

	fs := flag.NewFlagSet("gateway", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	configArg := fs.String("config", "", "Stream configuration: JSON string or path to a JSON file")
	reloadInterval := fs.Duration("config-reload-interval", 30*time.Second,
		"How often to reload -config and reconcile the stream registry against it")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -config <file-or-json> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "RTP-over-UDP to WebRTC egress gateway\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		bootlog.Fatalf(boot, "parsing flags: %v", err)
	}

	if *configArg == "" {
		bootlog.Fatalf(boot, "-config is required")
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		bootlog.Fatalf(boot, "configuring logger: %v", err)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		bootlog.Fatalf(boot, "creating logger: %v", err)
	}
	defer log.Close()

	logger.SetDefault(log)

	log.Info("starting RTP egress gateway", "log_config", logFlags.String())

	cfg, err := config.Load(*configArg)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "listen_addr", cfg.ListenAddr, "stream_count", len(cfg.Streams))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	registry := stream.NewRegistry(ctx, log.With("component", "stream-registry"))
	if err := registry.Sync(cfg.Streams); err != nil {
		log.Error("failed to sync streams", "error", err)
		os.Exit(1)
	}
	log.Info("streams synced", "count", len(registry.List()))

	ctrl, err := controller.New(ctx, registry, log.With("component", "controller"))
	if err != nil {
		log.Error("failed to create controller", "error", err)
		os.Exit(1)
	}

	statsRdr, err := stats.New(ctx, log.With("component", "stats"))
	if err != nil {
		log.Error("failed to create stats reader", "error", err)
		os.Exit(1)
	}

	ctrl.StartConfigReload(ctx, func() ([]types.StreamDef, error) {
		reloaded, err := config.Load(*configArg)
		if err != nil {
			return nil, err
		}
		return reloaded.Streams, nil
	}, *reloadInterval)

	server := api.NewServer(ctrl, statsRdr, log.With("component", "api"))
	if err := server.Start(cfg.ListenAddr); err != nil {
		log.Error("failed to start HTTP server", "error", err)
		os.Exit(1)
	}
	log.Info("gateway running", "listen_addr", cfg.ListenAddr)

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		log.Error("failed to stop HTTP server", "error", err)
	}

	log.Info("gateway shut down")
}
