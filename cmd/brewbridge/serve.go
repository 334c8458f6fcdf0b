package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shaunagostinho/brewbridge/internal/brewer"
	"github.com/shaunagostinho/brewbridge/internal/device"
	"github.com/shaunagostinho/brewbridge/internal/logger"
	"github.com/shaunagostinho/brewbridge/internal/metrics"
	"github.com/shaunagostinho/brewbridge/internal/protocol"
	"github.com/shaunagostinho/brewbridge/internal/server"
	"github.com/shaunagostinho/brewbridge/internal/state"
	"github.com/shaunagostinho/brewbridge/web"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	log.Info().Str("device", cfg.Device.Type).Msg("brewbridge starting")

	// Create context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := state.New(state.Options{
		FullWater:   cfg.Brewer.FullWater,
		FullBeans:   cfg.Brewer.FullBeans,
		LogCapacity: cfg.Brewer.LogCapacity,
	})

	var collector metrics.Collector = metrics.Noop()
	var gatherer prometheus.Gatherer
	if cfg.Server.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		pc, err := metrics.NewPrometheusCollector(reg)
		if err != nil {
			return err
		}
		collector, gatherer = pc, reg
	}

	session := newSession(cfg, brewer.NewLinkMonitor(store, collector), log)
	defer session.Close()

	decoder := protocol.NewTextDecoder(cfg.Protocol)
	reader := brewer.NewReader(session, decoder, store, brewer.ReaderConfig{
		Backoff: cfg.Device.Reconnect(),
		Idle:    cfg.Device.Idle(),
	}, collector, log)
	dispatcher := brewer.NewDispatcher(session, store, brewer.DispatcherConfig{
		Costs:    cfg.Brewer.Costs,
		FollowUp: cfg.Brewer.FollowUp(),
	}, collector, log)

	// The page and API work immediately even while the brewer is still connecting
	go func() {
		if err := reader.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("reader stopped")
		}
	}()

	srv := server.New(cfg, store, dispatcher, web.FS, gatherer, log)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
		return err
	}
	log.Info().Msg("shut down")
	return nil
}

func newSession(cfg *server.Config, mon device.Monitor, log zerolog.Logger) *device.Session {
	sessCfg := device.SessionConfig{
		BaudRate:    cfg.Device.BaudRate,
		Settle:      cfg.Device.Settle(),
		ReadTimeout: cfg.Device.ReadTimeout(),
	}
	opts := []device.Option{device.WithMonitor(mon), device.WithLogger(log)}

	if cfg.Device.Type == "demo" {
		sim := device.NewDemoDevice(device.DemoConfig{
			Phrases:   cfg.Protocol,
			Costs:     cfg.Brewer.Costs,
			FullWater: cfg.Brewer.FullWater,
			FullBeans: cfg.Brewer.FullBeans,
			BrewTime:  cfg.Device.DemoBrew(),
		})
		sessCfg.Settle = 0
		return device.NewSession(sessCfg, device.FixedPort("demo"), append(opts, device.WithOpener(sim.Open))...)
	}

	var finder device.Finder
	if cfg.Device.PortPath != "" {
		finder = device.FixedPort(cfg.Device.PortPath)
	} else {
		finder = device.NewLocator(cfg.Device.Markers, nil, log)
	}
	return device.NewSession(sessCfg, finder, opts...)
}
