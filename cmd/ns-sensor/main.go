package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"Go2NetSensor/internal/api"
	"Go2NetSensor/internal/capture"
	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/engine/manager"
	"Go2NetSensor/internal/logging"
	"Go2NetSensor/internal/metrics"
	"Go2NetSensor/internal/probe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	// --- Command-Line Flag Parsing ---
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	mode := flag.String("mode", "capture", "Operating mode: 'capture' to run the sensor, 'sub' to print events published to NATS.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Mode Dispatch ---
	switch *mode {
	case "capture":
		err = runSensor(cfg, logger)
	case "sub":
		err = runSubscriber(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		logger.Fatal("ns-sensor failed", zap.Error(err))
	}
}

// runSensor captures on every bind interface until a shutdown signal arrives.
func runSensor(cfg *config.Config, logger *zap.Logger) error {
	if len(cfg.Sensor.BindInterfaces) == 0 {
		return fmt.Errorf("sensor.bind_interfaces is empty")
	}
	logger.Info("Starting ns-sensor",
		zap.Strings("interfaces", cfg.Sensor.BindInterfaces),
		zap.Strings("monitored", cfg.Sensor.MonitoredCIDRs))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	mgr, err := manager.NewManager(cfg, logger, m)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	var sources []*capture.LiveSource
	for _, iface := range cfg.Sensor.BindInterfaces {
		src, err := capture.OpenLive(iface, cfg.Sensor, logger)
		if err != nil {
			for _, s := range sources {
				s.Close()
			}
			mgr.Stop()
			return err
		}
		sources = append(sources, src)
		if link, _ := config.LinkName(src.LinkType()); link != cfg.Sensor.LinkType {
			for _, s := range sources {
				s.Close()
			}
			mgr.Stop()
			return fmt.Errorf("interface %s has link type %s, sensor.link_type is %q", iface, src.LinkType(), cfg.Sensor.LinkType)
		}
	}

	mgr.Start()

	var httpAPI *api.Server
	if cfg.API.ListenAddr != "" {
		httpAPI = api.NewServer(mgr, reg, logger)
		if err := httpAPI.Start(cfg.API.ListenAddr); err != nil {
			logger.Error("API server disabled", zap.Error(err))
			httpAPI = nil
		}
	}
	var healthSrv *api.HealthServer
	if cfg.API.GRPCAddr != "" {
		healthSrv = api.NewHealthServer(logger)
		if _, err := healthSrv.Serve(cfg.API.GRPCAddr); err != nil {
			logger.Error("Health server disabled", zap.Error(err))
			healthSrv = nil
		} else {
			healthSrv.SetServing(true)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src *capture.LiveSource) {
			defer wg.Done()
			if err := src.Run(ctx, mgr.Deliver); err != nil {
				logger.Error("Capture stopped", zap.String("interface", src.Interface()), zap.Error(err))
			}
		}(src)
	}
	logger.Info("Capture started successfully. Classifying frames...")

	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up...")

	wg.Wait()
	for _, src := range sources {
		src.Close()
	}
	if healthSrv != nil {
		healthSrv.SetServing(false)
	}
	if err := mgr.Stop(); err != nil {
		logger.Warn("Errors while stopping manager", zap.Error(err))
	}
	if httpAPI != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := httpAPI.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server forced to shutdown", zap.Error(err))
		}
	}
	if healthSrv != nil {
		healthSrv.Stop()
	}
	logger.Info("Shutdown complete.", zap.Any("stats", mgr.Stats()))
	return nil
}

// runSubscriber prints the events published to NATS by another sensor.
func runSubscriber(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting ns-sensor in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg.Sinks.NATS, logger)
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	defer sub.Close()

	handler := func(rec *structpb.Struct) {
		out, err := protojson.Marshal(rec)
		if err != nil {
			logger.Warn("Failed to render event", zap.Error(err))
			return
		}
		fmt.Println(string(out))
	}
	if err := sub.Start(handler); err != nil {
		return fmt.Errorf("subscriber failed to start: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up...")
	return nil
}
