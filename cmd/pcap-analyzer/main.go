package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/engine/manager"
	"Go2NetSensor/internal/logging"
	"Go2NetSensor/internal/metrics"
	"Go2NetSensor/pkg/pcap"

	"go.uber.org/zap"
)

func main() {
	// 1. Get pcap file path from command-line arguments
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: pcap-analyzer [-config configs/config.yaml] <path_to_pcap_file>")
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 2. Load configuration. Offline replay never drops frames and ages
	// flows by capture time.
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Engine.Backpressure = "block"
	cfg.Engine.Clock = "capture"

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 3. Initialize modules. The forensic dump follows the file's link type.
	reader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		logger.Fatal("Failed to open pcap file", zap.Error(err))
	}
	defer reader.Close()
	link, ok := config.LinkName(reader.LinkType())
	if !ok {
		logger.Fatal("Unsupported link type", zap.Stringer("link_type", reader.LinkType()))
	}
	cfg.Sensor.LinkType = link

	mgr, err := manager.NewManager(cfg, logger, metrics.NewMetrics())
	if err != nil {
		logger.Fatal("Failed to create manager", zap.Error(err))
	}
	logger.Info("Reading frames", zap.String("file", pcapFilePath), zap.Stringer("link_type", reader.LinkType()))

	// 4. Start the processing pipeline
	mgr.Start()

	// 5. Feed every frame to the manager
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	n, err := reader.ReadFrames(ctx, mgr.Deliver)
	if err != nil {
		logger.Warn("Stopped reading early", zap.Int("frames", n), zap.Error(err))
	} else {
		logger.Info("Finished reading all frames from pcap file.", zap.Int("frames", n))
	}

	// 6. Graceful shutdown
	if err := mgr.Stop(); err != nil {
		logger.Warn("Errors while stopping manager", zap.Error(err))
	}
	summary, _ := json.MarshalIndent(mgr.Stats(), "", "  ")
	fmt.Println(string(summary))
}
