package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/pkg/config"
	"github.com/marmos91/oncrpc/pkg/portmap"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: $XDG_CONFIG_HOME/oncrpc/config.yaml)")
	initConfig := flag.Bool("init", false, "Write a default configuration file and exit")
	force := flag.Bool("force", false, "Overwrite an existing configuration file with -init")
	flag.Parse()

	if *initConfig {
		runInit(*configPath, *force)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := config.ConfigureLogging(&cfg.Logging); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("portmapd - ONC RPC port mapper")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Registry store: %s", cfg.Portmap.Store.Type)

	reg, err := config.CreateRegistry(ctx, &cfg.Portmap.Store)
	if err != nil {
		log.Fatalf("Failed to create registry: %v", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("Registry close error: %v", err)
		}
	}()

	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	opts := []portmap.Option{
		portmap.WithCallItTimeout(cfg.Portmap.CallItTimeout),
		portmap.WithMetrics(m.Portmap),
	}
	if cfg.Portmap.LoopbackOnlyUpdates {
		opts = append(opts, portmap.WithLoopbackOnlyUpdates())
		logger.Info("SET and UNSET restricted to loopback callers")
	}
	prog := portmap.NewProgram(reg, opts...)

	group, err := config.CreatePortmapGroup(&cfg.Portmap, prog, m)
	if err != nil {
		log.Fatalf("Failed to create servers: %v", err)
	}

	var endpoints []portmap.Endpoint
	for _, srv := range group.Servers() {
		endpoints = append(endpoints, srv)
	}
	if err := portmap.RegisterSelf(ctx, reg, endpoints...); err != nil {
		log.Fatalf("Failed to register port mapper: %v", err)
	}

	logger.Info("Server configuration:")
	logger.Info("  Protocols: %v", cfg.Portmap.Protocols)
	logger.Info("  Port: %d", cfg.Portmap.Port)
	if cfg.Portmap.MaxConnections > 0 {
		logger.Info("  Max connections: %d", cfg.Portmap.MaxConnections)
	} else {
		logger.Info("  Max connections: unlimited")
	}
	logger.Info("  CALLIT timeout: %v", cfg.Portmap.CallItTimeout)
	logger.Info("  Idle timeout: %v", cfg.Portmap.IdleTimeout)
	logger.Info("  Shutdown timeout: %v", cfg.Portmap.ShutdownTimeout)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- group.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Port mapper is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

func runInit(path string, force bool) {
	var err error
	if path == "" {
		path, err = config.InitConfig(force)
	} else {
		err = config.InitConfigToPath(path, force)
	}
	if err != nil {
		log.Fatalf("Failed to write configuration: %v", err)
	}
	fmt.Printf("Configuration written to %s\n", path)
}
