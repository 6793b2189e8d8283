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

	"github.com/marmos91/oncrpc/internal/echo"
	"github.com/marmos91/oncrpc/internal/logger"
	"github.com/marmos91/oncrpc/pkg/config"
	"github.com/marmos91/oncrpc/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	protocol := flag.String("protocol", "", "Transport to serve on (tcp or udp), overrides server.protocol")
	port := flag.Int("port", 0, "Port to listen on, overrides server.port")
	register := flag.Bool("register", false, "Register with the port mapper, overrides server.register")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "protocol":
			cfg.Server.Protocol = *protocol
		case "port":
			cfg.Server.Port = *port
		case "register":
			cfg.Server.Register = *register
		}
	})

	if err := config.ConfigureLogging(&cfg.Logging); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("rpcecho - ONC RPC echo server")

	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	cfg.Server.ApplyDefaults()
	srv, err := config.CreateServer(cfg.Server, echo.NewProgram(),
		server.WithMetrics(m.RPC(cfg.Server.Protocol)))
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if cfg.Server.Register {
		logger.Info("Registering with port mapper at %s", cfg.Server.PortmapAddr)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Echo server is running on %s port %d. Press Ctrl+C to stop.", srv.Protocol(), srv.Port())

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
