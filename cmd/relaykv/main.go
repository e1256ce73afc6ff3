package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaykv/relaykv/pkg/config"
	"github.com/relaykv/relaykv/pkg/logging"
	"github.com/relaykv/relaykv/pkg/metrics"
	"github.com/relaykv/relaykv/pkg/server"
)

func main() {
	configPath := flag.String("config", "relaykv.yaml", "Path to config file")
	flag.Parse()

	logger := logging.NewDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", logging.Err(err))
		os.Exit(1)
	}

	reg := metrics.DefaultRegistry()

	hub, err := server.New(cfg, logger, reg)
	if err != nil {
		logger.Error("failed to create hub", logging.Err(err))
		os.Exit(1)
	}
	if err := hub.Start(); err != nil {
		logger.Error("failed to start hub", logging.Err(err))
		os.Exit(1)
	}
	defer hub.Stop()

	if cfg.HTTPAddr != "" {
		go func() {
			logger.Info("http server listening", logging.String("addr", cfg.HTTPAddr))
			if err := http.ListenAndServe(cfg.HTTPAddr, server.NewHTTPHandler(hub, reg)); err != nil {
				logger.Error("http server failed", logging.Err(err))
			}
		}()
	}

	logger.Info("relaykv started",
		logging.Int32("server_id", cfg.ServerID),
		logging.String("http_addr", cfg.HTTPAddr),
		logging.Int("peers", len(cfg.Peers)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
}
