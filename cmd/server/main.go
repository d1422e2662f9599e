package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yomuko/yomuko/internal/bridge"
	"github.com/yomuko/yomuko/internal/config"
	"github.com/yomuko/yomuko/internal/host"
	"github.com/yomuko/yomuko/internal/logging"
	"github.com/yomuko/yomuko/internal/monitoring"
	"github.com/yomuko/yomuko/internal/sandbox"
	"github.com/yomuko/yomuko/internal/server"
	"github.com/yomuko/yomuko/internal/store"
)

func main() {
	port := flag.String("port", "", "Server port (overrides PORT)")
	scriptsDir := flag.String("scripts", "", "Directory of installed extension scripts (overrides SCRIPTS_DIR)")
	dev := flag.Bool("dev", false, "Development mode (colored logs, debug level)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *scriptsDir != "" {
		cfg.Store.ScriptsDir = *scriptsDir
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	log, err := logging.New(logCfg)
	if err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	metrics := monitoring.NewMetrics()

	sandboxCfg := sandbox.Config{
		CallTimeout:  cfg.Sandbox.CallTimeout,
		PumpInterval: cfg.Sandbox.PumpInterval,
		MaxCallStack: cfg.Sandbox.MaxCallStack,
		Bridge: bridge.Config{
			FetchTimeout:      cfg.Bridge.FetchTimeout,
			RetryMax:          cfg.Bridge.RetryMax,
			RequestsPerSecond: cfg.Bridge.RequestsPerSecond,
			UserAgent:         cfg.Bridge.UserAgent,
		},
	}

	h := host.New(sandboxCfg, metrics, log)
	defer h.Close()

	if cfg.Store.ScriptsDir != "" {
		loaded, err := h.LoadAll(context.Background(), store.NewDir(cfg.Store.ScriptsDir))
		if err != nil {
			log.Warn("failed to load installed scripts",
				zap.String("dir", cfg.Store.ScriptsDir), zap.Error(err))
		} else {
			log.Info("installed scripts loaded",
				zap.Int("count", loaded), zap.String("dir", cfg.Store.ScriptsDir))
		}
	}

	srv := server.New(cfg, h, metrics, log.Named("http"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		log.Info("shutting down")
	case err := <-errChan:
		log.Error("server stopped", zap.Error(err))
		h.Close()
		log.Sync()
		os.Exit(1)
	}
}
