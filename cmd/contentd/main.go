// contentd - local content automation service
//
// Serves lesson documents from a directory of JSON files:
//
//	GET  /api/teacher/content?path=<path>   Read a document
//	PUT  /api/teacher/content               Save a document
//	GET  /healthz                           Health report (?full=true for details)
//	GET  /livez                             Liveness probe
//	GET  /metrics                           Prometheus metrics
//
// The log level follows the configuration file while running.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lessonsync/internal/config"
	"lessonsync/internal/contentserver"
	"lessonsync/internal/health"
	"lessonsync/internal/logging"
	"lessonsync/internal/schemavalidation"
)

func main() {
	configPath := flag.String("config", "", "Config file (default: "+config.ConfigPath()+")")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	root := flag.String("root", "", "Content directory (overrides server.content_root)")
	schemaPath := flag.String("schema", "", "JSON Schema applied to saved documents")
	flag.Parse()

	if err := run(*configPath, *addr, *root, *schemaPath); err != nil {
		fmt.Fprintf(os.Stderr, "contentd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, root, schemaPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer loader.Close()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if root != "" {
		cfg.Server.ContentRoot = root
	}
	if schemaPath != "" {
		cfg.Server.SchemaPath = schemaPath
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := cfg.NewLogger("contentd")
	if err != nil {
		return err
	}
	defer logger.Close()
	logging.SetDefault(logger)

	checker := health.NewChecker()
	checker.Add("content-root", true, health.ContentRoot(cfg.Server.ContentRoot))

	var validator *schemavalidation.Validator
	if cfg.Server.SchemaPath != "" {
		validator, err = schemavalidation.Load(cfg.Server.SchemaPath)
		if err != nil {
			return err
		}
		checker.Add("schema", false, health.SchemaFile(cfg.Server.SchemaPath))
		logger.Info("schema validation enabled", "schema", filepath.Base(cfg.Server.SchemaPath))
	}

	srv, err := contentserver.New(contentserver.Config{
		Root:             cfg.Server.ContentRoot,
		Token:            cfg.Server.Token,
		Schema:           validator,
		Logger:           logger,
		Health:           checker,
		SaveRate:         cfg.Server.SaveRate,
		SaveBurst:        cfg.Server.SaveBurst,
		MaxTokenFailures: cfg.Server.MaxTokenFailures,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(cfg.Server.Addr); err != nil {
		return err
	}
	checker.SetReady(true)

	loader.OnChange(func(next *config.Config) {
		level, err := logging.ParseLevel(next.Logging.Level)
		if err != nil {
			logger.Warn("ignoring log level", "level", next.Logging.Level, "error", err)
			return
		}
		logger.SetLevel(level)
		logger.Info("configuration reloaded", "log_level", logging.LevelString(level))
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}
	go func() {
		for err := range loader.Errors() {
			logger.Warn("config watch", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
