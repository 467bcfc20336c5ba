package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/fiscalflow/pkg/api"
	"github.com/hazyhaar/fiscalflow/pkg/config"
	"github.com/hazyhaar/fiscalflow/pkg/metrics"
	"github.com/hazyhaar/fiscalflow/pkg/pipeline"
	"github.com/mark3labs/mcp-go/server"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "etl":
		cmdETL(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "runs":
		cmdRuns(os.Args[2:])
	case "schemas":
		cmdSchemas(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: fiscalflow <command> [-config config.yaml]

Commands:
  etl       Unify the expenditure files and export the yearly flows
  serve     Start the HTTP query API
  mcp       Serve the query tools over MCP stdio
  runs      List recorded pipeline runs
  schemas   Show the monetary source columns of each input schema
`)
}

// loadConfig parses the command flags (fs must already declare its own) and
// loads the configuration. Logs always go to stderr.
func loadConfig(fs *flag.FlagSet, args []string) (string, *config.Config, *slog.Logger) {
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	boot := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg, err := config.Load(*cfgPath, boot)
	if err != nil {
		boot.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	return *cfgPath, cfg, logger
}

// datasetLoader re-reads the config file on every load so a SIGHUP also
// picks up new focus years and labels.
func datasetLoader(path string, logger *slog.Logger) api.Loader {
	return func(ctx context.Context) (*pipeline.Dataset, error) {
		cfg, err := config.Load(path, logger)
		if err != nil {
			return nil, err
		}
		return pipeline.Load(ctx, cfg, logger)
	}
}

func limits(cfg *config.Config) api.Limits {
	return api.Limits{TopSources: cfg.TopSources, TopSinks: cfg.TopSinks, ChainTop: cfg.ChainTop}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath, cfg, logger := loadConfig(fs, args)

	m, err := metrics.New()
	if err != nil {
		logger.Error("metrics", "error", err)
		os.Exit(1)
	}

	// Load the dataset produced by the last etl run.
	holder := api.NewHolder(datasetLoader(cfgPath, logger))
	if err := holder.Reload(context.Background()); err != nil {
		logger.Error("failed to load dataset (run `fiscalflow etl` first)", "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(holder, api.Options{Limits: limits(cfg), Metrics: m, Logger: logger})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	// SIGHUP: hot reload the dataset.
	// SIGINT/SIGTERM: graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			logger.Info("SIGHUP received, reloading dataset")
			if err := holder.Reload(ctx); err != nil {
				logger.Error("reload failed, keeping previous dataset", "error", err)
			} else {
				logger.Info("dataset reloaded")
			}
		}
	}()

	// Start server.
	go func() {
		logger.Info("fiscalflow listening", "addr", cfg.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Shutdown(context.Background())
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath, cfg, logger := loadConfig(fs, args)

	holder := api.NewHolder(datasetLoader(cfgPath, logger))
	if err := holder.Reload(context.Background()); err != nil {
		logger.Error("failed to load dataset (run `fiscalflow etl` first)", "error", err)
		os.Exit(1)
	}

	srv := server.NewMCPServer("fiscalflow", version, server.WithToolCapabilities(false))
	api.RegisterMCPTools(srv, holder, api.Options{Limits: limits(cfg), Logger: logger})

	logger.Info("serving MCP over stdio")
	if err := server.ServeStdio(srv); err != nil {
		logger.Error("mcp server", "error", err)
		os.Exit(1)
	}
}
