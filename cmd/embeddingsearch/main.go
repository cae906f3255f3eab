package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/LD-Reborn/embeddingsearch/internal/config"
	"github.com/LD-Reborn/embeddingsearch/pkg/database"
	"github.com/LD-Reborn/embeddingsearch/pkg/embedding"
	"github.com/LD-Reborn/embeddingsearch/pkg/probmethod"
	"github.com/LD-Reborn/embeddingsearch/pkg/search"
)

var version = "1.0.0-dev"

func main() {
	// A .env file is optional; environment overrides come from the shell
	// otherwise.
	_ = godotenv.Load()

	var configPath string
	var debug bool

	rootCmd := &cobra.Command{
		Use:     "embeddingsearch",
		Short:   "Multi-model semantic search engine",
		Version: version,
		Long: `embeddingsearch - multi-model semantic search engine

Documents are split into named datapoints grouped under entities; each
datapoint is embedded by one or more models, and queries are ranked by
combining per-model and per-datapoint similarity scores.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd(&configPath, &debug))
	rootCmd.AddCommand(indexCmd(&configPath, &debug))
	rootCmd.AddCommand(searchCmd(&configPath, &debug))
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newService wires the full stack: config, embedding client, database,
// engine and facade.
func newService(configPath string, debug bool) (*search.Service, *database.Manager, *config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger := newLogger(debug)

	client := embedding.NewClient(cfg.Ollama.URL, cfg.Ollama.Timeout, logger)
	db, err := database.NewManager(&cfg.Database, client, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	engine := &search.Engine{
		Embedder: client,
		Registry: probmethod.NewRegistry(),
		Logger:   logger,
		Parallel: cfg.Search.Parallel,
	}
	service := search.NewService(db, engine, cfg.Search.QueryTimeout, logger)
	return service, db, cfg, logger, nil
}
