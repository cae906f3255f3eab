package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LD-Reborn/embeddingsearch/pkg/database"
	"github.com/LD-Reborn/embeddingsearch/pkg/search"
)

// payloadEntity mirrors the ingestion payload produced by indexing scripts.
type payloadEntity struct {
	Name         string            `json:"Name"`
	Probmethod   string            `json:"Probmethod"`
	Searchdomain string            `json:"Searchdomain"`
	Attributes   map[string]string `json:"Attributes"`
	Datapoints   []payloadDatapoint `json:"Datapoints"`
}

type payloadDatapoint struct {
	Name                string   `json:"Name"`
	Text                string   `json:"Text"`
	ProbmethodEmbedding string   `json:"Probmethod_embedding"`
	Model               []string `json:"Model"`
}

func indexCmd(configPath *string, debug *bool) *cobra.Command {
	var dir string
	var domainName string
	var probmethodName string

	cmd := &cobra.Command{
		Use:   "index [payload.json]",
		Short: "Upsert entities from an ingestion payload or a directory tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, db, cfg, logger, err := newService(*configPath, *debug)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			if err := db.Migrate(ctx); err != nil {
				return err
			}

			if dir != "" {
				if _, err := service.SearchdomainGet(ctx, domainName, true); err != nil {
					return err
				}
				return indexDir(ctx, service, logger, dir, domainName, probmethodName, cfg.Ollama.Models)
			}
			if len(args) != 1 {
				return fmt.Errorf("either a payload file or --dir is required")
			}
			return indexPayload(ctx, service, logger, args[0])
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "index every file under this directory")
	cmd.Flags().StringVar(&domainName, "searchdomain", "default", "searchdomain for --dir indexing")
	cmd.Flags().StringVar(&probmethodName, "probmethod", "weighted_average", "probmethod for --dir indexing")
	return cmd
}

// indexPayload upserts one entity per payload element.
func indexPayload(ctx context.Context, service *search.Service, logger *slog.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}
	var payload []payloadEntity
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	for _, item := range payload {
		if _, err := service.SearchdomainGet(ctx, item.Searchdomain, true); err != nil {
			return err
		}
		datapoints := make([]database.NewDatapoint, 0, len(item.Datapoints))
		for _, dp := range item.Datapoints {
			datapoints = append(datapoints, database.NewDatapoint{
				Name:                dp.Name,
				Text:                dp.Text,
				ProbmethodEmbedding: dp.ProbmethodEmbedding,
				Models:              dp.Model,
			})
		}
		_, err := service.EntityInsert(ctx, item.Searchdomain, database.NewEntity{
			Name:       item.Name,
			Probmethod: item.Probmethod,
			Attributes: item.Attributes,
			Datapoints: datapoints,
		})
		if err != nil {
			return fmt.Errorf("failed to index %q: %w", item.Name, err)
		}
		logger.Info("indexed entity", "name", item.Name, "searchdomain", item.Searchdomain)
	}
	return nil
}

// indexDir walks a directory and indexes every file as one entity with
// filepath and content datapoints. Files whose lastmodified attribute is
// unchanged are skipped.
func indexDir(ctx context.Context, service *search.Service, logger *slog.Logger, dir, domainName, probmethodName string, models []string) error {
	total, updated := 0, 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		total++
		changed, err := indexFile(ctx, service, domainName, probmethodName, models, path, info)
		if err != nil {
			logger.Warn("failed to index file", "path", path, "error", err)
			return nil
		}
		if changed {
			updated++
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("directory indexed", "dir", dir, "files", total, "updated", updated)
	return nil
}

func indexFile(ctx context.Context, service *search.Service, domainName, probmethodName string, models []string, path string, info os.FileInfo) (bool, error) {
	lastmodified := strconv.FormatInt(info.ModTime().Unix(), 10)
	if previous, err := service.EntityGetByName(ctx, domainName, path); err == nil {
		if attr, ok := previous.GetAttribute("lastmodified"); ok && attr.Value == lastmodified {
			return false, nil
		}
	}

	text, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	_, err = service.EntityInsert(ctx, domainName, database.NewEntity{
		Name:       path,
		Probmethod: probmethodName,
		Attributes: map[string]string{
			"path":         path,
			"type":         "file",
			"contents":     "text",
			"lastmodified": lastmodified,
		},
		Datapoints: []database.NewDatapoint{
			{Name: "filepath", Text: path, ProbmethodEmbedding: probmethodName, Models: models},
			{Name: "content", Text: string(text), ProbmethodEmbedding: probmethodName, Models: models},
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
