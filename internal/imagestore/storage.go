package imagestore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"atelier/internal/config"
)

// Storage persists generated images under caller-chosen keys. The string
// Save returns is what gets recorded as a generation's image_path and what
// Read and Delete accept.
type Storage interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Health(ctx context.Context) error
	Backend() string
}

// New builds the backend selected by storage.backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagestore: config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "", config.StorageLocal:
		return NewLocal(cfg.Paths.ImageDir)
	case config.StorageS3:
		return NewS3(ctx, cfg.Storage, logger)
	default:
		return nil, fmt.Errorf("imagestore: unsupported backend %q", cfg.Storage.Backend)
	}
}
