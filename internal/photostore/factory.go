package photostore

import (
	"context"
	"fmt"

	"camarc/internal/camarc"
	"camarc/internal/config"
)

// NewPhotoStoreFromConfig creates a PhotoStore based on the configured type.
func NewPhotoStoreFromConfig(ctx context.Context, cfg config.PhotoStoreConfig, idgen camarc.IDGenerator) (camarc.PhotoStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Name, idgen), nil
	case "s3":
		store, err := NewS3Store(ctx, cfg, idgen)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem photo store requires fs_root to be set")
		}
		store, err := NewFileSystemStore(cfg.Name, cfg.FSRoot, idgen)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown photo store type: %s", cfg.Type)
	}
}
