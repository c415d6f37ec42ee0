package backend

import (
	"context"
	"fmt"

	"github.com/princekumarofficial/transcode-nexus/internal/config"
	"github.com/princekumarofficial/transcode-nexus/internal/storage"
	"github.com/princekumarofficial/transcode-nexus/internal/storage/minio"
	"github.com/princekumarofficial/transcode-nexus/internal/storage/s3"
)

// New builds the object store selected by cfg.Driver.
func New(ctx context.Context, cfg config.Storage) (storage.ObjectStore, error) {
	switch cfg.Driver {
	case "minio", "":
		store, err := minio.NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		return s3.NewStore(cfg), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
