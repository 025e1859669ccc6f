package artifacts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/timothyplummer/talesofvalor/pkg/config"
)

// StoreType names an artifact backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStore builds the backend cfg selects. The filesystem store lives in
// <DataDir>/artifacts.
func NewStore(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	switch StoreType(cfg.Type) {
	case StoreTypeFS, "":
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "artifacts"))
	case StoreTypeS3:
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg)
	}
	return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Type)
}
