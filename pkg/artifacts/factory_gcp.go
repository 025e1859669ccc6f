//go:build gcp

package artifacts

import (
	"context"

	"github.com/timothyplummer/talesofvalor/pkg/config"
)

func newGCSStore(ctx context.Context, cfg config.ArtifactsConfig) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
}
