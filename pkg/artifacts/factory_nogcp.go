//go:build !gcp

package artifacts

import (
	"context"
	"errors"

	"github.com/timothyplummer/talesofvalor/pkg/config"
)

func newGCSStore(context.Context, config.ArtifactsConfig) (Store, error) {
	return nil, errors.New("GCS storage is not enabled in this build (use -tags gcp)")
}
