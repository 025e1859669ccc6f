//go:build !gcp

package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/timothyplummer/talesofvalor/pkg/config"
)

func TestNewStoreGCSNeedsBuildTag(t *testing.T) {
	_, err := NewStore(context.Background(), config.ArtifactsConfig{Type: "gcs", GCSBucket: "b"})
	assert.ErrorContains(t, err, "-tags gcp")
}
