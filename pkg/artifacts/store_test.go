package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timothyplummer/talesofvalor/pkg/config"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("character pack")
	digest, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, Digest(data), digest)
	assert.Len(t, digest, len("sha256:")+64)

	again, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, digest, again, "put is idempotent")

	ok, err := s.Exists(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, digest))
	require.NoError(t, s.Delete(ctx, digest), "deleting twice is fine")

	ok, err = s.Exists(ctx, digest)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Get(ctx, digest)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRejectsBadDigests(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, d := range []string{"", "md5:abcd", "sha256:zz", "sha256:abcd", "sha256:../../etc/passwd"} {
		_, err := s.Get(ctx, d)
		assert.ErrorIs(t, err, ErrInvalidDigest, d)
		_, err = s.Exists(ctx, d)
		assert.ErrorIs(t, err, ErrInvalidDigest, d)
		assert.ErrorIs(t, s.Delete(ctx, d), ErrInvalidDigest, d)
	}
}

func TestNewStoreFileSystem(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(context.Background(), config.ArtifactsConfig{Type: "fs", DataDir: dir})
	require.NoError(t, err)

	fs, ok := s.(*FileStore)
	require.True(t, ok, "got %T", s)
	assert.Equal(t, filepath.Join(dir, "artifacts"), fs.baseDir)
	_, err = os.Stat(fs.baseDir)
	assert.NoError(t, err)
}

func TestNewStoreS3(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	_, err := NewStore(context.Background(), config.ArtifactsConfig{Type: "s3", S3Region: "us-east-1"})
	assert.Error(t, err, "bucket is required")

	s, err := NewStore(context.Background(), config.ArtifactsConfig{
		Type:       "s3",
		S3Bucket:   "valor-packs",
		S3Region:   "us-east-1",
		S3Endpoint: "http://localhost:4566",
		S3Prefix:   "packs/",
	})
	require.NoError(t, err)
	s3s, ok := s.(*S3Store)
	require.True(t, ok, "got %T", s)
	assert.Equal(t, "valor-packs", s3s.bucket)

	key, err := s3s.key(Digest([]byte("x")))
	require.NoError(t, err)
	assert.Regexp(t, `^packs/[0-9a-f]{64}\.blob$`, key)
}

func TestNewStoreUnknownType(t *testing.T) {
	_, err := NewStore(context.Background(), config.ArtifactsConfig{Type: "tape"})
	assert.Error(t, err)
}
