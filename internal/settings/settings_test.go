package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_LoadReadsFileKeyedBySHA256OfIdentity(t *testing.T) {
	dir := t.TempDir()
	identity := "marketpulse.resilience"
	sum := sha256.Sum256([]byte(identity))
	path := filepath.Join(dir, hex.EncodeToString(sum[:])+".json")

	require.NoError(t, os.WriteFile(path, []byte(`{"shock_timeout_ms":900,"bucket_volume_size":75.5}`), 0o600))

	r := NewReader(dir)
	got, err := r.Load(identity)
	require.NoError(t, err)
	assert.Equal(t, int64(900), got.ShockTimeoutMS)
	assert.InDelta(t, 75.5, got.BucketVolumeSize, 1e-9)
}

func TestReader_LoadMissingFileReturnsError(t *testing.T) {
	r := NewReader(t.TempDir())
	_, err := r.Load("unknown.plugin")
	assert.Error(t, err)
}
