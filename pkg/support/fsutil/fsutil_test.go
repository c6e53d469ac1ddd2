package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, MustFileExists(filepath.Join(dir, "missing.json")))
}

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "models"), MustReplaceTildeInDir("~/models"))
	assert.Equal(t, usr.HomeDir, MustReplaceTildeInDir("~"))
	assert.Equal(t, "/tmp/x", MustReplaceTildeInDir("/tmp/x"))
	assert.Equal(t, "", MustReplaceTildeInDir(""))
}

func TestValidateChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	contents := []byte(`{"vocab_size": 3}`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))
	sum := sha256.Sum256(contents)
	require.NoError(t, ValidateChecksum(path, hex.EncodeToString(sum[:])))

	require.Error(t, ValidateChecksum(path, "00"))
	assert.False(t, MustFileExists(path), "a file failing the checksum is removed")
}
