package peerwire

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoadSave(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "sub", "config.yaml")

	// Test new config
	c, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, *c)

	c.ReadTimeout = 5 * time.Second
	c.SpeedLimitDownload = 10
	require.NoError(t, c.Save(filename))

	// Test existing config
	c, err = LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.ReadTimeout)
	assert.Equal(t, int64(10), c.SpeedLimitDownload)
	assert.Equal(t, DefaultConfig.InfoDatabase, c.InfoDatabase)
}

func TestConfigPartial(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("read_buffer_size: 1024\n"), 0o600))
	c, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 1024, c.ReadBufferSize)
	assert.Equal(t, DefaultConfig.KeepAlivePeriod, c.KeepAlivePeriod)
}

func TestConfigInvalid(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("read_buffer_size: [1"), 0o600))
	_, err := LoadConfig(filename)
	assert.Error(t, err)
}

func TestConnOptions(t *testing.T) {
	c := DefaultConfig
	o := c.ConnOptions()
	assert.Nil(t, o.DownloadBucket)
	assert.Nil(t, o.UploadBucket)
	assert.Equal(t, c.ReadBufferSize, o.ReadBufferSize)

	c.SpeedLimitUpload = 4
	o = c.ConnOptions()
	assert.Nil(t, o.DownloadBucket)
	require.NotNil(t, o.UploadBucket)
	assert.Equal(t, int64(4096), o.UploadBucket.Capacity())
}
