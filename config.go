package peerwire

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/peerwire/internal/peerconn"
	"github.com/juju/ratelimit"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config for peer connections and the metadata exchange.
type Config struct {
	// Connection is closed if no bytes are received from the peer in this duration.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// Keep-alive messages are sent at half of this period when there is nothing else to send.
	KeepAlivePeriod time.Duration `yaml:"keep_alive_period"`
	// Max number of bytes read from the socket at once.
	ReadBufferSize int `yaml:"read_buffer_size"`
	// Download speed limit in KiB/s. Zero means unlimited.
	SpeedLimitDownload int64 `yaml:"speed_limit_download"`
	// Upload speed limit in KiB/s. Zero means unlimited.
	SpeedLimitUpload int64 `yaml:"speed_limit_upload"`
	// Number of outstanding metadata request messages to keep per peer.
	MetadataRequestQueueLength int `yaml:"metadata_request_queue_length"`
	// Database file to keep downloaded info dictionaries.
	InfoDatabase string `yaml:"info_database"`
	// Client name sent in the extension handshake.
	ClientVersion string `yaml:"client_version"`
}

// DefaultConfig for connections.
var DefaultConfig = Config{
	ReadTimeout:                peerconn.DefaultOptions.ReadTimeout,
	KeepAlivePeriod:            peerconn.DefaultOptions.KeepAlivePeriod,
	ReadBufferSize:             peerconn.DefaultOptions.ReadBufferSize,
	MetadataRequestQueueLength: 2,
	InfoDatabase:               "~/.peerwire/info.db",
	ClientVersion:              "peerwire",
}

// LoadConfig reads the YAML file at filename on top of DefaultConfig.
// A missing file is not an error.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes the config to filename in YAML format.
func (c *Config) Save(filename string) error {
	filename, err := homedir.Expand(filename)
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(filename), 0o750)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, b, 0o640)
}

// InfoDatabasePath returns the path of the info database with home directory expanded.
func (c *Config) InfoDatabasePath() (string, error) {
	return homedir.Expand(c.InfoDatabase)
}

// ConnOptions converts c to options of a peer connection.
// A new pair of rate limiting buckets is created on every call.
func (c *Config) ConnOptions() peerconn.Options {
	return peerconn.Options{
		ReadTimeout:     c.ReadTimeout,
		KeepAlivePeriod: c.KeepAlivePeriod,
		ReadBufferSize:  c.ReadBufferSize,
		DownloadBucket:  newBucket(c.SpeedLimitDownload),
		UploadBucket:    newBucket(c.SpeedLimitUpload),
	}
}

func newBucket(kibps int64) *ratelimit.Bucket {
	if kibps <= 0 {
		return nil
	}
	rate := float64(kibps * 1024)
	return ratelimit.NewBucketWithRate(rate, kibps*1024)
}
