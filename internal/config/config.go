package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for camarc.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Capture    CaptureConfig    `toml:"capture"`
	Source     SourceConfig     `toml:"source"`
	Devices    []DeviceConfig   `toml:"devices"`
	PhotoStore PhotoStoreConfig `toml:"photo_store"`
	Database   DatabaseConfig   `toml:"database"`
	Archive    ArchiveConfig    `toml:"archive"`
	Encryption EncryptionConfig `toml:"encryption"`
	Server     ServerConfig     `toml:"server"`
}

// CaptureConfig controls how frames become photos.
type CaptureConfig struct {
	Frequency   int    `toml:"frequency"`    // keep every Nth frame
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	QueueSize   int    `toml:"queue_size"`   // bounded ingestion queue capacity
	Overflow    string `toml:"overflow"`     // "drop-oldest" (default) or "block"
	JPEGQuality int    `toml:"jpeg_quality"` // 1..100
}

// SourceConfig selects the frame source.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SourceConfig struct {
	Type string `toml:"type"` // "rtsp" or "file"

	// RTSP-specific fields (only used when Type == "rtsp").
	// RTSPURL wins over a directory lookup of Device.
	Device           string `toml:"device,omitempty"`
	VerificationCode string `toml:"verification_code,omitempty"`
	RTSPURL          string `toml:"rtsp_url,omitempty"`
	LatencyMS        int    `toml:"latency_ms,omitempty"`

	// File-specific fields (only used when Type == "file")
	FilePath   string `toml:"file_path,omitempty"`
	IntervalMS int    `toml:"interval_ms,omitempty"`
	Loop       bool   `toml:"loop,omitempty"`
}

// DeviceConfig is a camera entry in the static directory.
type DeviceConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
}

// PhotoStoreConfig represents configuration for a photo store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PhotoStoreConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// DatabaseConfig represents configuration for the index database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ArchiveConfig controls archive building.
type ArchiveConfig struct {
	WorkDir              string `toml:"work_dir"`
	OnFetchError         string `toml:"on_fetch_error"`         // "abort" (default) or "skip"
	MaxConcurrentFetches int    `toml:"max_concurrent_fetches"` // 0 = one per photo
	Encrypt              bool   `toml:"encrypt"`
}

// EncryptionConfig holds paths to the age key pair used for archives.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Listen       string `toml:"listen"`
	PreviewLimit int    `toml:"preview_limit"`
}

// NewConfig creates a Config with the provided values and defaults for
// everything else.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Capture: CaptureConfig{
			Frequency:   30,
			Width:       1280,
			Height:      720,
			QueueSize:   8,
			Overflow:    "drop-oldest",
			JPEGQuality: 90,
		},
		Source: SourceConfig{
			Type:      "rtsp",
			LatencyMS: 200,
		},
		PhotoStore: PhotoStoreConfig{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(baseDir, "photos"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Archive: ArchiveConfig{
			WorkDir:      filepath.Join(baseDir, "archives"),
			OnFetchError: "abort",
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "camarc.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "camarc.key"),
		},
		Server: ServerConfig{
			Listen:       "127.0.0.1:8420",
			PreviewLimit: 10,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
