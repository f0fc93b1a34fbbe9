package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite(t *testing.T) {
	original := NewConfig("test-host-abc", "/home/user/.local/share/camarc")
	original.Devices = []DeviceConfig{{Name: "porch", Address: "10.0.0.7"}}
	original.PhotoStore = PhotoStoreConfig{Type: "s3", Name: "remote", S3Bucket: "photos", S3Region: "us-east-1"}
	original.Archive.Encrypt = true

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Capture != original.Capture {
		t.Errorf("Capture = %+v, want %+v", got.Capture, original.Capture)
	}
	if len(got.Devices) != 1 || got.Devices[0] != original.Devices[0] {
		t.Errorf("Devices = %+v, want %+v", got.Devices, original.Devices)
	}
	if got.PhotoStore != original.PhotoStore {
		t.Errorf("PhotoStore = %+v, want %+v", got.PhotoStore, original.PhotoStore)
	}
	if !got.Archive.Encrypt {
		t.Error("Archive.Encrypt = false, want true")
	}
}

func TestManager_Read(t *testing.T) {
	input := `
host_id = "cam-host"
base_dir = "/srv/camarc"

[capture]
frequency = 15
overflow = "block"

[source]
type = "file"
file_path = "/tmp/frames.i420"
loop = true

[[devices]]
name = "garage"
address = "192.168.1.20"

[[devices]]
name = "porch"
address = "192.168.1.21"

[archive]
on_fetch_error = "skip"
max_concurrent_fetches = 4
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.Capture.Frequency != 15 || cfg.Capture.Overflow != "block" {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if cfg.Source.Type != "file" || !cfg.Source.Loop || cfg.Source.FilePath != "/tmp/frames.i420" {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if len(cfg.Devices) != 2 || cfg.Devices[1].Name != "porch" {
		t.Errorf("Devices = %+v", cfg.Devices)
	}
	if cfg.Archive.OnFetchError != "skip" || cfg.Archive.MaxConcurrentFetches != 4 {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
}

func TestManager_Read_Invalid(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(strings.NewReader("host_id = ")); err == nil {
		t.Error("Read() expected error for malformed TOML")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/camarc")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"HostID", cfg.HostID, "host-1"},
		{"LogDir", cfg.LogDir, "/data/camarc/log"},
		{"PublicKeyPath", cfg.Encryption.PublicKeyPath, "/data/camarc/keys/camarc.pub"},
		{"PrivateKeyPath", cfg.Encryption.PrivateKeyPath, "/data/camarc/keys/camarc.key"},
		{"FSRoot", cfg.PhotoStore.FSRoot, "/data/camarc/photos"},
		{"DataDir", cfg.Database.DataDir, "/data/camarc/db"},
		{"WorkDir", cfg.Archive.WorkDir, "/data/camarc/archives"},
		{"Overflow", cfg.Capture.Overflow, "drop-oldest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}

	if cfg.Capture.QueueSize != 8 {
		t.Errorf("Capture.QueueSize = %d, want 8", cfg.Capture.QueueSize)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "camarc.toml")

		if err := Init(path, NewConfig("h1", dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "camarc.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "camarc.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/camarc.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
