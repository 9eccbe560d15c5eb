package streams

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/events"
)

type staticSource struct {
	devices []devices.Device
}

func (s *staticSource) List() ([]devices.Device, error) { return s.devices, nil }

func (s *staticSource) Watch(ctx context.Context) (<-chan devices.Event, error) {
	ch := make(chan devices.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func runDeviceRegistry(t *testing.T, devs ...devices.Device) *devices.Registry {
	t.Helper()
	registry := devices.NewRegistry(&staticSource{devices: devs}, events.New())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go registry.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(registry.List()) == len(devs) {
			return registry
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("device registry did not finish initial scan")
	return nil
}

func TestLoadDefaultsMissingFile(t *testing.T) {
	config, err := LoadDefaults(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadDefaults() error = %v", err)
	}
	if len(config.Streams) != 0 {
		t.Errorf("streams = %d, want 0", len(config.Streams))
	}
}

func TestLoadDefaultsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.toml")
	if err := os.WriteFile(path, []byte("version = [not toml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDefaults(path); !IsCode(err, ErrCodeConfigError) {
		t.Errorf("error = %v, want CONFIG_ERROR", err)
	}
}

func TestDefaultsApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.toml")
	content := `version = 1

[[streams]]
device = "cam0"
encoding = "h264"
width = 1920
height = 1080
fps = 30
enabled = true

[[streams]]
name = "aux"
device = "ghost"
encoding = "mjpg"
width = 640
height = 480
enabled = true

[[streams]]
device = "cam0"
encoding = "h264"
width = 1920
height = 1080
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("LoadDefaults() error = %v", err)
	}
	if len(config.Streams) != 3 {
		t.Fatalf("streams = %d, want 3", len(config.Streams))
	}

	deviceRegistry := runDeviceRegistry(t, devices.Device{
		ID: "cam0", Path: "/dev/video0", Name: "Cam", Status: devices.StatusAvailable,
		Formats: []devices.Format{{
			Encoding: devices.EncodingH264, Width: 1920, Height: 1080,
			Interval: devices.FrameInterval{Numerator: 1, Denominator: 30},
		}},
	})

	registry := NewRegistry(&fakeController{}, events.New())
	config.Apply(context.Background(), registry, deviceRegistry)

	// The ghost-device entry is skipped, the disabled one ignored; only
	// the cam0 stream starts, under its derived name.
	streams := registry.List()
	if len(streams) != 1 {
		t.Fatalf("List() = %d streams, want 1", len(streams))
	}
	if streams[0].Name != "cam0/h264-1080p" {
		t.Errorf("name = %q, want cam0/h264-1080p", streams[0].Name)
	}
}
