package streams

import (
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/logging"
)

// DefaultStream is one entry of the startup stream policy.
type DefaultStream struct {
	Name     string `toml:"name,omitempty"` // optional; derived from device and format when empty
	Device   string `toml:"device"`
	Encoding string `toml:"encoding"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`
	FPS      uint32 `toml:"fps,omitempty"` // 0 picks the device's first matching rate
	Enabled  bool   `toml:"enabled"`
}

// DefaultsConfig is the on-disk shape of the streams policy file.
type DefaultsConfig struct {
	Version int             `toml:"version"`
	Streams []DefaultStream `toml:"streams"`
}

// LoadDefaults reads the startup stream policy. A missing file is an
// empty policy, not an error.
func LoadDefaults(path string) (*DefaultsConfig, error) {
	config := &DefaultsConfig{Version: 1}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(ErrCodeConfigError, "failed to read streams config", err)
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, NewError(ErrCodeConfigError, "failed to parse streams config", err)
	}
	if config.Version == 0 {
		config.Version = 1
	}
	return config, nil
}

// Apply starts every enabled default stream whose device is present.
// Missing devices and per-stream failures are logged and skipped; the
// remaining entries still start.
func (c *DefaultsConfig) Apply(ctx context.Context, registry *Registry, deviceRegistry *devices.Registry) {
	logger := logging.GetLogger("streams")

	for _, entry := range c.Streams {
		if !entry.Enabled {
			continue
		}

		dev, err := deviceRegistry.Get(entry.Device)
		if err != nil {
			logger.Warn("Default stream skipped, device not present",
				"device_id", entry.Device, "error", err)
			continue
		}

		format, ok := matchFormat(&dev, entry)
		if !ok {
			logger.Warn("Default stream skipped, no matching format",
				"device_id", entry.Device,
				"requested", fmt.Sprintf("%s %dx%d", entry.Encoding, entry.Width, entry.Height))
			continue
		}

		name := entry.Name
		if name == "" {
			name = entry.Device + "/" + dev.TagFor(format)
		}

		if _, err := registry.Create(ctx, name, entry.Device, format); err != nil {
			logger.Warn("Default stream failed to start",
				"stream", name, "device_id", entry.Device, "error", err)
			continue
		}
		logger.Info("Default stream started", "stream", name, "device_id", entry.Device)
	}
}

// matchFormat resolves a policy entry against the device's capability
// set. With FPS zero the first encoding/resolution match wins.
func matchFormat(dev *devices.Device, entry DefaultStream) (devices.Format, bool) {
	for _, f := range dev.Formats {
		if string(f.Encoding) != entry.Encoding {
			continue
		}
		if f.Width != entry.Width || f.Height != entry.Height {
			continue
		}
		if entry.FPS != 0 && uint32(f.Interval.FPS()) != entry.FPS {
			continue
		}
		return f, true
	}
	return devices.Format{}, false
}
