//go:build linux && cgo

package devices

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jochenvg/go-udev"

	"github.com/smazurov/camlink/internal/logging"
)

// v4l2Source is the production Source: V4L2 ioctls for enumeration and
// a udev netlink monitor for hotplug.
type v4l2Source struct {
	logger *slog.Logger
	known  map[string]Device // last scan, keyed by device id
}

// NewSource returns the platform capture-device source.
func NewSource() Source {
	return &v4l2Source{
		logger: logging.GetLogger("devices"),
		known:  make(map[string]Device),
	}
}

// List enumerates all V4L2 capture devices with capability sets.
func (s *v4l2Source) List() ([]Device, error) {
	entries, err := os.ReadDir("/sys/class/video4linux")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading video4linux sysfs: %w", err)
	}

	var devices []Device
	for _, entry := range entries {
		dev, ok, err := probeDevice(entry.Name())
		if err != nil {
			s.logger.Debug("Skipping video node", "node", entry.Name(), "error", err)
			continue
		}
		if ok {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

// Watch starts a udev monitor for USB events. Each event triggers a
// rescan; the diff against the previous scan becomes Added/Removed
// events. The rescan-and-diff keeps the event stream consistent even
// when udev and sysfs briefly disagree during enumeration.
func (s *v4l2Source) Watch(ctx context.Context) (<-chan Event, error) {
	initial, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, dev := range initial {
		s.known[dev.ID] = dev
	}

	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if mon == nil {
		return nil, fmt.Errorf("failed to create udev monitor")
	}
	mon.FilterAddMatchSubsystemDevtype("usb", "usb_device")

	deviceCh, errCh, err := mon.DeviceChan(ctx)
	if err != nil {
		return nil, fmt.Errorf("udev device channel: %w", err)
	}

	out := make(chan Event, 16)

	go func() {
		for err := range errCh {
			s.logger.Warn("Udev monitor error", "error", err)
		}
	}()

	go func() {
		defer close(out)
		s.logger.Info("Hotplug monitoring started")
		for {
			select {
			case <-ctx.Done():
				return
			case dev, ok := <-deviceCh:
				if !ok {
					return
				}
				action := dev.Action()
				if action != "add" && action != "remove" {
					continue
				}
				// Give the kernel time to enumerate V4L2 nodes after
				// a USB add before rescanning.
				if action == "add" {
					time.Sleep(time.Second)
				}
				s.rescan(ctx, out)
			}
		}
	}()

	return out, nil
}

// rescan diffs the current device set against the previous one and
// emits Added/Removed events.
func (s *v4l2Source) rescan(ctx context.Context, out chan<- Event) {
	current, err := s.List()
	if err != nil {
		s.logger.Warn("Device rescan failed", "error", err)
		return
	}

	currentByID := make(map[string]Device, len(current))
	for _, dev := range current {
		currentByID[dev.ID] = dev
	}

	for id, dev := range currentByID {
		if _, existed := s.known[id]; !existed {
			select {
			case out <- Event{Action: ActionAdded, Device: dev}:
			case <-ctx.Done():
				return
			}
		}
	}
	for id, dev := range s.known {
		if _, still := currentByID[id]; !still {
			select {
			case out <- Event{Action: ActionRemoved, Device: dev}:
			case <-ctx.Done():
				return
			}
		}
	}

	s.known = currentByID
}
