package devices

import "context"

// sanitizeID maps a raw hardware identifier onto the character set
// stream names allow, so ids like "usb-0000:00:14.0-4-video0" stay
// usable as endpoint path segments. Offending runes become dashes.
func sanitizeID(raw string) string {
	out := []rune(raw)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			out[i] = '-'
		}
	}
	return string(out)
}

// EventAction is the kind of hotplug event.
type EventAction string

// Hotplug actions.
const (
	ActionAdded   EventAction = "added"
	ActionRemoved EventAction = "removed"
)

// Event is a hotplug notification from a Source.
type Event struct {
	Action EventAction
	Device Device
}

// Source enumerates capture devices and reports hotplug events.
// The production implementation sits on V4L2 and udev; tests use fakes.
type Source interface {
	// List returns all currently attached capture devices with their
	// capability sets.
	List() ([]Device, error)

	// Watch returns a channel of hotplug events. The channel closes
	// when ctx is cancelled.
	Watch(ctx context.Context) (<-chan Event, error)
}
