package events

// Event type constants for kelindar/event.
const (
	TypeDeviceDiscovery uint32 = iota + 1
	TypeDeviceFormatChanged
	TypePipelineStateChanged
	TypeStreamCreated
	TypeStreamRemoved
	TypeStreamDegraded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceDiscoveryEvent represents a device hotplug event.
type DeviceDiscoveryEvent struct {
	DeviceID   string `json:"device_id"`
	DevicePath string `json:"device_path"`
	DeviceName string `json:"device_name"`
	Action     string `json:"action"` // "added" or "removed"
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// DeviceFormatChangedEvent represents a selected-format change on a device.
type DeviceFormatChangedEvent struct {
	DeviceID  string `json:"device_id"`
	Format    string `json:"format"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for DeviceFormatChangedEvent.
func (e DeviceFormatChangedEvent) Type() uint32 { return TypeDeviceFormatChanged }

// PipelineStateChangedEvent represents a pipeline lifecycle transition.
// Discovery and metrics react to these.
type PipelineStateChangedEvent struct {
	Stream     string `json:"stream"`
	DeviceID   string `json:"device_id"`
	OldState   string `json:"old_state"`
	NewState   string `json:"new_state"`
	Reason     string `json:"reason,omitempty"` // error code when NewState is "error"
	Endpoint   string `json:"endpoint,omitempty"`
	Codec      string `json:"codec,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for PipelineStateChangedEvent.
func (e PipelineStateChangedEvent) Type() uint32 { return TypePipelineStateChanged }

// StreamCreatedEvent represents a new logical stream registration.
type StreamCreatedEvent struct {
	Stream    string `json:"stream"`
	DeviceID  string `json:"device_id"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamCreatedEvent.
func (e StreamCreatedEvent) Type() uint32 { return TypeStreamCreated }

// StreamRemovedEvent represents a logical stream removal.
type StreamRemovedEvent struct {
	Stream    string `json:"stream"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamRemovedEvent.
func (e StreamRemovedEvent) Type() uint32 { return TypeStreamRemoved }

// StreamDegradedEvent fires when the supervisor exhausts automatic
// recovery for a stream.
type StreamDegradedEvent struct {
	Stream    string `json:"stream"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamDegradedEvent.
func (e StreamDegradedEvent) Type() uint32 { return TypeStreamDegraded }
