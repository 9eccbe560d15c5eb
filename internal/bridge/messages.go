// Package bridge translates decoded vehicle control-link camera
// protocol requests into registry and pipeline operations. Wire
// framing and link transport live outside this package; it consumes
// and produces decoded message structs.
package bridge

// Result is the outcome code carried by every response.
type Result string

// Result codes.
const (
	ResultAccepted    Result = "accepted"
	ResultDenied      Result = "denied"
	ResultFailed      Result = "failed"
	ResultUnsupported Result = "unsupported"
)

// Message is any decoded inbound request. Every request carries the
// sequence number its response must echo.
type Message interface {
	Seq() uint32
}

// CameraInformationRequest asks for a device's identity and
// capability summary.
type CameraInformationRequest struct {
	Sequence uint32
	DeviceID string
}

func (m CameraInformationRequest) Seq() uint32 { return m.Sequence }

// VideoStreamInformationRequest asks for a stream's format and endpoint.
type VideoStreamInformationRequest struct {
	Sequence uint32
	Stream   string
}

func (m VideoStreamInformationRequest) Seq() uint32 { return m.Sequence }

// VideoStreamStatusRequest asks for a stream's lifecycle state.
type VideoStreamStatusRequest struct {
	Sequence uint32
	Stream   string
}

func (m VideoStreamStatusRequest) Seq() uint32 { return m.Sequence }

// SetCameraSettingsRequest selects a capture format on an idle device.
type SetCameraSettingsRequest struct {
	Sequence uint32
	DeviceID string
	Encoding string
	Width    uint32
	Height   uint32
	FPS      uint32
}

func (m SetCameraSettingsRequest) Seq() uint32 { return m.Sequence }

// StartVideoStreamingRequest starts a stream on a device. Stream is
// optional; when empty the name is derived from the device and format.
type StartVideoStreamingRequest struct {
	Sequence uint32
	DeviceID string
	Stream   string
	Encoding string
	Width    uint32
	Height   uint32
	FPS      uint32
}

func (m StartVideoStreamingRequest) Seq() uint32 { return m.Sequence }

// StopVideoStreamingRequest stops a stream by name.
type StopVideoStreamingRequest struct {
	Sequence uint32
	Stream   string
}

func (m StopVideoStreamingRequest) Seq() uint32 { return m.Sequence }

// ResetCameraSettingsRequest restores a device's default format.
type ResetCameraSettingsRequest struct {
	Sequence uint32
	DeviceID string
}

func (m ResetCameraSettingsRequest) Seq() uint32 { return m.Sequence }

// CameraInformation is the payload answering CameraInformationRequest.
type CameraInformation struct {
	DeviceID   string   `json:"device_id"`
	Name       string   `json:"name"`
	Driver     string   `json:"driver"`
	Formats    []string `json:"formats"`
	StreamsMax int      `json:"streams_max"`
}

// VideoStreamInformation is the payload answering
// VideoStreamInformationRequest.
type VideoStreamInformation struct {
	Stream     string  `json:"stream"`
	DeviceID   string  `json:"device_id"`
	Codec      string  `json:"codec"`
	Resolution string  `json:"resolution"`
	FPS        float64 `json:"fps"`
	Endpoint   string  `json:"endpoint"`
}

// VideoStreamStatus is the payload answering VideoStreamStatusRequest.
type VideoStreamStatus struct {
	Stream   string `json:"stream"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Degraded bool   `json:"degraded"`
	Restarts int    `json:"restarts"`
}

// Response is the decoded outbound message for one request. Payload is
// nil for plain acknowledgements and one of the payload structs above
// for queries. ErrorCode carries the domain error code on non-accepted
// results.
type Response struct {
	Sequence  uint32 `json:"sequence"`
	Result    Result `json:"result"`
	ErrorCode string `json:"error_code,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Responder delivers responses back to a peer over the control link.
type Responder interface {
	Send(peer string, response Response) error
}
