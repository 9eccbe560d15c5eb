package bridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/logging"
	"github.com/smazurov/camlink/internal/metrics"
	"github.com/smazurov/camlink/internal/pipeline"
	"github.com/smazurov/camlink/internal/streams"
)

// DeviceDirectory is the slice of the device registry the bridge reads
// and drives.
type DeviceDirectory interface {
	Get(id string) (devices.Device, error)
	SelectFormat(id string, format devices.Format) error
	ResetFormat(id string) error
}

// StreamDirectory is the slice of the stream registry the bridge
// drives.
type StreamDirectory interface {
	Create(ctx context.Context, name, deviceID string, format devices.Format) (streams.Descriptor, error)
	Remove(ctx context.Context, name string) error
	Resolve(name string) (streams.Descriptor, error)
	Status(name string) (pipeline.Status, error)
}

// Bridge translates control-link camera requests into operations on
// the registries. It holds no protocol state of its own beyond peer
// sessions; every handler reads or mutates the registries directly.
type Bridge struct {
	devices   DeviceDirectory
	streams   StreamDirectory
	responder Responder
	sessions  *sessionManager
	logger    *slog.Logger
}

// New creates a bridge delivering responses through the responder.
func New(deviceDir DeviceDirectory, streamDir StreamDirectory, responder Responder, config Config) *Bridge {
	b := &Bridge{
		devices:   deviceDir,
		streams:   streamDir,
		responder: responder,
		logger:    logging.GetLogger("bridge"),
	}
	b.sessions = newSessionManager(config, b.process)
	return b
}

// Run owns session lifecycle: it expires idle sessions until ctx is
// cancelled, then drains all workers.
func (b *Bridge) Run(ctx context.Context) {
	b.sessions.run(ctx)
}

// Handle enqueues a request for its peer's session. Requests from one
// peer are processed in arrival order; different peers proceed
// concurrently. A nil message is a decode failure upstream and is
// dropped without a response.
func (b *Bridge) Handle(peer string, msg Message) {
	if msg == nil {
		b.logger.Debug("Dropping undecodable message", "peer", peer)
		return
	}
	b.sessions.dispatch(peer, msg)
}

// process runs on a session worker goroutine.
func (b *Bridge) process(peer string, msg Message) {
	response := b.respond(msg)

	metrics.ProtocolRequestsTotal.WithLabelValues(messageName(msg), string(response.Result)).Inc()

	if err := b.responder.Send(peer, response); err != nil {
		b.logger.Warn("Failed to deliver response", "peer", peer, "seq", msg.Seq(), "error", err)
	}
}

func (b *Bridge) respond(msg Message) Response {
	switch m := msg.(type) {
	case CameraInformationRequest:
		return b.cameraInformation(m)
	case VideoStreamInformationRequest:
		return b.videoStreamInformation(m)
	case VideoStreamStatusRequest:
		return b.videoStreamStatus(m)
	case SetCameraSettingsRequest:
		return b.setCameraSettings(m)
	case StartVideoStreamingRequest:
		return b.startVideoStreaming(m)
	case StopVideoStreamingRequest:
		return b.stopVideoStreaming(m)
	case ResetCameraSettingsRequest:
		return b.resetCameraSettings(m)
	default:
		return Response{Sequence: msg.Seq(), Result: ResultUnsupported}
	}
}

func (b *Bridge) cameraInformation(m CameraInformationRequest) Response {
	dev, err := b.devices.Get(m.DeviceID)
	if err != nil {
		return errorResponse(m.Sequence, err)
	}

	formats := make([]string, 0, len(dev.Formats))
	for _, f := range dev.Formats {
		formats = append(formats, f.String())
	}
	return Response{
		Sequence: m.Sequence,
		Result:   ResultAccepted,
		Payload: CameraInformation{
			DeviceID:   dev.ID,
			Name:       dev.Name,
			Driver:     dev.Driver,
			Formats:    formats,
			StreamsMax: 1,
		},
	}
}

func (b *Bridge) videoStreamInformation(m VideoStreamInformationRequest) Response {
	desc, err := b.streams.Resolve(m.Stream)
	if err != nil {
		return errorResponse(m.Sequence, err)
	}
	return Response{
		Sequence: m.Sequence,
		Result:   ResultAccepted,
		Payload: VideoStreamInformation{
			Stream:     desc.Name,
			DeviceID:   desc.DeviceID,
			Codec:      string(desc.Format.Encoding),
			Resolution: desc.Format.Resolution(),
			FPS:        desc.Format.Interval.FPS(),
			Endpoint:   desc.Endpoint.URL(),
		},
	}
}

func (b *Bridge) videoStreamStatus(m VideoStreamStatusRequest) Response {
	status, err := b.streams.Status(m.Stream)
	if err != nil {
		return errorResponse(m.Sequence, err)
	}
	state := string(status.State)
	if status.Degraded {
		state = "degraded"
	}
	return Response{
		Sequence: m.Sequence,
		Result:   ResultAccepted,
		Payload: VideoStreamStatus{
			Stream:   status.Stream,
			State:    state,
			Reason:   status.Reason,
			Degraded: status.Degraded,
			Restarts: status.Restarts,
		},
	}
}

func (b *Bridge) setCameraSettings(m SetCameraSettingsRequest) Response {
	dev, err := b.devices.Get(m.DeviceID)
	if err != nil {
		return errorResponse(m.Sequence, err)
	}
	if dev.Status == devices.StatusBusy {
		return Response{Sequence: m.Sequence, Result: ResultDenied, ErrorCode: devices.ErrCodeBusy}
	}

	format, ok := resolveFormat(&dev, m.Encoding, m.Width, m.Height, m.FPS)
	if !ok {
		return Response{Sequence: m.Sequence, Result: ResultDenied, ErrorCode: devices.ErrCodeUnsupportedFormat}
	}
	if err := b.devices.SelectFormat(m.DeviceID, format); err != nil {
		return errorResponse(m.Sequence, err)
	}
	return Response{Sequence: m.Sequence, Result: ResultAccepted}
}

func (b *Bridge) startVideoStreaming(m StartVideoStreamingRequest) Response {
	dev, err := b.devices.Get(m.DeviceID)
	if err != nil {
		return errorResponse(m.Sequence, err)
	}

	format, ok := resolveFormat(&dev, m.Encoding, m.Width, m.Height, m.FPS)
	if !ok {
		// With no explicit format the device's selection or default is
		// used; an explicit one that the device lacks is denied.
		if m.Encoding != "" || m.Width != 0 || m.Height != 0 {
			return Response{Sequence: m.Sequence, Result: ResultDenied, ErrorCode: devices.ErrCodeUnsupportedFormat}
		}
		if dev.Selected != nil {
			format = *dev.Selected
		} else if format, ok = dev.DefaultFormat(); !ok {
			return Response{Sequence: m.Sequence, Result: ResultFailed, ErrorCode: devices.ErrCodeUnsupportedFormat}
		}
	}

	name := m.Stream
	if name == "" {
		name = m.DeviceID + "/" + dev.TagFor(format)
	}

	desc, err := b.streams.Create(context.Background(), name, m.DeviceID, format)
	if err != nil {
		return errorResponse(m.Sequence, err)
	}
	return Response{
		Sequence: m.Sequence,
		Result:   ResultAccepted,
		Payload: VideoStreamInformation{
			Stream:     desc.Name,
			DeviceID:   desc.DeviceID,
			Codec:      string(desc.Format.Encoding),
			Resolution: desc.Format.Resolution(),
			FPS:        desc.Format.Interval.FPS(),
			Endpoint:   desc.Endpoint.URL(),
		},
	}
}

func (b *Bridge) stopVideoStreaming(m StopVideoStreamingRequest) Response {
	if err := b.streams.Remove(context.Background(), m.Stream); err != nil {
		return errorResponse(m.Sequence, err)
	}
	return Response{Sequence: m.Sequence, Result: ResultAccepted}
}

func (b *Bridge) resetCameraSettings(m ResetCameraSettingsRequest) Response {
	dev, err := b.devices.Get(m.DeviceID)
	if err != nil {
		return errorResponse(m.Sequence, err)
	}
	if dev.Status == devices.StatusBusy {
		return Response{Sequence: m.Sequence, Result: ResultDenied, ErrorCode: devices.ErrCodeBusy}
	}
	if err := b.devices.ResetFormat(m.DeviceID); err != nil {
		return errorResponse(m.Sequence, err)
	}
	return Response{Sequence: m.Sequence, Result: ResultAccepted}
}

// resolveFormat matches an explicitly requested format against the
// device's capability set.
func resolveFormat(dev *devices.Device, encoding string, width, height, fps uint32) (devices.Format, bool) {
	if encoding == "" && width == 0 && height == 0 {
		return devices.Format{}, false
	}
	for _, f := range dev.Formats {
		if encoding != "" && string(f.Encoding) != encoding {
			continue
		}
		if width != 0 && f.Width != width {
			continue
		}
		if height != 0 && f.Height != height {
			continue
		}
		if fps != 0 && uint32(f.Interval.FPS()) != fps {
			continue
		}
		return f, true
	}
	return devices.Format{}, false
}

// errorResponse maps a domain error onto a result and error code.
// Validation rejections are denials; infrastructure problems are
// failures.
func errorResponse(seq uint32, err error) Response {
	for _, code := range []string{
		devices.ErrCodeNotFound,
		devices.ErrCodeBusy,
		devices.ErrCodeDisconnected,
		devices.ErrCodeUnsupportedFormat,
	} {
		if devices.IsCode(err, code) {
			return Response{Sequence: seq, Result: ResultDenied, ErrorCode: code}
		}
	}
	for _, code := range []string{
		streams.ErrCodeNotFound,
		streams.ErrCodeConflict,
		streams.ErrCodeInvalidName,
	} {
		if streams.IsCode(err, code) {
			return Response{Sequence: seq, Result: ResultDenied, ErrorCode: code}
		}
	}

	var pe *pipeline.PipelineError
	if errors.As(err, &pe) {
		return Response{Sequence: seq, Result: ResultFailed, ErrorCode: pe.Code}
	}
	return Response{Sequence: seq, Result: ResultFailed}
}

func messageName(msg Message) string {
	switch msg.(type) {
	case CameraInformationRequest:
		return "camera_information"
	case VideoStreamInformationRequest:
		return "video_stream_information"
	case VideoStreamStatusRequest:
		return "video_stream_status"
	case SetCameraSettingsRequest:
		return "set_camera_settings"
	case StartVideoStreamingRequest:
		return "start_video_streaming"
	case StopVideoStreamingRequest:
		return "stop_video_streaming"
	case ResetCameraSettingsRequest:
		return "reset_camera_settings"
	default:
		return "unknown"
	}
}
