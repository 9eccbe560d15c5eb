package link

import (
	"encoding/json"
	"fmt"

	"github.com/smazurov/camlink/internal/bridge"
)

// Request type tags carried in the envelope's "type" field.
const (
	TypeCameraInformation      = "camera_information"
	TypeVideoStreamInformation = "video_stream_information"
	TypeVideoStreamStatus      = "video_stream_status"
	TypeSetCameraSettings      = "set_camera_settings"
	TypeStartVideoStreaming    = "start_video_streaming"
	TypeStopVideoStreaming     = "stop_video_streaming"
	TypeResetCameraSettings    = "reset_camera_settings"
)

// envelope is the wire shape of one request.
type envelope struct {
	Type     string `json:"type"`
	Sequence uint32 `json:"sequence"`
	DeviceID string `json:"device_id,omitempty"`
	Stream   string `json:"stream,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	Width    uint32 `json:"width,omitempty"`
	Height   uint32 `json:"height,omitempty"`
	FPS      uint32 `json:"fps,omitempty"`
}

// unknownRequest stands in for a well-formed envelope whose type tag is
// not recognized; the bridge answers it with an Unsupported result.
type unknownRequest struct {
	sequence uint32
}

func (m unknownRequest) Seq() uint32 { return m.sequence }

// DecodeRequest parses a request envelope into its bridge message. A
// JSON-level failure returns an error (the message is dropped); an
// unrecognized type tag returns an unknownRequest so the peer still
// gets an answer.
func DecodeRequest(data []byte) (bridge.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed request envelope: %w", err)
	}

	switch env.Type {
	case TypeCameraInformation:
		return bridge.CameraInformationRequest{Sequence: env.Sequence, DeviceID: env.DeviceID}, nil
	case TypeVideoStreamInformation:
		return bridge.VideoStreamInformationRequest{Sequence: env.Sequence, Stream: env.Stream}, nil
	case TypeVideoStreamStatus:
		return bridge.VideoStreamStatusRequest{Sequence: env.Sequence, Stream: env.Stream}, nil
	case TypeSetCameraSettings:
		return bridge.SetCameraSettingsRequest{
			Sequence: env.Sequence, DeviceID: env.DeviceID,
			Encoding: env.Encoding, Width: env.Width, Height: env.Height, FPS: env.FPS,
		}, nil
	case TypeStartVideoStreaming:
		return bridge.StartVideoStreamingRequest{
			Sequence: env.Sequence, DeviceID: env.DeviceID, Stream: env.Stream,
			Encoding: env.Encoding, Width: env.Width, Height: env.Height, FPS: env.FPS,
		}, nil
	case TypeStopVideoStreaming:
		return bridge.StopVideoStreamingRequest{Sequence: env.Sequence, Stream: env.Stream}, nil
	case TypeResetCameraSettings:
		return bridge.ResetCameraSettingsRequest{Sequence: env.Sequence, DeviceID: env.DeviceID}, nil
	default:
		return unknownRequest{sequence: env.Sequence}, nil
	}
}

// EncodeResponse serializes a bridge response for the wire.
func EncodeResponse(response bridge.Response) ([]byte, error) {
	return json.Marshal(response)
}
