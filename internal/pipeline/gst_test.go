package pipeline

import (
	"strings"
	"testing"

	"github.com/smazurov/camlink/internal/devices"
)

func gstSpec(f devices.Format) Spec {
	return Spec{
		Stream:     "cam0/test",
		DeviceID:   "cam0",
		DevicePath: "/dev/video0",
		Format:     f,
		Endpoint:   Endpoint{Host: "127.0.0.1", Port: 8554, Path: "/cam0/test"},
	}
}

func TestLaunchDescriptionPassthrough(t *testing.T) {
	desc, err := launchDescription(gstSpec(devices.Format{
		Encoding: devices.EncodingH264, Width: 1920, Height: 1080,
		Interval: devices.FrameInterval{Numerator: 1, Denominator: 30},
	}))
	if err != nil {
		t.Fatalf("launchDescription() error = %v", err)
	}

	for _, want := range []string{
		"v4l2src device=/dev/video0",
		"video/x-h264,width=1920,height=1080,framerate=30/1",
		"h264parse",
		"rtspclientsink location=rtsp://127.0.0.1:8554/cam0/test",
	} {
		if !strings.Contains(desc, want) {
			t.Errorf("description missing %q:\n%s", want, desc)
		}
	}
	if strings.Contains(desc, "x264enc") {
		t.Error("hardware H264 capture must not be transcoded")
	}
}

func TestLaunchDescriptionTranscodesRaw(t *testing.T) {
	desc, err := launchDescription(gstSpec(devices.Format{
		Encoding: devices.EncodingYUYV, Width: 640, Height: 480,
		Interval: devices.FrameInterval{Numerator: 1, Denominator: 15},
	}))
	if err != nil {
		t.Fatalf("launchDescription() error = %v", err)
	}
	for _, want := range []string{"video/x-raw,format=YUY2", "videoconvert", "x264enc", "framerate=15/1"} {
		if !strings.Contains(desc, want) {
			t.Errorf("description missing %q:\n%s", want, desc)
		}
	}
}

func TestLaunchDescriptionDecodesMJPEG(t *testing.T) {
	desc, err := launchDescription(gstSpec(devices.Format{
		Encoding: devices.EncodingMJPG, Width: 1280, Height: 720,
		Interval: devices.FrameInterval{Numerator: 1, Denominator: 30},
	}))
	if err != nil {
		t.Fatalf("launchDescription() error = %v", err)
	}
	for _, want := range []string{"image/jpeg", "jpegdec", "x264enc"} {
		if !strings.Contains(desc, want) {
			t.Errorf("description missing %q:\n%s", want, desc)
		}
	}
}

func TestLaunchDescriptionRejectsZeroInterval(t *testing.T) {
	_, err := launchDescription(gstSpec(devices.Format{
		Encoding: devices.EncodingH264, Width: 1920, Height: 1080,
	}))
	if !IsCode(err, ErrCodeFormatNegotiation) {
		t.Errorf("error = %v, want FORMAT_NEGOTIATION_FAILED", err)
	}
}
