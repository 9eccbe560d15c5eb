package devices

import "fmt"

// Status describes a capture device's availability.
type Status string

// Device statuses.
const (
	StatusAvailable    Status = "available"
	StatusBusy         Status = "busy"
	StatusDisconnected Status = "disconnected"
)

// Encoding is the pixel encoding of a capture format.
type Encoding string

// Known encodings. Anything else enumerated from the hardware is kept
// verbatim as a lowercase fourcc.
const (
	EncodingH264 Encoding = "h264"
	EncodingH265 Encoding = "h265"
	EncodingMJPG Encoding = "mjpg"
	EncodingYUYV Encoding = "yuyv"
)

// FrameInterval is a frame duration as a fraction, matching how V4L2
// reports intervals. 1/30 means 30 fps.
type FrameInterval struct {
	Numerator   uint32 `json:"numerator"`
	Denominator uint32 `json:"denominator"`
}

// FPS returns the interval expressed as frames per second.
func (fi FrameInterval) FPS() float64 {
	if fi.Numerator == 0 {
		return 0
	}
	return float64(fi.Denominator) / float64(fi.Numerator)
}

func (fi FrameInterval) String() string {
	return fmt.Sprintf("%d/%d", fi.Numerator, fi.Denominator)
}

// Format is one entry of a device's capability set:
// encoding x width x height x frame interval.
type Format struct {
	Encoding Encoding      `json:"encoding"`
	Width    uint32        `json:"width"`
	Height   uint32        `json:"height"`
	Interval FrameInterval `json:"interval"`
}

// Resolution returns the "WxH" form.
func (f Format) Resolution() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Tag returns the short path segment used in stream endpoints,
// e.g. "h264-1080p" for H264 1920x1080.
func (f Format) Tag() string {
	return fmt.Sprintf("%s-%dp", f.Encoding, f.Height)
}

func (f Format) String() string {
	return fmt.Sprintf("%s %s @%.5gfps", f.Encoding, f.Resolution(), f.Interval.FPS())
}

// Device is a capture device known to the registry.
type Device struct {
	ID      string   `json:"device_id"`   // stable id (by-id symlink or bus info)
	Path    string   `json:"device_path"` // /dev/videoN
	Name    string   `json:"device_name"` // card name from the driver
	Driver  string   `json:"driver"`
	Formats []Format `json:"formats"`
	// Selected is the currently configured format, nil until a
	// controller or the default policy picks one.
	Selected *Format `json:"selected,omitempty"`
	Status   Status  `json:"status"`
}

// TagFor returns the endpoint path segment for f, disambiguated
// against the rest of the capability set. When another entry shares
// the base "<encoding>-<height>p" tag the resolution is folded in,
// and the frame rate too when entries share a resolution.
func (d *Device) TagFor(f Format) string {
	tag := f.Tag()
	clash := false
	for _, other := range d.Formats {
		if other != f && other.Tag() == tag {
			clash = true
			break
		}
	}
	if !clash {
		return tag
	}
	tag = fmt.Sprintf("%s-%s", f.Encoding, f.Resolution())
	for _, other := range d.Formats {
		if other != f && other.Encoding == f.Encoding &&
			other.Width == f.Width && other.Height == f.Height {
			return fmt.Sprintf("%s-%gfps", tag, f.Interval.FPS())
		}
	}
	return tag
}

// Supports reports whether f is in the device's capability set.
func (d *Device) Supports(f Format) bool {
	for _, known := range d.Formats {
		if known == f {
			return true
		}
	}
	return false
}

// DefaultFormat returns the first enumerated format, the fallback used
// by ResetCameraSettings. Second return is false for a device with no
// capability entries.
func (d *Device) DefaultFormat() (Format, bool) {
	if len(d.Formats) == 0 {
		return Format{}, false
	}
	return d.Formats[0], true
}

// clone returns a deep copy safe to hand out as a snapshot.
func (d *Device) clone() Device {
	out := *d
	out.Formats = append([]Format(nil), d.Formats...)
	if d.Selected != nil {
		sel := *d.Selected
		out.Selected = &sel
	}
	return out
}
