//go:build linux

package devices

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl requests (64-bit layouts).
const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xc0405602
	vidiocEnumFramesizes     = 0xc02c564a
	vidiocEnumFrameintervals = 0xc034564b
)

const (
	bufTypeVideoCapture = 1

	capVideoCapture = 0x00000001
	capDeviceCaps   = 0x80000000

	frmsizeTypeDiscrete = 1
	frmivalTypeDiscrete = 1
)

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2FrmsizeDiscrete struct {
	width  uint32
	height uint32
}

// v4l2Frmsizeenum has size 44 bytes.
type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	discrete    v4l2FrmsizeDiscrete
	_           [16]byte // union padding for stepwise
	reserved    [2]uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2Frmivalenum has size 52 bytes.
type v4l2Frmivalenum struct {
	index       uint32
	pixelFormat uint32
	width       uint32
	height      uint32
	typ         uint32
	discrete    v4l2Fract
	_           [16]byte // union padding for stepwise
	reserved    [2]uint32
}

// Compile-time struct size assertions against kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2Frmivalenum{})]byte{}
)

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func fourcc(v uint32) string {
	return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// encodingFromFourcc maps V4L2 pixel formats onto the encodings the
// rest of the system understands. Unknown fourccs pass through
// lowercased so exotic hardware still enumerates.
func encodingFromFourcc(v uint32) Encoding {
	switch fourcc(v) {
	case "H264", "AVC1":
		return EncodingH264
	case "HEVC", "HVC1":
		return EncodingH265
	case "MJPG", "JPEG":
		return EncodingMJPG
	case "YUYV":
		return EncodingYUYV
	default:
		return Encoding(strings.ToLower(strings.TrimSpace(fourcc(v))))
	}
}

// probeDevice opens a V4L2 node and builds a Device with its full
// capability set, or returns false for non-capture nodes.
func probeDevice(nodeName string) (Device, bool, error) {
	devicePath := "/dev/" + nodeName

	fd, err := unix.Open(devicePath, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return Device{}, false, fmt.Errorf("open %s: %w", devicePath, err)
	}
	defer unix.Close(fd)

	var cap v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&cap)); err != nil {
		return Device{}, false, fmt.Errorf("querycap %s: %w", devicePath, err)
	}

	caps := cap.capabilities
	if caps&capDeviceCaps != 0 {
		caps = cap.deviceCaps
	}
	if caps&capVideoCapture == 0 {
		return Device{}, false, nil
	}

	dev := Device{
		ID:     stableDeviceID(nodeName, cstr(cap.busInfo[:])),
		Path:   devicePath,
		Name:   cstr(cap.card[:]),
		Driver: cstr(cap.driver[:]),
		Status: StatusAvailable,
	}

	formats, err := enumFormats(fd)
	if err != nil {
		return Device{}, false, err
	}
	dev.Formats = formats

	return dev, true, nil
}

// enumFormats walks ENUM_FMT x ENUM_FRAMESIZES x ENUM_FRAMEINTERVALS
// for discrete entries.
func enumFormats(fd int) ([]Format, error) {
	var formats []Format
	seen := make(map[Format]bool)

	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{index: i, typ: bufTypeVideoCapture}
		if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			return nil, fmt.Errorf("enum format %d: %w", i, err)
		}
		encoding := encodingFromFourcc(desc.pixelformat)

		for j := uint32(0); ; j++ {
			size := v4l2Frmsizeenum{index: j, pixelFormat: desc.pixelformat}
			if err := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&size)); err != nil {
				if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY) {
					break
				}
				return nil, fmt.Errorf("enum frame size %d: %w", j, err)
			}
			if size.typ != frmsizeTypeDiscrete {
				// Stepwise/continuous sensors report ranges; those are
				// not enumerable as a finite capability set.
				continue
			}

			intervals, err := enumIntervals(fd, desc.pixelformat, size.discrete.width, size.discrete.height)
			if err != nil {
				return nil, err
			}
			for _, interval := range intervals {
				f := Format{
					Encoding: encoding,
					Width:    size.discrete.width,
					Height:   size.discrete.height,
					Interval: interval,
				}
				if !seen[f] {
					seen[f] = true
					formats = append(formats, f)
				}
			}
		}
	}

	return formats, nil
}

func enumIntervals(fd int, pixelFormat, width, height uint32) ([]FrameInterval, error) {
	var intervals []FrameInterval

	for i := uint32(0); ; i++ {
		ival := v4l2Frmivalenum{
			index:       i,
			pixelFormat: pixelFormat,
			width:       width,
			height:      height,
		}
		if err := ioctl(fd, vidiocEnumFrameintervals, unsafe.Pointer(&ival)); err != nil {
			if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY) {
				break
			}
			return nil, fmt.Errorf("enum frame interval %d: %w", i, err)
		}
		if ival.typ != frmivalTypeDiscrete {
			continue
		}
		intervals = append(intervals, FrameInterval{
			Numerator:   ival.discrete.numerator,
			Denominator: ival.discrete.denominator,
		})
	}

	return intervals, nil
}

// stableDeviceID prefers the /dev/v4l/by-id symlink name so ids survive
// re-enumeration, falling back to bus info.
func stableDeviceID(nodeName, busInfo string) string {
	byIDDir := "/dev/v4l/by-id"
	entries, err := os.ReadDir(byIDDir)
	if err == nil {
		for _, entry := range entries {
			if entry.Type()&os.ModeSymlink == 0 {
				continue
			}
			target, err := os.Readlink(filepath.Join(byIDDir, entry.Name()))
			if err != nil {
				continue
			}
			if filepath.Base(target) == nodeName {
				return entry.Name()
			}
		}
	}

	// Bus info carries colons ("usb-0000:00:14.0-4"), which derived
	// stream names cannot.
	if strings.HasPrefix(busInfo, "usb-") {
		return sanitizeID(fmt.Sprintf("%s-%s", busInfo, nodeName))
	}
	return sanitizeID(fmt.Sprintf("platform-%s-%s", busInfo, nodeName))
}
