package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/camlink/internal/devices"
	"github.com/smazurov/camlink/internal/logging"
)

// GstBackend launches gst-launch-1.0 subprocesses that capture from a
// V4L2 device and publish to the RTSP sink. Each instance owns one
// process group so teardown never leaks child processes.
type GstBackend struct {
	binary       string
	startupGrace time.Duration
	logger       *slog.Logger
}

// NewGstBackend creates the production GStreamer backend.
func NewGstBackend() *GstBackend {
	return &GstBackend{
		binary:       "gst-launch-1.0",
		startupGrace: 700 * time.Millisecond,
		logger:       logging.GetLogger("pipeline"),
	}
}

// Create implements Backend.
func (b *GstBackend) Create(spec Spec) (Instance, error) {
	desc, err := launchDescription(spec)
	if err != nil {
		return nil, err
	}
	return &gstInstance{
		spec:          spec,
		binary:        b.binary,
		desc:          desc,
		startupGrace:  b.startupGrace,
		logger:        b.logger.With("stream", spec.Stream),
		notifications: make(chan Notification, 1),
	}, nil
}

// launchDescription builds the gst-launch pipeline string for a spec.
// Hardware-encoded formats pass through; raw and MJPEG capture is
// transcoded to H264 for the sink.
func launchDescription(spec Spec) (string, error) {
	f := spec.Format
	if f.Interval.Numerator == 0 || f.Interval.Denominator == 0 {
		return "", NewError(ErrCodeFormatNegotiation,
			fmt.Sprintf("invalid frame interval %s", f.Interval), nil)
	}
	framerate := fmt.Sprintf("%d/%d", f.Interval.Denominator, f.Interval.Numerator)
	geometry := fmt.Sprintf("width=%d,height=%d,framerate=%s", f.Width, f.Height, framerate)

	src := fmt.Sprintf("v4l2src device=%s", spec.DevicePath)
	encode := fmt.Sprintf("x264enc tune=zerolatency key-int-max=%d", int(f.Interval.FPS()))

	var chain string
	switch f.Encoding {
	case devices.EncodingH264:
		chain = fmt.Sprintf("video/x-h264,%s ! h264parse", geometry)
	case devices.EncodingH265:
		chain = fmt.Sprintf("video/x-h265,%s ! h265parse", geometry)
	case devices.EncodingMJPG:
		chain = fmt.Sprintf("image/jpeg,%s ! jpegdec ! videoconvert ! %s ! h264parse", geometry, encode)
	case devices.EncodingYUYV:
		chain = fmt.Sprintf("video/x-raw,format=YUY2,%s ! videoconvert ! %s ! h264parse", geometry, encode)
	default:
		chain = fmt.Sprintf("video/x-raw,%s ! videoconvert ! %s ! h264parse", geometry, encode)
	}

	sink := fmt.Sprintf("rtspclientsink location=%s", spec.Endpoint.URL())
	return fmt.Sprintf("%s ! %s ! %s", src, chain, sink), nil
}

// gstInstance is one running gst-launch subprocess.
type gstInstance struct {
	spec         Spec
	binary       string
	desc         string
	startupGrace time.Duration
	logger       *slog.Logger

	mu            sync.Mutex
	cmd           *exec.Cmd
	exited        chan struct{} // closed once the process has exited
	exitErr       error         // valid after exited is closed
	outputDone    chan struct{}
	stopped       bool
	closed        bool
	notifications chan Notification
}

// Configure probes the capture device to confirm it can be opened for
// the negotiated format.
func (g *gstInstance) Configure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fd, err := os.OpenFile(g.spec.DevicePath, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return NewError(ErrCodeDeviceVanished,
				fmt.Sprintf("device node %s is gone", g.spec.DevicePath), err)
		}
		return NewError(ErrCodeFormatNegotiation,
			fmt.Sprintf("cannot open %s", g.spec.DevicePath), err)
	}
	return fd.Close()
}

// Start launches the subprocess and waits out the startup grace period.
// An exit during the grace window is a sink-bind failure; cancellation
// propagates unchanged so a stop mid-start is not reported as an error.
func (g *gstInstance) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return NewError(ErrCodeSinkBindFailed, "instance already stopped", nil)
	}

	args := append([]string{"-e"}, strings.Fields(g.desc)...)
	cmd := exec.Command(g.binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		g.mu.Unlock()
		return NewError(ErrCodeSinkBindFailed, "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		g.mu.Unlock()
		return NewError(ErrCodeSinkBindFailed, "stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		g.mu.Unlock()
		return NewError(ErrCodeSinkBindFailed, "failed to launch pipeline process", err)
	}
	g.cmd = cmd

	outputDone := make(chan struct{}, 2)
	go func() {
		g.streamOutput(stdout, "stdout")
		outputDone <- struct{}{}
	}()
	go func() {
		g.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		g.mu.Lock()
		g.exitErr = err
		g.mu.Unlock()
		close(exited)
	}()
	g.exited = exited
	g.outputDone = outputDone
	g.mu.Unlock()

	g.logger.Info("Pipeline process started", "pid", cmd.Process.Pid, "description", g.desc)

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewError(ErrCodeSinkBindFailed, "timed out waiting for sink", ctx.Err())
		}
		return ctx.Err()
	case <-exited:
		g.mu.Lock()
		err := g.exitErr
		g.mu.Unlock()
		return NewError(ErrCodeSinkBindFailed,
			fmt.Sprintf("pipeline exited during startup (exit code %d)", exitCode(err)), err)
	case <-time.After(g.startupGrace):
	}

	go g.monitor(exited)
	return nil
}

// monitor reports an unexpected exit of a streaming instance.
func (g *gstInstance) monitor(exited <-chan struct{}) {
	<-exited

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.closed {
		return
	}

	reason := NewError(ErrCodeEncoderFailed,
		fmt.Sprintf("pipeline exited unexpectedly (exit code %d)", exitCode(g.exitErr)), g.exitErr)
	g.logger.Error("Pipeline process died", "exit_code", exitCode(g.exitErr))

	select {
	case g.notifications <- Notification{Err: reason}:
	default:
	}
}

// Stop terminates the process group: SIGINT first so gst-launch can
// emit EOS, SIGKILL after the context deadline. Idempotent.
func (g *gstInstance) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	cmd := g.cmd
	exited := g.exited
	outputDone := g.outputDone
	g.mu.Unlock()

	defer g.closeNotifications()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGINT); err != nil && !errors.Is(err, syscall.ESRCH) {
		g.logger.Warn("Failed to signal pipeline process group", "pid", pid, "error", err)
	}

	select {
	case <-exited:
	case <-ctx.Done():
		g.logger.Warn("Graceful shutdown timed out, killing pipeline", "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			g.logger.Error("Failed to kill pipeline process group", "pid", pid, "error", err)
		}
		<-exited
	}

	if outputDone != nil {
		<-outputDone
		<-outputDone
	}

	g.logger.Info("Pipeline process stopped", "pid", pid)
	return nil
}

// closeNotifications closes the notification channel exactly once,
// synchronized with the monitor goroutine's send.
func (g *gstInstance) closeNotifications() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.notifications)
	}
}

// Notifications implements Instance.
func (g *gstInstance) Notifications() <-chan Notification {
	return g.notifications
}

// Description implements Instance.
func (g *gstInstance) Description() string {
	return g.desc
}

// streamOutput forwards subprocess output lines to the module logger.
func (g *gstInstance) streamOutput(r io.Reader, source string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		g.logger.Debug("gst output", "source", source, "line", line)
	}
}

// exitCode extracts the exit code from a Wait error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
