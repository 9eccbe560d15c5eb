//go:build !linux || !cgo

package devices

import "context"

type stubSource struct{}

// NewSource returns a source that reports no devices. Capture hardware
// access is Linux-only; other platforms get an empty registry so the
// rest of the service still runs for development.
func NewSource() Source {
	return stubSource{}
}

func (stubSource) List() ([]Device, error) {
	return nil, nil
}

func (stubSource) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
