package pipeline

// State is the lifecycle state of a media pipeline.
type State string

// Pipeline states. The happy path is
// idle -> configuring -> starting -> streaming -> stopping -> stopped;
// error can be entered from configuring, starting or streaming.
const (
	StateIdle        State = "idle"
	StateConfiguring State = "configuring"
	StateStarting    State = "starting"
	StateStreaming   State = "streaming"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
	StateError       State = "error"
)

// Terminal reports whether the pipeline has finished, successfully or
// not. A terminal pipeline holds no device or sink resources.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// Active reports whether the pipeline is between acquisition and
// teardown, the window in which its device is held.
func (s State) Active() bool {
	switch s {
	case StateConfiguring, StateStarting, StateStreaming, StateStopping:
		return true
	}
	return false
}
