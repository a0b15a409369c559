package haptic

// Actuator is a write-only vibration device. Vibrate replaces any pattern in
// progress; it does not queue. Implementations should not block for long:
// the engine calls them while holding its lock.
type Actuator interface {
	// Vibrate plays pattern, a list of alternating on/off durations in ms
	// starting with on.
	Vibrate(pattern []uint32) error

	// Cancel stops any pattern in progress.
	Cancel() error
}

// Prober is implemented by actuators that can tell whether haptic hardware
// is present. The engine asks once, at construction.
type Prober interface {
	Available() bool
}

// NopActuator discards every command and reports itself unavailable.
type NopActuator struct{}

func (NopActuator) Vibrate([]uint32) error { return nil }
func (NopActuator) Cancel() error          { return nil }
func (NopActuator) Available() bool        { return false }

var (
	_ Actuator = NopActuator{}
	_ Prober   = NopActuator{}
)
