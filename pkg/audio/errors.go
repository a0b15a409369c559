package audio

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by [DeviceError]. Match them with errors.Is.
var (
	ErrPermissionDenied = errors.New("audio: permission denied")
	ErrNoDevice         = errors.New("audio: no input device")
	ErrDeviceBusy       = errors.New("audio: device busy")
)

// DeviceErrorKind classifies a capture start failure.
type DeviceErrorKind int

const (
	// DevicePermissionDenied means the OS or user refused microphone access.
	DevicePermissionDenied DeviceErrorKind = iota

	// DeviceNotFound means no usable input device exists.
	DeviceNotFound

	// DeviceBusy means the device is held by another capture session.
	DeviceBusy
)

// String returns the human-readable name of the kind.
func (k DeviceErrorKind) String() string {
	switch k {
	case DevicePermissionDenied:
		return "permission_denied"
	case DeviceNotFound:
		return "no_device"
	case DeviceBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// sentinel returns the package-level error matching k.
func (k DeviceErrorKind) sentinel() error {
	switch k {
	case DevicePermissionDenied:
		return ErrPermissionDenied
	case DeviceBusy:
		return ErrDeviceBusy
	default:
		return ErrNoDevice
	}
}

// DeviceError is returned by [Device.Open] when capture cannot start. It is
// terminal for that attempt; callers decide whether to retry.
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string
	Err    error
}

// NewDeviceError builds a DeviceError for device with the given cause.
func NewDeviceError(kind DeviceErrorKind, device string, cause error) *DeviceError {
	return &DeviceError{Kind: kind, Device: device, Err: cause}
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audio: device %q: %s", e.Device, e.Kind)
	}
	return fmt.Sprintf("audio: device %q: %s: %v", e.Device, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}
