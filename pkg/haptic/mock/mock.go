// Package mock provides a recording implementation of [haptic.Actuator] for
// use in unit tests.
//
// Actuator records every command in order so tests can assert on the exact
// cancel/vibrate sequence:
//
//	act := &mock.Actuator{}
//	eng, _ := haptic.NewEngine(haptic.DefaultConfig(), act)
//	eng.Feed(frame)
//	act.Commands() // [{cancel} {vibrate [..]}]
package mock

import (
	"slices"
	"sync"

	"github.com/hapticphonix/larynx/pkg/haptic"
)

// Command is one recorded actuator call.
type Command struct {
	// Kind is haptic.CommandCancel or haptic.CommandVibrate.
	Kind string

	// Pattern is the vibrate pattern; nil for cancel.
	Pattern []uint32
}

// Actuator is a mock implementation of [haptic.Actuator] and [haptic.Prober].
type Actuator struct {
	mu sync.Mutex

	// Unavailable makes Available report false.
	Unavailable bool

	// VibrateErr, if non-nil, is returned by Vibrate.
	VibrateErr error

	// CancelErr, if non-nil, is returned by Cancel.
	CancelErr error

	commands []Command
}

// Vibrate records the call and returns VibrateErr.
func (a *Actuator) Vibrate(pattern []uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, Command{Kind: haptic.CommandVibrate, Pattern: slices.Clone(pattern)})
	return a.VibrateErr
}

// Cancel records the call and returns CancelErr.
func (a *Actuator) Cancel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, Command{Kind: haptic.CommandCancel})
	return a.CancelErr
}

// Available reports !Unavailable.
func (a *Actuator) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.Unavailable
}

// Commands returns a copy of all recorded commands.
func (a *Actuator) Commands() []Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.commands)
}

// Count returns how many commands of kind were recorded.
func (a *Actuator) Count(kind string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.commands {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Reset clears the recorded commands.
func (a *Actuator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = nil
}

var (
	_ haptic.Actuator = (*Actuator)(nil)
	_ haptic.Prober   = (*Actuator)(nil)
)
