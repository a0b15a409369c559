package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hapticphonix/larynx/pkg/audio"
)

// ErrSourceNotRegistered is returned by [Registry.CreateDevice] when no
// factory has been registered under the requested source.
var ErrSourceNotRegistered = errors.New("config: capture source not registered")

// DeviceFactory builds a capture device from the audio section.
type DeviceFactory func(AudioConfig) (audio.Device, error)

// Registry maps capture source names to device constructors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[Source]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{devices: make(map[Source]DeviceFactory)}
}

// RegisterDevice registers factory under source. Subsequent calls with the
// same source overwrite the previous registration.
func (r *Registry) RegisterDevice(source Source, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[source] = factory
}

// CreateDevice instantiates the device registered under cfg.Source.
func (r *Registry) CreateDevice(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// Sources returns the registered source names, sorted.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.devices))
	for s := range r.devices {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
