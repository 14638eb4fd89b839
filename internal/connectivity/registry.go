package connectivity

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateService is returned when a service UUID is registered twice.
	ErrDuplicateService = errors.New("connectivity: duplicate service")
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("connectivity: not found")
)

// Descriptor is the registration record of a Service.
type Descriptor struct {
	ServiceUUID     uuid.UUID
	Characteristics []Characteristic
	Service         Service
}

// NewDescriptor builds the descriptor of s. A characteristic declared more
// than once keeps its first declaration.
func NewDescriptor(s Service) Descriptor {
	d := Descriptor{ServiceUUID: s.ServiceUUID(), Service: s}
	seen := make(map[uuid.UUID]Direction)
	for _, c := range s.Characteristics() {
		if prev, ok := seen[c.UUID]; ok {
			slog.Warn("[REGISTRY] characteristic declared twice, keeping first",
				"service", d.ServiceUUID, "char", c.UUID, "kept", prev, "dropped", c.Direction)
			continue
		}
		seen[c.UUID] = c.Direction
		d.Characteristics = append(d.Characteristics, c)
	}
	return d
}

// Direction returns the declared direction of char, if the descriptor owns it.
func (d Descriptor) Direction(char uuid.UUID) (Direction, bool) {
	for _, c := range d.Characteristics {
		if c.UUID == char {
			return c.Direction, true
		}
	}
	return 0, false
}

// Registry holds the registered services in registration order.
// Safe for concurrent use; readers get snapshots.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a descriptor.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.descriptors {
		if existing.ServiceUUID == d.ServiceUUID {
			return fmt.Errorf("%w: %s", ErrDuplicateService, d.ServiceUUID)
		}
	}
	r.descriptors = append(r.descriptors, d)
	slog.Debug("[REGISTRY] service registered", "service", d.ServiceUUID, "characteristics", len(d.Characteristics))
	return nil
}

// RegisterService is a shorthand for Register(NewDescriptor(s)).
func (r *Registry) RegisterService(s Service) error {
	return r.Register(NewDescriptor(s))
}

// Unregister removes the service with the given UUID. Removing an unknown
// service is not an error.
func (r *Registry) Unregister(service uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.descriptors {
		if d.ServiceUUID == service {
			r.descriptors = append(r.descriptors[:i:i], r.descriptors[i+1:]...)
			slog.Debug("[REGISTRY] service unregistered", "service", service)
			return
		}
	}
}

// LookupByService returns the descriptor registered for service.
func (r *Registry) LookupByService(service uuid.UUID) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descriptors {
		if d.ServiceUUID == service {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: service %s", ErrNotFound, service)
}

// LookupByCharacteristic returns the first registered descriptor that
// declares char.
func (r *Registry) LookupByCharacteristic(char uuid.UUID) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descriptors {
		if _, ok := d.Direction(char); ok {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: characteristic %s", ErrNotFound, char)
}

// All returns a snapshot of the registered descriptors in registration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}
