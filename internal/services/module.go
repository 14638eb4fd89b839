// Package services implements the AsteroidOS connectivity modules. Each
// module declares its characteristics and passes payloads through as opaque
// bytes; building the payloads is left to the caller.
package services

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/connectivity"
)

// ErrNotSynced is returned by Send while the module is not synced.
var ErrNotSynced = errors.New("services: not synced")

// ErrNotOwned is returned by Send for a characteristic the module does not
// declare as ToDevice.
var ErrNotOwned = errors.New("services: characteristic not owned")

// Handler receives payloads notified by the watch.
type Handler func(char uuid.UUID, data []byte)

// Module is a connectivity.Service with a fixed characteristic set.
type Module struct {
	name    string
	service uuid.UUID
	chars   []connectivity.Characteristic
	sender  connectivity.Sender
	onSync  func(*Module)

	mu      sync.Mutex
	synced  bool
	handler Handler
}

var _ connectivity.Service = (*Module)(nil)

func newModule(name string, service uuid.UUID, sender connectivity.Sender, chars ...connectivity.Characteristic) *Module {
	return &Module{name: name, service: service, sender: sender, chars: chars}
}

// Name returns the module name used in logs and configuration.
func (m *Module) Name() string { return m.name }

func (m *Module) ServiceUUID() uuid.UUID { return m.service }

func (m *Module) Characteristics() []connectivity.Characteristic {
	out := make([]connectivity.Characteristic, len(m.chars))
	copy(out, m.chars)
	return out
}

// SetHandler installs the handler for inbound payloads. A nil handler drops
// them.
func (m *Module) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Synced reports whether the module is between Sync and Unsync.
func (m *Module) Synced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synced
}

func (m *Module) Sync() {
	m.mu.Lock()
	m.synced = true
	hook := m.onSync
	m.mu.Unlock()

	slog.Debug("[SERVICE] sync", "module", m.name)
	if hook != nil {
		hook(m)
	}
}

func (m *Module) Unsync() {
	m.mu.Lock()
	m.synced = false
	m.mu.Unlock()
	slog.Debug("[SERVICE] unsync", "module", m.name)
}

func (m *Module) OnReceive(char uuid.UUID, data []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		slog.Debug("[SERVICE] no handler, dropping payload", "module", m.name, "char", char, "bytes", len(data))
		return
	}
	h(char, data)
}

// Send writes data to one of the module's ToDevice characteristics.
func (m *Module) Send(char uuid.UUID, data []byte) error {
	if !m.owns(char) {
		return fmt.Errorf("%w: %s %s", ErrNotOwned, m.name, char)
	}
	if !m.Synced() {
		return fmt.Errorf("%w: %s", ErrNotSynced, m.name)
	}
	if err := m.sender.Send(char, data); err != nil {
		return fmt.Errorf("services: %s send: %w", m.name, err)
	}
	return nil
}

func (m *Module) owns(char uuid.UUID) bool {
	for _, c := range m.chars {
		if c.UUID == char && c.Direction == connectivity.ToDevice {
			return true
		}
	}
	return false
}
