package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
)

// ErrMalformedPayload is returned for payloads that cannot be parsed.
var ErrMalformedPayload = errors.New("watch: malformed payload")

// ParseBatteryLevel decodes a battery level payload: one byte, percent.
func ParseBatteryLevel(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: empty battery level", ErrMalformedPayload)
	}
	return int(data[0]), nil
}

// Monitor reads and subscribes to the battery level characteristic and
// reports every value it sees.
type Monitor struct {
	transport ble.Transport
	report    func(percentage int)

	mu     sync.Mutex
	char   uuid.UUID
	active bool
}

// NewMonitor creates a Monitor that calls report for every battery level.
func NewMonitor(t ble.Transport, report func(percentage int)) *Monitor {
	return &Monitor{transport: t, report: report}
}

// Start reads the current level once and subscribes to updates. Failures
// are logged; the session carries on without battery reports.
func (m *Monitor) Start(h ble.Handle) {
	m.mu.Lock()
	m.char = h.Characteristic
	m.active = true
	m.mu.Unlock()

	m.transport.SetNotificationHandler(h.Characteristic, m.handle)

	data, err := m.transport.ReadCharacteristic(h.Characteristic)
	if err != nil {
		slog.Warn("[WATCH] battery read failed", "error", err)
	} else {
		m.handle(data)
	}

	if err := m.transport.EnableNotifications(h.Characteristic); err != nil {
		slog.Warn("[WATCH] battery subscription failed", "error", err)
	}
}

// Stop drops the subscription handler. Late notifications are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	char := m.char
	wasActive := m.active
	m.active = false
	m.mu.Unlock()
	if wasActive {
		m.transport.SetNotificationHandler(char, nil)
	}
}

func (m *Monitor) handle(data []byte) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if !active {
		return
	}

	level, err := ParseBatteryLevel(data)
	if err != nil {
		slog.Warn("[WATCH] dropping battery payload", "error", err)
		return
	}
	slog.Debug("[WATCH] battery level", "percent", level)
	m.report(level)
}
