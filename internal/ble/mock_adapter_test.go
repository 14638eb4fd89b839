package ble

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// mockTransport tracks how many GATT operations overlap.
type mockTransport struct {
	mu       sync.Mutex
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	order    []string
	handlers map[uuid.UUID]func([]byte)
}

var _ Transport = (*mockTransport)(nil)

func newMockTransport(delay time.Duration) *mockTransport {
	return &mockTransport{delay: delay, handlers: make(map[uuid.UUID]func([]byte))}
}

// op simulates a GATT round trip and records overlap.
func (m *mockTransport) op(name string) {
	n := m.inFlight.Add(1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(m.delay)
	m.mu.Lock()
	m.order = append(m.order, name)
	m.mu.Unlock()
	m.inFlight.Add(-1)
}

func (m *mockTransport) Connect(context.Context, string, ConnectOptions) error { return nil }
func (m *mockTransport) Disconnect() error                                     { return nil }
func (m *mockTransport) DiscoveredCharacteristics(uuid.UUID) ([]CharacteristicInfo, error) {
	return nil, nil
}
func (m *mockTransport) RequestMTU(size int) (int, error) { m.op("mtu"); return size, nil }
func (m *mockTransport) ReadCharacteristic(c uuid.UUID) ([]byte, error) {
	m.op("read " + ShortUUID(c))
	return []byte{42}, nil
}
func (m *mockTransport) WriteCharacteristic(c uuid.UUID, _ []byte) error {
	m.op("write " + ShortUUID(c))
	return nil
}
func (m *mockTransport) EnableNotifications(c uuid.UUID) error {
	m.op("notify " + ShortUUID(c))
	return nil
}
func (m *mockTransport) SetNotificationHandler(c uuid.UUID, h func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[c] = h
}
func (m *mockTransport) OnDisconnect(func(error)) {}

func (m *mockTransport) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
