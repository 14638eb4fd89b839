// Package bletest provides an in-memory ble.Transport for tests.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
)

// ErrInjected is the default failure returned by operations marked to fail.
var ErrInjected = errors.New("bletest: injected failure")

// Write records one characteristic write.
type Write struct {
	Char uuid.UUID
	Data []byte
}

// Transport simulates a peripheral with a fixed GATT table. All methods are
// safe for concurrent use.
type Transport struct {
	mu sync.Mutex

	services  map[uuid.UUID][]ble.CharacteristicInfo
	values    map[uuid.UUID][]byte
	handlers  map[uuid.UUID]func([]byte)
	notifying map[uuid.UUID]bool
	failures  map[string]error // keyed by "op uuid" or "op"

	connected    bool
	connects     int
	disconnects  int
	mtuRequests  int
	writes       []Write
	ops          []string
	disconnectCb func(error)

	// ConnectHook, when set, runs inside Connect before it returns.
	ConnectHook func(ctx context.Context) error
	// MTU is returned by RequestMTU.
	MTU int
	// OpHook, when set, runs at the start of every GATT operation.
	OpHook func(op string)
}

// New creates a disconnected transport with an empty GATT table.
func New() *Transport {
	return &Transport{
		services:  make(map[uuid.UUID][]ble.CharacteristicInfo),
		values:    make(map[uuid.UUID][]byte),
		handlers:  make(map[uuid.UUID]func([]byte)),
		notifying: make(map[uuid.UUID]bool),
		failures:  make(map[string]error),
		MTU:       247,
	}
}

// AddCharacteristic adds a characteristic to the simulated GATT table.
func (t *Transport) AddCharacteristic(service, char uuid.UUID, props ble.Property) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.services[service] = append(t.services[service], ble.CharacteristicInfo{UUID: char, Properties: props})
	return t
}

// AddWatchBasics adds the battery and notification-update characteristics
// every supported watch exposes.
func (t *Transport) AddWatchBasics() *Transport {
	t.AddCharacteristic(ble.BatteryServiceUUID, ble.BatteryLevelUUID, ble.PropertyRead|ble.PropertyNotify)
	t.AddCharacteristic(ble.NotificationServiceUUID, ble.NotificationUpdateCharUUID, ble.PropertyWrite|ble.PropertyNotify)
	return t
}

// SetValue sets the value returned by reads of char.
func (t *Transport) SetValue(char uuid.UUID, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[char] = data
}

// Fail makes the named operation fail with err. op is one of "connect",
// "mtu", "read", "write", "notify"; char narrows it to one characteristic
// (uuid.Nil for all).
func (t *Transport) Fail(op string, char uuid.UUID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	t.failures[failureKey(op, char)] = err
}

func failureKey(op string, char uuid.UUID) string {
	if char == uuid.Nil {
		return op
	}
	return op + " " + char.String()
}

// failure returns the injected error for op on char (caller must hold mu).
func (t *Transport) failure(op string, char uuid.UUID) error {
	if err, ok := t.failures[failureKey(op, char)]; ok {
		return err
	}
	return t.failures[op]
}

func (t *Transport) hook(op string) {
	t.mu.Lock()
	h := t.OpHook
	t.ops = append(t.ops, op)
	t.mu.Unlock()
	if h != nil {
		h(op)
	}
}

func (t *Transport) Connect(ctx context.Context, _ string, _ ble.ConnectOptions) error {
	t.mu.Lock()
	t.connects++
	hook := t.ConnectHook
	err := t.failure("connect", uuid.Nil)
	t.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return herr
		}
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	t.connected = false
	t.notifying = make(map[uuid.UUID]bool)
	return nil
}

func (t *Transport) DiscoveredCharacteristics(service uuid.UUID) ([]ble.CharacteristicInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, ble.ErrNotConnected
	}
	chars := t.services[service]
	out := make([]ble.CharacteristicInfo, len(chars))
	copy(out, chars)
	return out, nil
}

func (t *Transport) known(char uuid.UUID) bool {
	for _, chars := range t.services {
		for _, c := range chars {
			if c.UUID == char {
				return true
			}
		}
	}
	return false
}

func (t *Transport) RequestMTU(size int) (int, error) {
	t.hook("mtu")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mtuRequests++
	if err := t.failure("mtu", uuid.Nil); err != nil {
		return 0, err
	}
	if size < t.MTU {
		return size, nil
	}
	return t.MTU, nil
}

func (t *Transport) ReadCharacteristic(char uuid.UUID) ([]byte, error) {
	t.hook("read " + ble.ShortUUID(char))
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("read", char); err != nil {
		return nil, err
	}
	if !t.known(char) {
		return nil, fmt.Errorf("%w: %s", ble.ErrUnknownCharacteristic, char)
	}
	v := t.values[char]
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *Transport) WriteCharacteristic(char uuid.UUID, data []byte) error {
	t.hook("write " + ble.ShortUUID(char))
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("write", char); err != nil {
		return err
	}
	if !t.known(char) {
		return fmt.Errorf("%w: %s", ble.ErrUnknownCharacteristic, char)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.writes = append(t.writes, Write{Char: char, Data: cp})
	return nil
}

func (t *Transport) EnableNotifications(char uuid.UUID) error {
	t.hook("notify " + ble.ShortUUID(char))
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("notify", char); err != nil {
		return err
	}
	if !t.known(char) {
		return fmt.Errorf("%w: %s", ble.ErrUnknownCharacteristic, char)
	}
	t.notifying[char] = true
	return nil
}

func (t *Transport) SetNotificationHandler(char uuid.UUID, handler func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handler == nil {
		delete(t.handlers, char)
		return
	}
	t.handlers[char] = handler
}

func (t *Transport) OnDisconnect(callback func(reason error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectCb = callback
}

// Notify delivers a notification for char as the peripheral would.
// Returns false if nothing was subscribed.
func (t *Transport) Notify(char uuid.UUID, data []byte) bool {
	t.mu.Lock()
	h := t.handlers[char]
	enabled := t.notifying[char]
	t.mu.Unlock()
	if h == nil || !enabled {
		return false
	}
	h(data)
	return true
}

// DeliverRaw invokes the handler for char even if notifications were never
// enabled, simulating a stray notification.
func (t *Transport) DeliverRaw(char uuid.UUID, data []byte) bool {
	t.mu.Lock()
	h := t.handlers[char]
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// DropLink simulates the peripheral going away.
func (t *Transport) DropLink(reason error) {
	t.mu.Lock()
	t.connected = false
	t.notifying = make(map[uuid.UUID]bool)
	cb := t.disconnectCb
	t.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// Connected reports whether the simulated link is up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connects returns how many times Connect was called.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Disconnects returns how many times Disconnect was called.
func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

// Writes returns a copy of every recorded write.
func (t *Transport) Writes() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Write, len(t.writes))
	copy(out, t.writes)
	return out
}

// Ops returns the GATT operations issued, in order.
func (t *Transport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.ops))
	copy(out, t.ops)
	return out
}

// Notifying reports whether notifications are enabled for char.
func (t *Transport) Notifying(char uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notifying[char]
}

var _ ble.Transport = (*Transport)(nil)
