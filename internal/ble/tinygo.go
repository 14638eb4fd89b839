package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// errLinkLost is the reason reported when the peer drops the link.
var errLinkLost = errors.New("ble: link lost")

// tinygo/bluetooth does not expose characteristic properties on every
// platform, so discovered characteristics are reported as fully capable and
// unsupported operations fail when issued.
const assumedProperties = PropertyRead | PropertyWrite | PropertyNotify

// TinyGoTransport implements Transport on top of tinygo-org/bluetooth
// (BlueZ over D-Bus on Linux, CoreBluetooth on macOS, WinRT on Windows).
type TinyGoTransport struct {
	adapter *bluetooth.Adapter

	mu           sync.Mutex
	device       *bluetooth.Device
	address      string
	services     map[uuid.UUID][]uuid.UUID // service -> characteristics, discovery order
	chars        map[uuid.UUID]*bluetooth.DeviceCharacteristic
	handlers     map[uuid.UUID]func([]byte)
	disconnectCb func(error)
	closing      bool // set while a host-initiated disconnect is in progress
}

// NewTinyGoTransport creates a transport using the default adapter.
func NewTinyGoTransport() *TinyGoTransport {
	return &TinyGoTransport{
		adapter:  bluetooth.DefaultAdapter,
		handlers: make(map[uuid.UUID]func([]byte)),
	}
}

// platformCharacteristic is the subset of bluetooth.DeviceCharacteristic the
// transport uses. Each method exists on the BlueZ, CoreBluetooth and WinRT
// backends; Write with response does not exist on Linux.
type platformCharacteristic interface {
	Read(data []byte) (int, error)
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
	GetMTU() (uint16, error)
}

var _ platformCharacteristic = (*bluetooth.DeviceCharacteristic)(nil)

// Compile-time check that TinyGoTransport implements Transport and Scanner.
var (
	_ Transport = (*TinyGoTransport)(nil)
	_ Scanner   = (*TinyGoTransport)(nil)
)

// Enable powers on the adapter and installs the link-state handler.
func (t *TinyGoTransport) Enable() error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// The adapter reports every peripheral through one handler; only the
	// device this transport is connected to is of interest.
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		t.mu.Lock()
		current := t.device != nil && device.Address.String() == t.device.Address.String()
		cb := t.disconnectCb
		expected := t.closing
		if current {
			t.resetLocked()
		}
		t.mu.Unlock()
		if current && !expected && cb != nil {
			cb(errLinkLost)
		}
	})
	return nil
}

// Scan reports advertisements carrying service until ctx is done.
func (t *TinyGoTransport) Scan(ctx context.Context, service uuid.UUID, found func(Advertisement)) error {
	want, err := bluetooth.ParseUUID(service.String())
	if err != nil {
		return fmt.Errorf("ble: parse service uuid: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.adapter.StopScan()
		case <-done:
		}
	}()

	err = t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(want) {
			return
		}
		found(Advertisement{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	if err != nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (t *TinyGoTransport) Connect(ctx context.Context, address string, opts ConnectOptions) error {
	var addr bluetooth.Address
	addr.Set(address)

	if opts.AutoReconnect {
		slog.Debug("[BLE] platform auto-connect not available, reconnects are driven by the caller")
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			slog.Info("[BLE] connect retry", "address", address, "attempt", attempt+1, "delay", opts.RetryDelay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
			case <-time.After(opts.RetryDelay):
			}
		}

		device, err := t.connectOnce(ctx, addr, opts.Timeout)
		if err != nil {
			lastErr = err
			slog.Warn("[BLE] connect attempt failed", "address", address, "attempt", attempt+1, "error", err)
			continue
		}

		if err := t.discover(device, address); err != nil {
			_ = device.Disconnect()
			lastErr = err
			slog.Warn("[BLE] discovery failed", "address", address, "attempt", attempt+1, "error", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("ble: connect to %s after %d attempts: %w", address, opts.Retries+1, lastErr)
}

// connectOnce runs one platform connect bounded by timeout and ctx.
func (t *TinyGoTransport) connectOnce(ctx context.Context, addr bluetooth.Address, timeout time.Duration) (*bluetooth.Device, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// tinygo/bluetooth's Connect blocks with its own timeout; wrap it so the
	// caller's deadline is honoured.
	device, err := awaitConnect(ctx,
		func() (bluetooth.Device, error) {
			return t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		},
		func(late bluetooth.Device) {
			// Leave the link alone if a later attempt already owns it.
			t.mu.Lock()
			idle := t.device == nil
			t.mu.Unlock()
			if idle {
				slog.Debug("[BLE] dropping link that came up after the deadline", "address", late.Address.String())
				_ = late.Disconnect()
			}
		})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

type connectResult[D any] struct {
	device D
	err    error
}

// awaitConnect runs connect in the background and waits for it or ctx. A
// connect that succeeds after ctx is done is passed to late.
func awaitConnect[D any](ctx context.Context, connect func() (D, error), late func(D)) (D, error) {
	ch := make(chan connectResult[D], 1)
	go func() {
		device, err := connect()
		ch <- connectResult[D]{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if result := <-ch; result.err == nil {
				late(result.device)
			}
		}()
		var zero D
		return zero, ctx.Err()
	case result := <-ch:
		return result.device, result.err
	}
}

// discover walks every service and characteristic of the device and
// publishes the result as the current session.
func (t *TinyGoTransport) discover(device *bluetooth.Device, address string) error {
	svcs, err := device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}

	services := make(map[uuid.UUID][]uuid.UUID, len(svcs))
	chars := make(map[uuid.UUID]*bluetooth.DeviceCharacteristic)
	for i := range svcs {
		svcUUID, err := uuid.Parse(svcs[i].UUID().String())
		if err != nil {
			continue
		}
		found, err := svcs[i].DiscoverCharacteristics(nil)
		if err != nil {
			slog.Warn("[BLE] discover characteristics failed", "service", ShortUUID(svcUUID), "error", err)
			continue
		}
		for j := range found {
			charUUID, err := uuid.Parse(found[j].UUID().String())
			if err != nil {
				continue
			}
			services[svcUUID] = append(services[svcUUID], charUUID)
			chars[charUUID] = &found[j]
		}
	}

	t.mu.Lock()
	t.device = device
	t.address = address
	t.services = services
	t.chars = chars
	t.closing = false
	t.mu.Unlock()

	slog.Info("[BLE] discovered", "address", address, "services", len(services), "characteristics", len(chars))
	return nil
}

func (t *TinyGoTransport) Disconnect() error {
	t.mu.Lock()
	device := t.device
	address := t.address
	t.closing = true
	t.mu.Unlock()
	if device == nil {
		return nil
	}

	err := device.Disconnect()

	t.mu.Lock()
	if t.device == device {
		t.resetLocked()
	}
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", address, err)
	}
	return nil
}

// resetLocked drops all session state (caller must hold mu).
func (t *TinyGoTransport) resetLocked() {
	t.device = nil
	t.services = nil
	t.chars = nil
}

func (t *TinyGoTransport) DiscoveredCharacteristics(service uuid.UUID) ([]CharacteristicInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.device == nil {
		return nil, ErrNotConnected
	}
	var infos []CharacteristicInfo
	for _, c := range t.services[service] {
		infos = append(infos, CharacteristicInfo{UUID: c, Properties: assumedProperties})
	}
	return infos, nil
}

func (t *TinyGoTransport) characteristic(char uuid.UUID) (*bluetooth.DeviceCharacteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.device == nil {
		return nil, ErrNotConnected
	}
	c, ok := t.chars[char]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacteristic, char)
	}
	return c, nil
}

func (t *TinyGoTransport) RequestMTU(size int) (int, error) {
	// The platform negotiates the MTU on connect; report what it settled on.
	t.mu.Lock()
	var first *bluetooth.DeviceCharacteristic
	for _, c := range t.chars {
		first = c
		break
	}
	t.mu.Unlock()
	if first == nil {
		return 0, ErrNotConnected
	}
	mtu, err := first.GetMTU()
	if err != nil {
		return 0, err
	}
	if int(mtu) < size {
		slog.Debug("[BLE] platform MTU below requested size", "requested", size, "mtu", mtu)
	}
	return int(mtu), nil
}

func (t *TinyGoTransport) ReadCharacteristic(char uuid.UUID) ([]byte, error) {
	c, err := t.characteristic(char)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *TinyGoTransport) WriteCharacteristic(char uuid.UUID, data []byte) error {
	c, err := t.characteristic(char)
	if err != nil {
		return err
	}
	_, err = c.WriteWithoutResponse(data)
	return err
}

func (t *TinyGoTransport) EnableNotifications(char uuid.UUID) error {
	c, err := t.characteristic(char)
	if err != nil {
		return err
	}
	return c.EnableNotifications(func(buf []byte) {
		t.mu.Lock()
		h := t.handlers[char]
		t.mu.Unlock()
		if h == nil {
			return
		}
		cp := make([]byte, len(buf))
		copy(cp, buf)
		h(cp)
	})
}

func (t *TinyGoTransport) SetNotificationHandler(char uuid.UUID, handler func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handler == nil {
		delete(t.handlers, char)
		return
	}
	t.handlers[char] = handler
}

func (t *TinyGoTransport) OnDisconnect(callback func(reason error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectCb = callback
}
