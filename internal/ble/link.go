package ble

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Link is a Transport whose GATT operations are serialized through a Queue.
// Connect, Disconnect, discovery and callback registration bypass the queue:
// they are link management, not attribute operations.
type Link struct {
	transport Transport
	queue     *Queue
}

// NewLink wraps a transport with a fresh operation queue.
func NewLink(t Transport) *Link {
	return &Link{transport: t, queue: NewQueue()}
}

// Compile-time check that Link can stand in for a Transport.
var _ Transport = (*Link)(nil)

func (l *Link) Connect(ctx context.Context, address string, opts ConnectOptions) error {
	return l.transport.Connect(ctx, address, opts)
}

func (l *Link) Disconnect() error {
	return l.transport.Disconnect()
}

func (l *Link) DiscoveredCharacteristics(service uuid.UUID) ([]CharacteristicInfo, error) {
	return l.transport.DiscoveredCharacteristics(service)
}

func (l *Link) SetNotificationHandler(char uuid.UUID, handler func(data []byte)) {
	l.transport.SetNotificationHandler(char, handler)
}

func (l *Link) OnDisconnect(callback func(reason error)) {
	l.transport.OnDisconnect(callback)
}

func (l *Link) RequestMTU(size int) (int, error) {
	var mtu int
	err := l.queue.Do("request-mtu", func() error {
		var err error
		mtu, err = l.transport.RequestMTU(size)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ble: request mtu %d: %w", size, err)
	}
	return mtu, nil
}

func (l *Link) ReadCharacteristic(char uuid.UUID) ([]byte, error) {
	var data []byte
	err := l.queue.Do("read "+ShortUUID(char), func() error {
		var err error
		data, err = l.transport.ReadCharacteristic(char)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ble: read %s: %w", char, err)
	}
	return data, nil
}

func (l *Link) WriteCharacteristic(char uuid.UUID, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	err := l.queue.Do("write "+ShortUUID(char), func() error {
		return l.transport.WriteCharacteristic(char, cp)
	})
	if err != nil {
		return fmt.Errorf("ble: write %s: %w", char, err)
	}
	return nil
}

func (l *Link) EnableNotifications(char uuid.UUID) error {
	err := l.queue.Do("enable-notify "+ShortUUID(char), func() error {
		return l.transport.EnableNotifications(char)
	})
	if err != nil {
		return fmt.Errorf("ble: enable notifications %s: %w", char, err)
	}
	return nil
}

// Abort cancels queued operations that have not started.
func (l *Link) Abort() int { return l.queue.Abort() }

// Pending returns the number of queued operations.
func (l *Link) Pending() int { return l.queue.Len() }

// Close stops the queue. The link must not be used afterwards.
func (l *Link) Close() { l.queue.Close() }
