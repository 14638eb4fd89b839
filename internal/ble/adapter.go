// Package ble is the boundary between the synchronization core and the
// platform Bluetooth stack. It defines the Transport the core drives, the
// UUID helpers shared by every layer, and the serialized GATT operation
// queue that keeps a single physical link free of concurrent requests.
package ble

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotConnected is returned by transport operations issued without a link.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrUnknownCharacteristic is returned when a characteristic was not discovered.
	ErrUnknownCharacteristic = errors.New("ble: unknown characteristic")
)

// DefaultMTU is the ATT MTU every link starts with before negotiation.
const DefaultMTU = 23

// Property is the GATT characteristic property bit field.
type Property uint8

// Characteristic properties as defined by the Core specification (Vol 3, Part G, 3.3.1.1).
const (
	PropertyBroadcast       Property = 0x01
	PropertyRead            Property = 0x02
	PropertyWriteNoResponse Property = 0x04
	PropertyWrite           Property = 0x08
	PropertyNotify          Property = 0x10
	PropertyIndicate        Property = 0x20
)

// Has reports whether every bit of want is set.
func (p Property) Has(want Property) bool { return p&want == want }

// CanNotify reports whether the characteristic can push values to the host.
func (p Property) CanNotify() bool { return p&(PropertyNotify|PropertyIndicate) != 0 }

// CharacteristicInfo is one entry of a discovery snapshot.
type CharacteristicInfo struct {
	UUID       uuid.UUID
	Properties Property
}

// Handle addresses a resolved characteristic on the current link.
type Handle struct {
	Service        uuid.UUID
	Characteristic uuid.UUID
	Properties     Property
}

// ConnectOptions controls a connect attempt.
type ConnectOptions struct {
	AutoReconnect bool          // let the platform re-establish the link by itself
	Timeout       time.Duration // per attempt
	Retries       int           // attempts after the first one
	RetryDelay    time.Duration // fixed delay between attempts
}

// Discovery answers which characteristics the peer exposes for a service.
// A service that was not discovered yields an empty result and no error.
type Discovery interface {
	DiscoveredCharacteristics(service uuid.UUID) ([]CharacteristicInfo, error)
}

// Transport abstracts the platform GATT client for testing.
type Transport interface {
	Discovery

	// Connect establishes the link to the device with the given address,
	// retrying up to opts.Retries times. Returns once services are discovered.
	Connect(ctx context.Context, address string, opts ConnectOptions) error
	// Disconnect terminates the link.
	Disconnect() error
	// RequestMTU asks for a larger ATT MTU and returns the negotiated value.
	RequestMTU(size int) (int, error)
	// ReadCharacteristic reads the current value of a characteristic.
	ReadCharacteristic(char uuid.UUID) ([]byte, error)
	// WriteCharacteristic writes a value to a characteristic.
	WriteCharacteristic(char uuid.UUID, data []byte) error
	// EnableNotifications turns on value notifications for a characteristic.
	EnableNotifications(char uuid.UUID) error
	// SetNotificationHandler registers the callback for a characteristic's
	// notifications. A nil handler removes it.
	SetNotificationHandler(char uuid.UUID, handler func(data []byte))
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func(reason error))
}
