// Package connectivity defines the contract between the synchronization core
// and the pluggable modules that exchange data with the watch, and the
// registry that holds them.
package connectivity

import (
	"fmt"

	"github.com/google/uuid"
)

// Direction tells which side writes a characteristic.
type Direction int

const (
	// ToDevice characteristics are written by the host.
	ToDevice Direction = iota
	// FromDevice characteristics are notified by the watch.
	FromDevice
)

func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "to-device"
	case FromDevice:
		return "from-device"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Characteristic declares one characteristic a service uses.
type Characteristic struct {
	UUID      uuid.UUID
	Direction Direction
}

// Service is a module that exchanges data with the watch.
type Service interface {
	// ServiceUUID is the GATT service the module lives in.
	ServiceUUID() uuid.UUID
	// Characteristics lists the characteristics the module uses, in
	// declaration order.
	Characteristics() []Characteristic
	// Sync is called once the watch is connected and routing is in place.
	Sync()
	// Unsync is called when the session ends.
	Unsync()
	// OnReceive delivers a notification from one of the module's
	// FromDevice characteristics.
	OnReceive(char uuid.UUID, data []byte)
}

// Sender writes a payload to a ToDevice characteristic of the connected watch.
type Sender interface {
	Send(char uuid.UUID, data []byte) error
}
