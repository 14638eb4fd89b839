// Package gatt binds registered connectivity services to the characteristics
// discovered on the watch and routes traffic between them.
package gatt

import (
	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
	"github.com/MagneFire/AsteroidOSSync/internal/connectivity"
)

// Tables are the routing tables of one session. They are immutable once
// built; a session publishes a complete set or none at all.
type Tables struct {
	inbound       map[uuid.UUID]connectivity.Descriptor
	inboundOrder  []uuid.UUID
	outbound      map[uuid.UUID]ble.Handle
	outboundOrder []uuid.UUID
}

// emptyTables is published whenever no session is bound.
var emptyTables = newTables()

func newTables() *Tables {
	return &Tables{
		inbound:  make(map[uuid.UUID]connectivity.Descriptor),
		outbound: make(map[uuid.UUID]ble.Handle),
	}
}

func (t *Tables) addInbound(char uuid.UUID, d connectivity.Descriptor) {
	t.inbound[char] = d
	t.inboundOrder = append(t.inboundOrder, char)
}

func (t *Tables) addOutbound(char uuid.UUID, h ble.Handle) {
	t.outbound[char] = h
	t.outboundOrder = append(t.outboundOrder, char)
}

// Inbound returns the service receiving notifications of char.
func (t *Tables) Inbound(char uuid.UUID) (connectivity.Descriptor, bool) {
	d, ok := t.inbound[char]
	return d, ok
}

// Outbound returns the write handle of char.
func (t *Tables) Outbound(char uuid.UUID) (ble.Handle, bool) {
	h, ok := t.outbound[char]
	return h, ok
}

// InboundUUIDs lists inbound characteristics in binding order.
func (t *Tables) InboundUUIDs() []uuid.UUID {
	out := make([]uuid.UUID, len(t.inboundOrder))
	copy(out, t.inboundOrder)
	return out
}

// OutboundUUIDs lists outbound characteristics in binding order.
func (t *Tables) OutboundUUIDs() []uuid.UUID {
	out := make([]uuid.UUID, len(t.outboundOrder))
	copy(out, t.outboundOrder)
	return out
}

// Empty reports whether both tables are empty.
func (t *Tables) Empty() bool {
	return len(t.inbound) == 0 && len(t.outbound) == 0
}

// without returns a copy of t minus the given inbound characteristics.
func (t *Tables) without(drop func(uuid.UUID) bool) *Tables {
	out := newTables()
	for _, c := range t.inboundOrder {
		if !drop(c) {
			out.addInbound(c, t.inbound[c])
		}
	}
	for _, c := range t.outboundOrder {
		out.addOutbound(c, t.outbound[c])
	}
	return out
}
