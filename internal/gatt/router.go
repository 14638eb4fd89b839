package gatt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
)

// ErrCharacteristicNotBound is returned by Send for a characteristic that is
// not in the outbound table of the current session.
var ErrCharacteristicNotBound = errors.New("gatt: characteristic not bound")

// Router moves payloads between the link and the bound services. Lookups
// read the published tables without locking; tables are replaced whole.
type Router struct {
	transport ble.Transport
	tables    atomic.Pointer[Tables]
}

// NewRouter creates a Router with empty tables.
func NewRouter(t ble.Transport) *Router {
	r := &Router{transport: t}
	r.tables.Store(emptyTables)
	return r
}

// Tables returns the currently published tables.
func (r *Router) Tables() *Tables {
	return r.tables.Load()
}

// Install publishes tables and subscribes to every inbound characteristic.
// A characteristic whose subscription fails is logged and dropped from the
// published tables. Returns the characteristics that were dropped.
func (r *Router) Install(tables *Tables) []uuid.UUID {
	// Published first so notifications arriving during subscription are routed.
	r.tables.Store(tables)

	failed := mapset.NewThreadUnsafeSet[uuid.UUID]()
	for _, char := range tables.inboundOrder {
		r.transport.SetNotificationHandler(char, r.handler(char))
		if err := r.transport.EnableNotifications(char); err != nil {
			slog.Warn("[GATT] subscription failed, excluding characteristic",
				"char", ble.ShortUUID(char), "error", err)
			r.transport.SetNotificationHandler(char, nil)
			failed.Add(char)
		}
	}

	if failed.Cardinality() > 0 {
		r.tables.Store(tables.without(func(c uuid.UUID) bool { return failed.Contains(c) }))
	}

	var out []uuid.UUID
	for _, char := range tables.inboundOrder {
		if failed.Contains(char) {
			out = append(out, char)
		}
	}
	return out
}

func (r *Router) handler(char uuid.UUID) func([]byte) {
	return func(data []byte) { r.Dispatch(char, data) }
}

// Clear publishes empty tables and drops the notification handlers of the
// previous ones.
func (r *Router) Clear() {
	old := r.tables.Swap(emptyTables)
	for _, char := range old.inboundOrder {
		r.transport.SetNotificationHandler(char, nil)
	}
}

// Send writes data to char through the transport.
func (r *Router) Send(char uuid.UUID, data []byte) error {
	h, ok := r.tables.Load().Outbound(char)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCharacteristicNotBound, char)
	}
	if err := r.transport.WriteCharacteristic(h.Characteristic, data); err != nil {
		return fmt.Errorf("gatt: send %s: %w", ble.ShortUUID(char), err)
	}
	return nil
}

// Dispatch delivers a notification to the service owning char. Unknown
// characteristics are dropped.
func (r *Router) Dispatch(char uuid.UUID, data []byte) {
	d, ok := r.tables.Load().Inbound(char)
	if !ok {
		slog.Warn("[GATT] dropping notification for unbound characteristic",
			"char", ble.ShortUUID(char), "bytes", len(data))
		return
	}
	d.Service.OnReceive(char, data)
}
