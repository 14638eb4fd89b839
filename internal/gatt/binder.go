package gatt

import (
	"errors"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
	"github.com/MagneFire/AsteroidOSSync/internal/connectivity"
)

// ErrUnsupported is returned when a mandatory characteristic is missing or
// cannot notify. The watch cannot be used.
var ErrUnsupported = errors.New("gatt: unsupported device")

// Requirement names a characteristic that must resolve with notify support
// for a binding to succeed.
type Requirement struct {
	Name           string
	Service        uuid.UUID
	Characteristic uuid.UUID
}

var (
	// BatteryRequirement is the battery level characteristic.
	BatteryRequirement = Requirement{"battery", ble.BatteryServiceUUID, ble.BatteryLevelUUID}
	// NotificationRequirement is the notification update characteristic.
	NotificationRequirement = Requirement{"notification", ble.NotificationServiceUUID, ble.NotificationUpdateCharUUID}
)

// Policy decides what happens to a service with unresolved characteristics.
type Policy int

const (
	// SkipCharacteristic drops only the unresolved characteristics.
	SkipCharacteristic Policy = iota
	// ExcludeService drops the whole service.
	ExcludeService
)

func (p Policy) String() string {
	switch p {
	case SkipCharacteristic:
		return "skip"
	case ExcludeService:
		return "exclude"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "skip" or "exclude". An empty string means skip.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "skip":
		return SkipCharacteristic, nil
	case "exclude":
		return ExcludeService, nil
	default:
		return 0, fmt.Errorf("gatt: unknown partial service policy %q (want skip or exclude)", s)
	}
}

// BinderOptions configures a Binder.
type BinderOptions struct {
	RequireNotification bool
	Policy              Policy
}

// Binding is the result of a successful bind.
type Binding struct {
	Battery      ble.Handle
	Notification *ble.Handle // nil unless required
	Tables       *Tables
}

// Binder resolves registered descriptors against a discovery snapshot.
// It keeps no state between calls.
type Binder struct {
	opts BinderOptions
}

// NewBinder creates a Binder.
func NewBinder(opts BinderOptions) *Binder {
	return &Binder{opts: opts}
}

// discovery caches per-service lookups for the duration of one Bind call,
// so every descriptor sees the same snapshot.
type discovery struct {
	src      ble.Discovery
	services map[uuid.UUID]map[uuid.UUID]ble.CharacteristicInfo
}

func (d *discovery) service(svc uuid.UUID) map[uuid.UUID]ble.CharacteristicInfo {
	if chars, ok := d.services[svc]; ok {
		return chars
	}
	chars := make(map[uuid.UUID]ble.CharacteristicInfo)
	infos, err := d.src.DiscoveredCharacteristics(svc)
	if err != nil {
		slog.Warn("[GATT] service not discovered", "service", ble.ShortUUID(svc), "error", err)
	}
	for _, info := range infos {
		if _, dup := chars[info.UUID]; !dup {
			chars[info.UUID] = info
		}
	}
	d.services[svc] = chars
	return chars
}

func (d *discovery) lookup(svc, char uuid.UUID) (ble.Handle, bool) {
	info, ok := d.service(svc)[char]
	if !ok {
		return ble.Handle{}, false
	}
	return ble.Handle{Service: svc, Characteristic: char, Properties: info.Properties}, true
}

// Bind builds the routing tables for descriptors, in order. Returns
// ErrUnsupported if a mandatory characteristic fails to resolve.
func (b *Binder) Bind(disc ble.Discovery, descriptors []connectivity.Descriptor) (*Binding, error) {
	snap := &discovery{src: disc, services: make(map[uuid.UUID]map[uuid.UUID]ble.CharacteristicInfo)}

	battery, err := b.require(snap, BatteryRequirement)
	if err != nil {
		return nil, err
	}
	binding := &Binding{Battery: battery}

	if b.opts.RequireNotification {
		h, err := b.require(snap, NotificationRequirement)
		if err != nil {
			return nil, err
		}
		binding.Notification = &h
	}

	tables := newTables()
	claimed := mapset.NewThreadUnsafeSet[uuid.UUID]()
	for _, d := range descriptors {
		b.bindDescriptor(snap, d, tables, claimed)
	}
	binding.Tables = tables

	slog.Info("[GATT] bound", "inbound", len(tables.inboundOrder), "outbound", len(tables.outboundOrder))
	return binding, nil
}

func (b *Binder) require(snap *discovery, r Requirement) (ble.Handle, error) {
	h, ok := snap.lookup(r.Service, r.Characteristic)
	if !ok {
		slog.Error("[GATT] required characteristic missing", "name", r.Name, "char", ble.ShortUUID(r.Characteristic))
		return ble.Handle{}, fmt.Errorf("%w: %s characteristic %s missing", ErrUnsupported, r.Name, r.Characteristic)
	}
	if !h.Properties.CanNotify() {
		slog.Error("[GATT] required characteristic cannot notify", "name", r.Name, "char", ble.ShortUUID(r.Characteristic))
		return ble.Handle{}, fmt.Errorf("%w: %s characteristic %s cannot notify", ErrUnsupported, r.Name, r.Characteristic)
	}
	return h, nil
}

type resolved struct {
	char   connectivity.Characteristic
	handle ble.Handle
}

func (b *Binder) bindDescriptor(snap *discovery, d connectivity.Descriptor, tables *Tables, claimed mapset.Set[uuid.UUID]) {
	var found []resolved
	missing := 0
	for _, c := range d.Characteristics {
		if claimed.Contains(c.UUID) {
			slog.Warn("[GATT] characteristic already bound to another service, skipping",
				"service", ble.ShortUUID(d.ServiceUUID), "char", ble.ShortUUID(c.UUID))
			continue
		}
		h, ok := snap.lookup(d.ServiceUUID, c.UUID)
		if !ok {
			slog.Warn("[GATT] characteristic not found, skipping",
				"service", ble.ShortUUID(d.ServiceUUID), "char", ble.ShortUUID(c.UUID), "direction", c.Direction)
			missing++
			continue
		}
		if c.Direction == connectivity.FromDevice && !h.Properties.CanNotify() {
			slog.Warn("[GATT] inbound characteristic cannot notify, skipping",
				"service", ble.ShortUUID(d.ServiceUUID), "char", ble.ShortUUID(c.UUID))
			missing++
			continue
		}
		found = append(found, resolved{char: c, handle: h})
	}

	if missing > 0 && b.opts.Policy == ExcludeService {
		slog.Warn("[GATT] service partially resolved, excluding",
			"service", ble.ShortUUID(d.ServiceUUID), "missing", missing)
		return
	}

	for _, r := range found {
		claimed.Add(r.char.UUID)
		switch r.char.Direction {
		case connectivity.FromDevice:
			tables.addInbound(r.char.UUID, d)
		case connectivity.ToDevice:
			tables.addOutbound(r.char.UUID, r.handle)
		}
	}
}
