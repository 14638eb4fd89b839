package ble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// baseUUID is the Bluetooth SIG base UUID 00000000-0000-1000-8000-00805f9b34fb.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Well-known attributes the core binds itself.
var (
	BatteryServiceUUID = MustParseUUID("180f")
	BatteryLevelUUID   = MustParseUUID("2a19")

	NotificationServiceUUID    = MustParseUUID("00009071-0000-0000-0000-00a57e401d05")
	NotificationUpdateCharUUID = MustParseUUID("00009001-0000-0000-0000-00a57e401d05")
)

// ParseUUID parses a full 128-bit UUID or a 16/32-bit SIG short form such
// as "180f" or "0x2A19".
func ParseUUID(s string) (uuid.UUID, error) {
	short := strings.TrimPrefix(strings.ToLower(s), "0x")
	switch len(short) {
	case 4, 8:
		v, err := strconv.ParseUint(short, 16, 32)
		if err != nil {
			return uuid.Nil, fmt.Errorf("ble: parse short uuid %q: %w", s, err)
		}
		u := baseUUID
		u[0] = byte(v >> 24)
		u[1] = byte(v >> 16)
		u[2] = byte(v >> 8)
		u[3] = byte(v)
		return u, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ble: parse uuid %q: %w", s, err)
	}
	return u, nil
}

// MustParseUUID is like ParseUUID but panics on malformed input.
func MustParseUUID(s string) uuid.UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ShortUUID returns the 16-bit form of a SIG-assigned UUID, or the full
// string for vendor UUIDs. Used for log output only.
func ShortUUID(u uuid.UUID) string {
	rest := u
	rest[0], rest[1], rest[2], rest[3] = 0, 0, 0, 0
	if rest != baseUUID || u[0] != 0 || u[1] != 0 {
		return u.String()
	}
	return fmt.Sprintf("%02x%02x", u[2], u[3])
}
