package ble

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseUUID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"180f", "0000180f-0000-1000-8000-00805f9b34fb"},
		{"0x2A19", "00002a19-0000-1000-8000-00805f9b34fb"},
		{"0000180F", "0000180f-0000-1000-8000-00805f9b34fb"},
		{"00009071-0000-0000-0000-00A57E401D05", "00009071-0000-0000-0000-00a57e401d05"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseUUID(tt.input)
			if err != nil {
				t.Fatalf("ParseUUID(%q) error = %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseUUID(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseUUIDInvalid(t *testing.T) {
	for _, in := range []string{"", "zz0f", "not-a-uuid", "18zzzzzz"} {
		if _, err := ParseUUID(in); err == nil {
			t.Errorf("ParseUUID(%q) should fail", in)
		}
	}
}

func TestShortUUID(t *testing.T) {
	if got := ShortUUID(BatteryLevelUUID); got != "2a19" {
		t.Errorf("ShortUUID(battery level) = %q, want %q", got, "2a19")
	}
	vendor := uuid.MustParse("00009001-0000-0000-0000-00a57e401d05")
	if got := ShortUUID(vendor); got != vendor.String() {
		t.Errorf("ShortUUID(vendor) = %q, want full form", got)
	}
}

func TestPropertyFlags(t *testing.T) {
	p := PropertyRead | PropertyNotify
	if !p.Has(PropertyRead) {
		t.Error("Has(PropertyRead) = false")
	}
	if p.Has(PropertyWrite) {
		t.Error("Has(PropertyWrite) = true")
	}
	if !p.CanNotify() {
		t.Error("CanNotify() = false for notify")
	}
	if !PropertyIndicate.CanNotify() {
		t.Error("CanNotify() = false for indicate")
	}
	if PropertyRead.CanNotify() {
		t.Error("CanNotify() = true for read-only")
	}
}
