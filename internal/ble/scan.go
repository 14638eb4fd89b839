package ble

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// WatchAdvertisementUUID is the service UUID AsteroidOS watches advertise.
var WatchAdvertisementUUID = uuid.MustParse("00000000-0000-0000-0000-00a57e401d05")

// Advertisement is one peripheral seen during a scan.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int
}

// Scanner discovers advertising peripherals. Scan runs until ctx is done
// and reports every advertisement that carries the given service UUID.
type Scanner interface {
	Scan(ctx context.Context, service uuid.UUID, found func(Advertisement)) error
}

// ScanForWatches scans for AsteroidOS watches for the given duration and
// returns one entry per address, strongest signal first.
func ScanForWatches(ctx context.Context, s Scanner, timeout time.Duration) ([]Advertisement, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seen := make(map[string]int)
	var watches []Advertisement
	err := s.Scan(ctx, WatchAdvertisementUUID, func(adv Advertisement) {
		if i, ok := seen[adv.Address]; ok {
			// Later advertisements may carry the name the first one lacked.
			if watches[i].Name == "" {
				watches[i].Name = adv.Name
			}
			watches[i].RSSI = max(watches[i].RSSI, adv.RSSI)
			return
		}
		seen[adv.Address] = len(watches)
		watches = append(watches, adv)
	})
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	slices.SortStableFunc(watches, func(a, b Advertisement) int { return cmp.Compare(b.RSSI, a.RSSI) })
	return watches, nil
}
