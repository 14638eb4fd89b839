package services

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
	"github.com/MagneFire/AsteroidOSSync/internal/connectivity"
)

// AsteroidOS service and characteristic UUIDs.
var (
	TimeServiceUUID = ble.MustParseUUID("00005071-0000-0000-0000-00a57e401d05")
	TimeSetUUID     = ble.MustParseUUID("00005001-0000-0000-0000-00a57e401d05")

	ScreenshotServiceUUID = ble.MustParseUUID("00006071-0000-0000-0000-00a57e401d05")
	ScreenshotRequestUUID = ble.MustParseUUID("00006001-0000-0000-0000-00a57e401d05")
	ScreenshotContentUUID = ble.MustParseUUID("00006002-0000-0000-0000-00a57e401d05")

	MediaServiceUUID  = ble.MustParseUUID("00007071-0000-0000-0000-00a57e401d05")
	MediaTitleUUID    = ble.MustParseUUID("00007001-0000-0000-0000-00a57e401d05")
	MediaAlbumUUID    = ble.MustParseUUID("00007002-0000-0000-0000-00a57e401d05")
	MediaArtistUUID   = ble.MustParseUUID("00007003-0000-0000-0000-00a57e401d05")
	MediaPlayingUUID  = ble.MustParseUUID("00007004-0000-0000-0000-00a57e401d05")
	MediaCommandsUUID = ble.MustParseUUID("00007005-0000-0000-0000-00a57e401d05")
	MediaVolumeUUID   = ble.MustParseUUID("00007006-0000-0000-0000-00a57e401d05")

	WeatherServiceUUID = ble.MustParseUUID("00008071-0000-0000-0000-00a57e401d05")
	WeatherCityUUID    = ble.MustParseUUID("00008001-0000-0000-0000-00a57e401d05")
	WeatherIDsUUID     = ble.MustParseUUID("00008002-0000-0000-0000-00a57e401d05")
	WeatherMinTempUUID = ble.MustParseUUID("00008003-0000-0000-0000-00a57e401d05")
	WeatherMaxTempUUID = ble.MustParseUUID("00008004-0000-0000-0000-00a57e401d05")

	NotificationFeedbackUUID = ble.MustParseUUID("00009002-0000-0000-0000-00a57e401d05")
)

func to(char uuid.UUID) connectivity.Characteristic {
	return connectivity.Characteristic{UUID: char, Direction: connectivity.ToDevice}
}

func from(char uuid.UUID) connectivity.Characteristic {
	return connectivity.Characteristic{UUID: char, Direction: connectivity.FromDevice}
}

// NewTime creates the time module. On every sync it writes the current
// local time from now.
func NewTime(sender connectivity.Sender, now func() time.Time) *Module {
	if now == nil {
		now = time.Now
	}
	m := newModule("time", TimeServiceUUID, sender, to(TimeSetUUID))
	m.onSync = func(m *Module) {
		if err := m.Send(TimeSetUUID, EncodeTime(now())); err != nil {
			slog.Warn("[SERVICE] set time failed", "error", err)
		}
	}
	return m
}

// EncodeTime packs t as year-1900, month (0-based), day, hour, minute,
// second.
func EncodeTime(t time.Time) []byte {
	return []byte{
		byte(t.Year() - 1900),
		byte(t.Month() - 1),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
	}
}

// NewWeather creates the weather module.
func NewWeather(sender connectivity.Sender) *Module {
	return newModule("weather", WeatherServiceUUID, sender,
		to(WeatherCityUUID),
		to(WeatherIDsUUID),
		to(WeatherMinTempUUID),
		to(WeatherMaxTempUUID),
	)
}

// NewNotifications creates the notification module.
func NewNotifications(sender connectivity.Sender) *Module {
	return newModule("notifications", ble.NotificationServiceUUID, sender,
		to(ble.NotificationUpdateCharUUID),
		from(NotificationFeedbackUUID),
	)
}

// NewMedia creates the media module.
func NewMedia(sender connectivity.Sender) *Module {
	return newModule("media", MediaServiceUUID, sender,
		to(MediaTitleUUID),
		to(MediaAlbumUUID),
		to(MediaArtistUUID),
		to(MediaPlayingUUID),
		from(MediaCommandsUUID),
		to(MediaVolumeUUID),
	)
}

// NewScreenshot creates the screenshot module.
func NewScreenshot(sender connectivity.Sender) *Module {
	return newModule("screenshot", ScreenshotServiceUUID, sender,
		to(ScreenshotRequestUUID),
		from(ScreenshotContentUUID),
	)
}
