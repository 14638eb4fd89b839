package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// CommandKind is a request from the host process.
type CommandKind int

const (
	CommandConnect CommandKind = iota
	CommandDisconnect
	CommandSetDevice
	CommandUnsetDevice
	CommandRequestBattery
	CommandUpdate
)

func (k CommandKind) String() string {
	switch k {
	case CommandConnect:
		return "connect"
	case CommandDisconnect:
		return "disconnect"
	case CommandSetDevice:
		return "set-device"
	case CommandUnsetDevice:
		return "unset-device"
	case CommandRequestBattery:
		return "request-battery"
	case CommandUpdate:
		return "update"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is one host request. Device is only used by CommandSetDevice.
type Command struct {
	Kind   CommandKind
	Device Device
}

// Serve handles commands until ctx is done or cmds is closed. Connects run
// in the background so a disconnect can interrupt them.
func (m *Manager) Serve(ctx context.Context, cmds <-chan Command) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			m.handle(ctx, cmd)
		}
	}
}

func (m *Manager) handle(ctx context.Context, cmd Command) {
	slog.Debug("[WATCH] command", "kind", cmd.Kind)
	switch cmd.Kind {
	case CommandConnect:
		go func() {
			if err := m.Connect(ctx); err != nil {
				slog.Warn("[WATCH] connect command failed", "error", err)
			}
		}()
	case CommandDisconnect:
		if err := m.Disconnect(); err != nil {
			if errors.Is(err, ErrInvalidState) {
				slog.Debug("[WATCH] disconnect ignored", "error", err)
				return
			}
			slog.Warn("[WATCH] disconnect command failed", "error", err)
		}
	case CommandSetDevice:
		m.SetDevice(cmd.Device)
	case CommandUnsetDevice:
		m.UnsetDevice()
	case CommandRequestBattery:
		m.RequestBattery()
	case CommandUpdate:
		m.Update()
	default:
		slog.Warn("[WATCH] unknown command", "kind", cmd.Kind)
	}
}
