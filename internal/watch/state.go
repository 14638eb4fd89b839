// Package watch drives the connection to an AsteroidOS watch: the session
// state machine, the built-in battery monitor and the host command loop.
package watch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned by transitions requested from a state that
	// does not allow them.
	ErrInvalidState = errors.New("watch: invalid state")
	// ErrNoDevice is returned by Connect when no device identity is set.
	ErrNoDevice = errors.New("watch: no device set")
)

// State is the connection state of the session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Device identifies the paired watch.
type Device struct {
	Address string
	Name    string
}

// Observer receives session events. Calls are made without internal locks
// held and may arrive from any goroutine.
type Observer interface {
	OnStateChanged(state State, deviceName string)
	OnBatteryChanged(percentage int)
	OnConnectionError(err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StateChanged    func(state State, deviceName string)
	BatteryChanged  func(percentage int)
	ConnectionError func(err error)
}

func (f ObserverFuncs) OnStateChanged(state State, deviceName string) {
	if f.StateChanged != nil {
		f.StateChanged(state, deviceName)
	}
}

func (f ObserverFuncs) OnBatteryChanged(percentage int) {
	if f.BatteryChanged != nil {
		f.BatteryChanged(percentage)
	}
}

func (f ObserverFuncs) OnConnectionError(err error) {
	if f.ConnectionError != nil {
		f.ConnectionError(err)
	}
}
