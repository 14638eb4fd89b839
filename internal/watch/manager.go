package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
	"github.com/MagneFire/AsteroidOSSync/internal/connectivity"
	"github.com/MagneFire/AsteroidOSSync/internal/gatt"
)

// errSessionEnded is returned by a connect whose session was ended while its
// services were being synced.
var errSessionEnded = fmt.Errorf("%w: session ended while syncing", ErrInvalidState)

// Options configures a Manager.
type Options struct {
	Connect      ble.ConnectOptions
	MTU          int // requested ATT MTU
	ReconnectMax int // max reconnect backoff in seconds
	Binder       gatt.BinderOptions
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Connect: ble.ConnectOptions{
			AutoReconnect: true,
			Timeout:       100 * time.Second,
			Retries:       3,
			RetryDelay:    200 * time.Millisecond,
		},
		MTU:          256,
		ReconnectMax: 30,
		Binder:       gatt.BinderOptions{RequireNotification: true},
	}
}

// Manager owns the session with one watch. Every piece of session state is
// changed by a transition method; callers only observe it.
type Manager struct {
	transport ble.Transport
	link      *ble.Link
	registry  *connectivity.Registry
	binder    *gatt.Binder
	router    *gatt.Router
	battery   *Monitor
	observer  Observer
	opts      Options

	// connectMu is held for the whole of an establish so a new session never
	// starts while a superseded one is still unwinding.
	connectMu sync.Mutex
	// syncMu is held while services are synced. Teardown takes it before
	// unsyncing so an unsync never runs ahead of its sync.
	syncMu sync.Mutex

	mu          sync.Mutex
	state       State
	device      Device
	hasDevice   bool
	mtu         int
	session     uint64 // bumped whenever the current session ends
	cancel      context.CancelFunc
	synced      []connectivity.Service
	tearingDown bool
	closed      bool
	stopRetry   chan struct{} // closed to stop the reconnect loop

	reconnecting atomic.Bool
	batteryLevel atomic.Int32
}

// NewManager creates a Manager in the Disconnected state. Services are taken
// from registry at every connect. A nil observer discards events.
func NewManager(t ble.Transport, registry *connectivity.Registry, observer Observer, opts Options) *Manager {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	if opts.MTU <= 0 {
		opts.MTU = ble.DefaultMTU
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30
	}
	link := ble.NewLink(t)
	m := &Manager{
		transport: t,
		link:      link,
		registry:  registry,
		binder:    gatt.NewBinder(opts.Binder),
		router:    gatt.NewRouter(link),
		observer:  observer,
		opts:      opts,
		mtu:       ble.DefaultMTU,
	}
	m.batteryLevel.Store(-1)
	m.battery = NewMonitor(link, m.setBattery)
	t.OnDisconnect(m.onLinkLost)
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Device returns the device identity and whether one is set.
func (m *Manager) Device() (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device, m.hasDevice
}

// Battery returns the last reported battery percentage, or -1.
func (m *Manager) Battery() int {
	return int(m.batteryLevel.Load())
}

// MTU returns the MTU of the current session, or the default.
func (m *Manager) MTU() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mtu
}

// Routes returns the routing tables of the current session.
func (m *Manager) Routes() *gatt.Tables {
	return m.router.Tables()
}

// Send writes data to a bound outbound characteristic. It implements
// connectivity.Sender for the registered services.
func (m *Manager) Send(char uuid.UUID, data []byte) error {
	return m.router.Send(char, data)
}

var _ connectivity.Sender = (*Manager)(nil)

// SetDevice stores the identity of the watch to connect to.
func (m *Manager) SetDevice(d Device) {
	m.mu.Lock()
	m.device = d
	m.hasDevice = true
	state := m.state
	m.mu.Unlock()
	slog.Info("[WATCH] device set", "address", d.Address, "name", d.Name)
	m.observer.OnStateChanged(state, d.Name)
}

// UnsetDevice disconnects if needed and forgets the device identity.
func (m *Manager) UnsetDevice() {
	m.mu.Lock()
	m.stopReconnectLocked()
	state := m.state
	m.mu.Unlock()

	if state == Connecting || state == Connected {
		if err := m.Disconnect(); err != nil {
			slog.Warn("[WATCH] disconnect on unset failed", "error", err)
		}
	}

	m.mu.Lock()
	m.device = Device{}
	m.hasDevice = false
	state = m.state
	m.mu.Unlock()
	slog.Info("[WATCH] device unset")
	m.observer.OnStateChanged(state, "")
}

// Update re-announces the current state if a device is set.
func (m *Manager) Update() {
	m.mu.Lock()
	state, name, ok := m.state, m.device.Name, m.hasDevice
	m.mu.Unlock()
	if ok {
		m.observer.OnStateChanged(state, name)
	}
}

// RequestBattery re-announces the last battery level, then the state.
func (m *Manager) RequestBattery() {
	if level := m.Battery(); level >= 0 {
		m.observer.OnBatteryChanged(level)
	}
	m.Update()
}

func (m *Manager) setBattery(level int) {
	m.batteryLevel.Store(int32(level))
	m.observer.OnBatteryChanged(level)
}

// Connect opens a session with the configured device and blocks until it is
// Connected or has failed. It is a no-op unless the manager is Disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: manager closed", ErrInvalidState)
	}
	if m.state != Disconnected || m.tearingDown {
		state := m.state
		m.mu.Unlock()
		slog.Debug("[WATCH] connect ignored", "state", state)
		return nil
	}
	if !m.hasDevice {
		m.mu.Unlock()
		return ErrNoDevice
	}
	dev := m.device
	gen := m.session
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancel = cancel
	m.state = Connecting
	m.mu.Unlock()

	m.observer.OnStateChanged(Connecting, dev.Name)

	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	return m.establish(ctx, gen, dev)
}

// establish runs the ordered connect batch: link, MTU, bind, battery,
// subscriptions, then Connected and sync.
func (m *Manager) establish(ctx context.Context, gen uint64, dev Device) error {
	if !m.current(gen) {
		return fmt.Errorf("%w: connect superseded", ErrInvalidState)
	}
	slog.Info("[WATCH] connecting", "address", dev.Address, "name", dev.Name)

	if err := m.transport.Connect(ctx, dev.Address, m.opts.Connect); err != nil {
		return m.fail(gen, fmt.Errorf("watch: connect to %s: %w", dev.Address, err), false)
	}
	if !m.current(gen) {
		return m.superseded(ctx)
	}

	mtu, err := m.link.RequestMTU(m.opts.MTU)
	if err != nil {
		slog.Warn("[WATCH] MTU request failed, using default", "error", err, "mtu", ble.DefaultMTU)
		mtu = ble.DefaultMTU
	}

	services := m.registry.All()
	binding, err := m.binder.Bind(m.transport, services)
	if err != nil {
		return m.fail(gen, fmt.Errorf("watch: bind %s: %w", dev.Address, err), true)
	}
	if !m.current(gen) {
		return m.superseded(ctx)
	}

	m.battery.Start(binding.Battery)
	m.router.Install(binding.Tables)

	m.mu.Lock()
	if m.session != gen || m.state != Connecting {
		m.mu.Unlock()
		m.router.Clear()
		m.battery.Stop()
		return m.superseded(ctx)
	}
	m.state = Connected
	m.mtu = mtu
	m.synced = nil
	m.mu.Unlock()

	n := m.syncServices(gen, services)

	m.mu.Lock()
	ended := m.session != gen
	m.mu.Unlock()
	if ended {
		slog.Debug("[WATCH] session ended while syncing", "synced", n)
		return errSessionEnded
	}

	slog.Info("[WATCH] connected", "address", dev.Address, "mtu", mtu, "services", n)
	m.observer.OnStateChanged(Connected, dev.Name)
	return nil
}

// syncServices calls Sync on each service in registry order while gen is
// the current session. Returns how many were synced.
func (m *Manager) syncServices(gen uint64, services []connectivity.Descriptor) int {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	n := 0
	for _, d := range services {
		m.mu.Lock()
		if m.session != gen {
			m.mu.Unlock()
			break
		}
		m.synced = append(m.synced, d.Service)
		m.mu.Unlock()

		d.Service.Sync()
		n++
	}
	return n
}

// current reports whether gen is still the session being established.
func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session == gen && m.state == Connecting
}

// superseded abandons an establish whose session was ended by Disconnect or
// link loss. The link may have come up after the session ended.
func (m *Manager) superseded(ctx context.Context) error {
	slog.Debug("[WATCH] connect superseded")
	if err := m.transport.Disconnect(); err != nil {
		slog.Debug("[WATCH] disconnect superseded link", "error", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("watch: connect: %w", err)
	}
	return fmt.Errorf("%w: connect superseded", ErrInvalidState)
}

// fail ends a connect attempt that did not reach Connected.
func (m *Manager) fail(gen uint64, err error, dropLink bool) error {
	m.router.Clear()
	m.battery.Stop()
	m.link.Abort()
	if dropLink {
		if derr := m.transport.Disconnect(); derr != nil {
			slog.Warn("[WATCH] disconnect after failed connect", "error", derr)
		}
	}

	m.mu.Lock()
	if m.session != gen || m.state != Connecting {
		m.mu.Unlock()
		return err
	}
	m.session++
	m.state = Disconnected
	m.mtu = ble.DefaultMTU
	name := m.device.Name
	m.mu.Unlock()

	slog.Error("[WATCH] connect failed", "error", err)
	m.observer.OnStateChanged(Disconnected, name)
	m.observer.OnConnectionError(err)
	return err
}

// Disconnect ends the session. Valid from Connecting and Connected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if (m.state != Connecting && m.state != Connected) || m.tearingDown {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: disconnect from %s", ErrInvalidState, state)
	}
	m.stopReconnectLocked()
	m.endSessionLocked()
	m.state = Disconnecting
	name := m.device.Name
	m.mu.Unlock()

	slog.Info("[WATCH] disconnecting")
	m.observer.OnStateChanged(Disconnecting, name)

	m.teardown(true)

	m.mu.Lock()
	m.state = Disconnected
	m.tearingDown = false
	m.mtu = ble.DefaultMTU
	m.mu.Unlock()

	slog.Info("[WATCH] disconnected")
	m.observer.OnStateChanged(Disconnected, name)
	return nil
}

// onLinkLost handles a disconnect the host did not ask for.
func (m *Manager) onLinkLost(reason error) {
	m.mu.Lock()
	if (m.state != Connecting && m.state != Connected) || m.tearingDown {
		m.mu.Unlock()
		return
	}
	m.endSessionLocked()
	name := m.device.Name
	m.mu.Unlock()

	slog.Warn("[WATCH] link lost", "reason", reason)
	m.teardown(false)

	m.mu.Lock()
	m.state = Disconnected
	m.tearingDown = false
	m.mtu = ble.DefaultMTU
	retry := m.opts.Connect.AutoReconnect && m.hasDevice && !m.closed
	m.mu.Unlock()

	m.observer.OnStateChanged(Disconnected, name)
	m.observer.OnConnectionError(fmt.Errorf("watch: link lost: %w", reason))

	if retry {
		m.startReconnect()
	}
}

// endSessionLocked invalidates the current session (caller must hold mu).
func (m *Manager) endSessionLocked() {
	m.session++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.tearingDown = true
}

// teardown unsyncs the services synced in the ended session, once a
// running sync pass has finished, then releases the session resources.
func (m *Manager) teardown(dropLink bool) {
	m.syncMu.Lock()
	m.mu.Lock()
	synced := m.synced
	m.synced = nil
	m.mu.Unlock()
	for _, s := range synced {
		s.Unsync()
	}
	m.syncMu.Unlock()

	m.router.Clear()
	m.battery.Stop()
	if n := m.link.Abort(); n > 0 {
		slog.Debug("[WATCH] aborted pending operations", "count", n)
	}
	if dropLink {
		if err := m.transport.Disconnect(); err != nil {
			slog.Warn("[WATCH] transport disconnect failed", "error", err)
		}
	}
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	ceiling := time.Duration(maxSeconds) * time.Second
	if attempt >= 30 {
		return ceiling
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// startReconnect launches the reconnect loop unless one is already running.
func (m *Manager) startReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	stop := make(chan struct{})
	m.stopRetry = stop
	go m.reconnectLoop(stop)
}

// stopReconnectLocked stops a running reconnect loop (caller must hold mu).
func (m *Manager) stopReconnectLocked() {
	if m.stopRetry != nil {
		close(m.stopRetry)
		m.stopRetry = nil
	}
}

// reconnectLoop attempts to reconnect with exponential backoff. A link that
// drops while the loop is finishing starts a new loop.
func (m *Manager) reconnectLoop(stop <-chan struct{}) {
	reconnected := m.reconnect(stop)
	m.reconnecting.Store(false)
	if !reconnected {
		return
	}

	select {
	case <-stop:
		return
	default:
	}
	m.mu.Lock()
	lost := m.state == Disconnected && m.hasDevice && !m.closed && m.opts.Connect.AutoReconnect
	m.mu.Unlock()
	if lost {
		slog.Info("[WATCH] link lost right after reconnect, retrying")
		m.startReconnect()
	}
}

// reconnect runs connect attempts until one succeeds, the loop is stopped or
// the error is final. Reports whether a connect succeeded.
func (m *Manager) reconnect(stop <-chan struct{}) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 0; ; attempt++ {
		// On the first attempt, try immediately; subsequent attempts use backoff.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, m.opts.ReconnectMax)
			slog.Info("[WATCH] reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-stop:
				return false
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return false
		}

		err := m.Connect(ctx)
		switch {
		case err == nil:
			slog.Info("[WATCH] reconnected")
			return true
		case errors.Is(err, errSessionEnded):
			return true
		case errors.Is(err, ErrNoDevice), errors.Is(err, ErrInvalidState), errors.Is(err, gatt.ErrUnsupported):
			slog.Warn("[WATCH] giving up reconnect", "error", err)
			return false
		default:
			slog.Warn("[WATCH] reconnect failed", "error", err, "attempt", attempt+1)
		}
	}
}

// Close ends any session, stops reconnecting and releases the link.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopReconnectLocked()
	state := m.state
	m.mu.Unlock()

	if state == Connecting || state == Connected {
		if err := m.Disconnect(); err != nil && !errors.Is(err, ErrInvalidState) {
			return err
		}
	}
	m.link.Close()
	return nil
}
