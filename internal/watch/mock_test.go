package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/ble"
	"github.com/MagneFire/AsteroidOSSync/internal/ble/bletest"
	"github.com/MagneFire/AsteroidOSSync/internal/connectivity"
)

var (
	testService = uuid.MustParse("00006071-0000-0000-0000-00a57e401d05")
	testInbound = uuid.MustParse("00006002-0000-0000-0000-00a57e401d05")
	testOutput  = uuid.MustParse("00006001-0000-0000-0000-00a57e401d05")
	testDevice  = Device{Address: "AA:BB:CC:DD:EE:FF", Name: "catfish"}
)

// mockService counts lifecycle calls and records payloads.
type mockService struct {
	mu        sync.Mutex
	syncs     int
	unsyncs   int
	lifecycle []string
	received  [][]byte

	// onSync, when set, runs inside Sync.
	onSync func()
}

func (s *mockService) ServiceUUID() uuid.UUID { return testService }

func (s *mockService) Characteristics() []connectivity.Characteristic {
	return []connectivity.Characteristic{
		{UUID: testInbound, Direction: connectivity.FromDevice},
		{UUID: testOutput, Direction: connectivity.ToDevice},
	}
}

func (s *mockService) Sync() {
	s.mu.Lock()
	s.syncs++
	s.lifecycle = append(s.lifecycle, "sync")
	hook := s.onSync
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (s *mockService) Unsync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsyncs++
	s.lifecycle = append(s.lifecycle, "unsync")
}

func (s *mockService) Lifecycle() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lifecycle...)
}

func (s *mockService) OnReceive(_ uuid.UUID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, data)
}

func (s *mockService) counts() (syncs, unsyncs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs, s.unsyncs
}

// mockObserver records every event.
type mockObserver struct {
	mu      sync.Mutex
	states  []State
	names   []string
	battery []int
	errs    []error

	// onState, when set, runs after a state change is recorded.
	onState func(State)
}

func (o *mockObserver) OnStateChanged(state State, name string) {
	o.mu.Lock()
	o.states = append(o.states, state)
	o.names = append(o.names, name)
	hook := o.onState
	o.mu.Unlock()
	if hook != nil {
		hook(state)
	}
}

func (o *mockObserver) setOnState(hook func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onState = hook
}

func (o *mockObserver) OnBatteryChanged(p int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.battery = append(o.battery, p)
}

func (o *mockObserver) OnConnectionError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *mockObserver) States() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

func (o *mockObserver) Batteries() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.battery...)
}

func (o *mockObserver) Errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

func (o *mockObserver) saw(s State) bool {
	for _, got := range o.States() {
		if got == s {
			return true
		}
	}
	return false
}

// testOptions disables auto-reconnect and waits between retries.
func testOptions() Options {
	opts := DefaultOptions()
	opts.Connect.AutoReconnect = false
	opts.Connect.Retries = 0
	opts.Connect.RetryDelay = 0
	return opts
}

// watchFake returns a fake exposing everything the test service needs.
func watchFake() *bletest.Transport {
	tr := bletest.New().AddWatchBasics()
	tr.AddCharacteristic(testService, testInbound, ble.PropertyNotify)
	tr.AddCharacteristic(testService, testOutput, ble.PropertyWrite)
	tr.SetValue(ble.BatteryLevelUUID, []byte{80})
	return tr
}

func newTestManager(t *testing.T, tr *bletest.Transport, opts Options) (*Manager, *mockService, *mockObserver) {
	t.Helper()
	reg := connectivity.NewRegistry()
	svc := &mockService{}
	if err := reg.RegisterService(svc); err != nil {
		t.Fatalf("RegisterService() error = %v", err)
	}
	obs := &mockObserver{}
	m := NewManager(tr, reg, obs, opts)
	m.SetDevice(testDevice)
	t.Cleanup(func() { m.Close() })
	return m, svc, obs
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
