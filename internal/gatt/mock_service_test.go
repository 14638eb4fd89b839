package gatt

import (
	"sync"

	"github.com/google/uuid"

	"github.com/MagneFire/AsteroidOSSync/internal/connectivity"
)

type received struct {
	char uuid.UUID
	data []byte
}

// mockService records every payload it receives.
type mockService struct {
	service uuid.UUID
	chars   []connectivity.Characteristic

	mu       sync.Mutex
	received []received
}

func newMockService(service uuid.UUID, chars ...connectivity.Characteristic) *mockService {
	return &mockService{service: service, chars: chars}
}

func (m *mockService) ServiceUUID() uuid.UUID                         { return m.service }
func (m *mockService) Characteristics() []connectivity.Characteristic { return m.chars }
func (m *mockService) Sync()                                          {}
func (m *mockService) Unsync()                                        {}

func (m *mockService) OnReceive(char uuid.UUID, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, received{char: char, data: data})
}

func (m *mockService) Received() []received {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]received, len(m.received))
	copy(out, m.received)
	return out
}

func descriptors(svcs ...connectivity.Service) []connectivity.Descriptor {
	out := make([]connectivity.Descriptor, 0, len(svcs))
	for _, s := range svcs {
		out = append(out, connectivity.NewDescriptor(s))
	}
	return out
}

var (
	svc1  = uuid.MustParse("00006071-0000-0000-0000-00a57e401d05")
	char1 = uuid.MustParse("00006002-0000-0000-0000-00a57e401d05")
	char2 = uuid.MustParse("00006001-0000-0000-0000-00a57e401d05")
	svc2  = uuid.MustParse("00007071-0000-0000-0000-00a57e401d05")
	char3 = uuid.MustParse("00007001-0000-0000-0000-00a57e401d05")
	char4 = uuid.MustParse("00007005-0000-0000-0000-00a57e401d05")
)
