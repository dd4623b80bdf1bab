package receiver

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"beam/internal/storage"
	"beam/pkg/beamclient/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockInbox struct {
	mock.Mock
}

func (m *mockInbox) Ack(ctx context.Context, device Device, itemID string) error {
	args := m.Called(ctx, device, itemID)
	return args.Error(0)
}

func (m *mockInbox) ListPending(ctx context.Context, device Device) ([]types.PendingItem, error) {
	args := m.Called(ctx, device)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.PendingItem), args.Error(1)
}

type mockTabs struct {
	mock.Mock
}

func (m *mockTabs) Create(ctx context.Context, url string, active bool) error {
	args := m.Called(ctx, url, active)
	return args.Error(0)
}

func (m *mockTabs) openedURLs() []string {
	var urls []string
	for _, call := range m.Calls {
		urls = append(urls, call.Arguments.String(1))
	}
	return urls
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type mockEnsurer struct {
	mock.Mock
}

func (m *mockEnsurer) EnsureRegistration(ctx context.Context, cfg Config) (*Registration, error) {
	args := m.Called(ctx, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Registration), args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeScheduler holds callbacks until the test fires them
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, f)
	s.mu.Unlock()
}

func (s *fakeScheduler) fire() int {
	s.mu.Lock()
	fns := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, f := range fns {
		f()
	}
	return len(fns)
}

func (s *fakeScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStorage(t *testing.T, values map[string]interface{}) *KVStorage {
	t.Helper()
	s := NewKVStorage(storage.NewMemoryKV())
	for k, v := range values {
		require.NoError(t, s.Set(context.Background(), k, v))
	}
	return s
}
