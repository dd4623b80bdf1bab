package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"beam/internal/models"
	"beam/internal/storage"
	"beam/pkg/webpush"
)

// Mock push sender
type mockPushSender struct {
	mock.Mock
}

func (m *mockPushSender) Send(ctx context.Context, sub webpush.Subscription, payload []byte, opts ...webpush.EncryptOption) (webpush.Result, error) {
	args := m.Called(ctx, sub, payload)
	return args.Get(0).(webpush.Result), args.Error(1)
}

// Mock dispatcher
type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, device *models.Device, item *models.PendingItem) error {
	args := m.Called(ctx, device, item)
	return args.Error(0)
}

// Mock purger
type mockPurger struct {
	mock.Mock
}

func (m *mockPurger) PurgeExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// Mock sweeper
type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// failingKV fails every operation after the wrapped store has been seeded
type failingKV struct {
	storage.KV
	err error
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, f.err
}

func (f *failingKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// fixedClock returns a settable time source
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
