package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"beam/internal/models"
	"beam/pkg/beamclient/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testDevice = Device{
	DeviceID:   "chr_test123",
	InboxKey:   "secretKey",
	APIBaseURL: "https://api.example.com",
	Name:       "Test Laptop",
}

var testConfig = Config{APIBaseURL: "https://api.example.com", DeviceName: "Test Laptop"}

type runtimeFixture struct {
	runtime   *Runtime
	storage   *KVStorage
	inbox     *mockInbox
	tabs      *mockTabs
	notifier  *mockNotifier
	clock     *fakeClock
	scheduler *fakeScheduler
}

func newRuntimeFixture(t *testing.T, values map[string]interface{}) *runtimeFixture {
	t.Helper()
	if values == nil {
		values = map[string]interface{}{KeyDevice: testDevice, KeyConfig: testConfig}
	}
	f := &runtimeFixture{
		storage:   newTestStorage(t, values),
		inbox:     new(mockInbox),
		tabs:      new(mockTabs),
		notifier:  new(mockNotifier),
		clock:     newFakeClock(),
		scheduler: &fakeScheduler{},
	}
	f.runtime = NewRuntime(Deps{
		Storage:   f.storage,
		Inbox:     f.inbox,
		Tabs:      f.tabs,
		Notifier:  f.notifier,
		Clock:     f.clock,
		Scheduler: f.scheduler,
		Logger:    quietLogger(),
	})
	return f
}

func payload(itemID, url string) models.PushPayload {
	return models.PushPayload{ItemID: itemID, URL: url, SentAt: "2026-03-01T12:00:00Z"}
}

func TestHandlePush_OpensTabAndAcknowledges(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", ctx, "https://example.com", true).Return(nil).Once()
	f.inbox.On("Ack", ctx, testDevice, "itm_1").Return(nil).Once()

	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com")))

	f.tabs.AssertExpectations(t)
	f.inbox.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestHandlePush_DeviceNotRegistered(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{name: "missing record", values: map[string]interface{}{}},
		{name: "incomplete record", values: map[string]interface{}{KeyDevice: Device{DeviceID: "chr_test123"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRuntimeFixture(t, tt.values)
			err := f.runtime.HandlePush(context.Background(), payload("itm_1", "https://example.com"))
			assert.ErrorIs(t, err, ErrNotRegistered)
			f.tabs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
			f.inbox.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandlePush_DeduplicatesWithinWindow(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", ctx, "https://example.com", true).Return(nil)
	f.inbox.On("Ack", ctx, testDevice, mock.Anything).Return(nil)

	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com")))
	f.clock.Advance(59 * time.Second)
	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_2", "https://example.com")))

	f.tabs.AssertNumberOfCalls(t, "Create", 1)
	f.inbox.AssertNumberOfCalls(t, "Ack", 2)
	f.inbox.AssertCalled(t, "Ack", ctx, testDevice, "itm_2")

	// outside the window the URL opens again
	f.clock.Advance(time.Second)
	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_3", "https://example.com")))
	f.tabs.AssertNumberOfCalls(t, "Create", 2)
	f.inbox.AssertNumberOfCalls(t, "Ack", 3)
}

func TestHandlePush_StormControl(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", mock.Anything, mock.Anything, true).Return(nil)
	f.inbox.On("Ack", mock.Anything, testDevice, mock.Anything).Return(nil)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_"+id, "https://example.com/"+id)))
	}

	f.tabs.AssertNumberOfCalls(t, "Create", 3)
	f.inbox.AssertNumberOfCalls(t, "Ack", 3)
	require.Equal(t, 1, f.scheduler.pendingCount())
	assert.Equal(t, []time.Duration{time.Second}, f.scheduler.delays)

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.scheduler.fire())

	f.tabs.AssertNumberOfCalls(t, "Create", 4)
	f.inbox.AssertNumberOfCalls(t, "Ack", 4)
	assert.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	}, f.tabs.openedURLs())
	assert.Equal(t, 0, f.scheduler.pendingCount())
}

func TestHandlePush_BurstCompletesInCeilWindows(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", mock.Anything, mock.Anything, true).Return(nil)
	f.inbox.On("Ack", mock.Anything, testDevice, mock.Anything).Return(nil)

	for i := 0; i < 7; i++ {
		require.NoError(t, f.runtime.HandlePush(ctx, payload(fmt.Sprintf("itm_%d", i), fmt.Sprintf("https://example.com/%d", i))))
	}

	windows := 1
	for f.scheduler.pendingCount() > 0 {
		f.clock.Advance(time.Second)
		f.scheduler.fire()
		windows++
	}

	assert.Equal(t, 3, windows)
	f.tabs.AssertNumberOfCalls(t, "Create", 7)
	f.inbox.AssertNumberOfCalls(t, "Ack", 7)
}

func TestHandlePush_ConcurrentPushes(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", mock.Anything, mock.Anything, true).Return(nil)
	f.inbox.On("Ack", mock.Anything, testDevice, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.runtime.HandlePush(ctx, payload("itm_"+id, "https://example.com/"+id)))
		}(id)
	}
	wg.Wait()

	f.tabs.AssertNumberOfCalls(t, "Create", 3)
	assert.Equal(t, 1, f.scheduler.pendingCount())

	f.clock.Advance(time.Second)
	f.scheduler.fire()
	f.tabs.AssertNumberOfCalls(t, "Create", 4)
	f.inbox.AssertNumberOfCalls(t, "Ack", 4)
}

func TestHandlePush_SingleRescheduleWhileWaiting(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", mock.Anything, mock.Anything, true).Return(nil)
	f.inbox.On("Ack", mock.Anything, testDevice, mock.Anything).Return(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.runtime.HandlePush(ctx, payload(fmt.Sprintf("itm_%d", i), fmt.Sprintf("https://example.com/%d", i))))
	}

	assert.Equal(t, 1, f.scheduler.pendingCount())
}

func TestHandlePush_AutoOpenDisabled(t *testing.T) {
	disabled := false
	f := newRuntimeFixture(t, map[string]interface{}{
		KeyDevice:   testDevice,
		KeySettings: Settings{AutoOpen: &disabled},
	})
	ctx := context.Background()

	f.notifier.On("Notify", ctx, Notification{
		Title:   "Beam",
		Message: "https://example.com",
		URL:     "https://example.com",
	}).Return(nil).Once()
	f.inbox.On("Ack", ctx, testDevice, "itm_1").Return(nil).Once()

	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com")))

	f.tabs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
	f.inbox.AssertExpectations(t)
}

func TestHandlePush_AutoOpenDisabledNotifyFailureStillAcks(t *testing.T) {
	disabled := false
	f := newRuntimeFixture(t, map[string]interface{}{
		KeyDevice:   testDevice,
		KeySettings: Settings{AutoOpen: &disabled},
	})
	ctx := context.Background()

	f.notifier.On("Notify", ctx, mock.Anything).Return(errors.New("notifications blocked"))
	f.inbox.On("Ack", ctx, testDevice, "itm_1").Return(nil).Once()

	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com")))
	f.inbox.AssertExpectations(t)
}

func TestHandlePush_AutoOpenDisabledWithoutNotifier(t *testing.T) {
	disabled := false
	f := newRuntimeFixture(t, map[string]interface{}{
		KeyDevice:   testDevice,
		KeySettings: Settings{AutoOpen: &disabled},
	})
	f.runtime.deps.Notifier = nil
	ctx := context.Background()

	f.inbox.On("Ack", ctx, testDevice, "itm_1").Return(nil).Once()

	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com")))
	f.inbox.AssertExpectations(t)
}

func TestHandlePush_AutoOpenExplicitlyEnabled(t *testing.T) {
	enabled := true
	f := newRuntimeFixture(t, map[string]interface{}{
		KeyDevice:   testDevice,
		KeySettings: Settings{AutoOpen: &enabled},
	})
	ctx := context.Background()

	f.tabs.On("Create", ctx, "https://example.com", true).Return(nil).Once()
	f.inbox.On("Ack", ctx, testDevice, "itm_1").Return(nil).Once()

	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com")))
	f.tabs.AssertExpectations(t)
}

func TestHandlePush_TabFailureSkipsAck(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", ctx, "https://example.com/bad", true).Return(errors.New("no window"))
	f.tabs.On("Create", ctx, "https://example.com/good", true).Return(nil)
	f.inbox.On("Ack", ctx, testDevice, "itm_good").Return(nil).Once()

	err := f.runtime.HandlePush(ctx, payload("itm_bad", "https://example.com/bad"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open tab")

	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_good", "https://example.com/good")))
	f.inbox.AssertExpectations(t)
	f.inbox.AssertNotCalled(t, "Ack", ctx, testDevice, "itm_bad")
}

func TestHandlePush_AckFailureIsReturned(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", ctx, "https://example.com", true).Return(nil)
	f.inbox.On("Ack", ctx, testDevice, "itm_1").Return(errors.New("network down"))

	err := f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
}

func TestHandleStartup_ProcessesOldestFirst(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.inbox.On("ListPending", ctx, testDevice).Return([]types.PendingItem{
		{ItemID: "itm_2", URL: "https://example.com/2", CreatedAt: "2026-03-01T11:00:02Z"},
		{ItemID: "", URL: "https://example.com/no-id"},
		{ItemID: "itm_1", URL: "https://example.com/1", CreatedAt: "2026-03-01T11:00:01Z"},
		{ItemID: "itm_no_url"},
	}, nil)
	f.tabs.On("Create", ctx, mock.Anything, true).Return(nil)
	f.inbox.On("Ack", ctx, testDevice, mock.Anything).Return(nil)

	require.NoError(t, f.runtime.HandleStartup(ctx))

	assert.Equal(t, []string{"https://example.com/1", "https://example.com/2"}, f.tabs.openedURLs())
	f.inbox.AssertNumberOfCalls(t, "Ack", 2)
}

func TestHandleStartup_RespectsAutoOpenDisabled(t *testing.T) {
	disabled := false
	f := newRuntimeFixture(t, map[string]interface{}{
		KeyDevice:   testDevice,
		KeySettings: Settings{AutoOpen: &disabled},
	})
	ctx := context.Background()

	f.inbox.On("ListPending", ctx, testDevice).Return([]types.PendingItem{
		{ItemID: "itm_x", URL: "https://example.com/x"},
	}, nil)
	f.notifier.On("Notify", ctx, mock.Anything).Return(nil).Once()
	f.inbox.On("Ack", ctx, testDevice, "itm_x").Return(nil).Once()

	require.NoError(t, f.runtime.HandleStartup(ctx))

	f.tabs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
	f.inbox.AssertExpectations(t)
}

func TestHandleStartup_ContinuesAfterItemFailure(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.inbox.On("ListPending", ctx, testDevice).Return([]types.PendingItem{
		{ItemID: "itm_1", URL: "https://example.com/1", CreatedAt: "2026-03-01T11:00:01Z"},
		{ItemID: "itm_2", URL: "https://example.com/2", CreatedAt: "2026-03-01T11:00:02Z"},
	}, nil)
	f.tabs.On("Create", ctx, mock.Anything, true).Return(nil)
	f.inbox.On("Ack", ctx, testDevice, "itm_1").Return(errors.New("boom"))
	f.inbox.On("Ack", ctx, testDevice, "itm_2").Return(nil)

	err := f.runtime.HandleStartup(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	f.tabs.AssertNumberOfCalls(t, "Create", 2)
	f.inbox.AssertCalled(t, "Ack", ctx, testDevice, "itm_2")
}

func TestHandleStartup_ListFailure(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.inbox.On("ListPending", ctx, testDevice).Return(nil, errors.New("offline"))

	err := f.runtime.HandleStartup(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}

func TestHandleStartup_NotRegistered(t *testing.T) {
	f := newRuntimeFixture(t, map[string]interface{}{})
	assert.ErrorIs(t, f.runtime.HandleStartup(context.Background()), ErrNotRegistered)
	f.inbox.AssertNotCalled(t, "ListPending", mock.Anything, mock.Anything)
}

func TestHandleInstall(t *testing.T) {
	t.Run("ensures registration from stored config", func(t *testing.T) {
		f := newRuntimeFixture(t, map[string]interface{}{KeyConfig: testConfig})
		ensurer := new(mockEnsurer)
		f.runtime.deps.Registrar = ensurer
		ctx := context.Background()

		expected := &Registration{DeviceID: "chr_test123", InboxKey: "secretKey"}
		ensurer.On("EnsureRegistration", ctx, testConfig).Return(expected, nil).Once()

		reg, err := f.runtime.HandleInstall(ctx)
		require.NoError(t, err)
		assert.Equal(t, expected, reg)
		ensurer.AssertExpectations(t)
	})

	t.Run("missing config", func(t *testing.T) {
		f := newRuntimeFixture(t, map[string]interface{}{})
		f.runtime.deps.Registrar = new(mockEnsurer)
		_, err := f.runtime.HandleInstall(context.Background())
		assert.ErrorIs(t, err, ErrMissingConfig)
	})

	t.Run("incomplete config", func(t *testing.T) {
		f := newRuntimeFixture(t, map[string]interface{}{KeyConfig: Config{APIBaseURL: "https://api.example.com"}})
		f.runtime.deps.Registrar = new(mockEnsurer)
		_, err := f.runtime.HandleInstall(context.Background())
		assert.ErrorIs(t, err, ErrMissingConfig)
	})

	t.Run("clears cached device", func(t *testing.T) {
		f := newRuntimeFixture(t, nil)
		ensurer := new(mockEnsurer)
		f.runtime.deps.Registrar = ensurer
		ctx := context.Background()

		f.tabs.On("Create", ctx, mock.Anything, true).Return(nil)
		f.inbox.On("Ack", ctx, mock.Anything, mock.Anything).Return(nil)
		require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com/1")))

		rotated := testDevice
		rotated.InboxKey = "newKey"
		ensurer.On("EnsureRegistration", ctx, testConfig).Run(func(args mock.Arguments) {
			require.NoError(t, f.storage.Set(ctx, KeyDevice, rotated))
		}).Return(&Registration{DeviceID: rotated.DeviceID, InboxKey: rotated.InboxKey}, nil)

		_, err := f.runtime.HandleInstall(ctx)
		require.NoError(t, err)

		require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_2", "https://example.com/2")))
		f.inbox.AssertCalled(t, "Ack", ctx, rotated, "itm_2")
	})
}

func TestReset(t *testing.T) {
	f := newRuntimeFixture(t, nil)
	ctx := context.Background()

	f.tabs.On("Create", ctx, "https://example.com", true).Return(nil)
	f.inbox.On("Ack", ctx, testDevice, mock.Anything).Return(nil)

	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_1", "https://example.com")))
	f.runtime.Reset()
	require.NoError(t, f.runtime.HandlePush(ctx, payload("itm_2", "https://example.com")))

	f.tabs.AssertNumberOfCalls(t, "Create", 2)
}
