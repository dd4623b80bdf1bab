package receiver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockAlarmCreator struct {
	mock.Mock
}

func (m *mockAlarmCreator) Create(name string, delay, period time.Duration) {
	m.Called(name, delay, period)
}

func TestAlarms_ScheduleCatchUpDefaultInterval(t *testing.T) {
	creator := new(mockAlarmCreator)
	creator.On("Create", "beam-catchup", time.Minute, time.Minute).Once()

	NewAlarms(creator).ScheduleCatchUp(0)

	creator.AssertExpectations(t)
}

func TestAlarms_ScheduleCatchUpIsIdempotent(t *testing.T) {
	creator := new(mockAlarmCreator)
	creator.On("Create", "beam-catchup", 5*time.Minute, 5*time.Minute).Return()

	alarms := NewAlarms(creator)
	alarms.ScheduleCatchUp(5 * time.Minute)
	alarms.ScheduleCatchUp(5 * time.Minute)
	creator.AssertNumberOfCalls(t, "Create", 1)

	alarms.Reset()
	alarms.ScheduleCatchUp(5 * time.Minute)
	creator.AssertNumberOfCalls(t, "Create", 2)
}

func TestTickerAlarms_FiresUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var names []string
	fired := make(chan struct{}, 10)

	alarms := NewTickerAlarms(ctx, func(ctx context.Context, name string) {
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	alarms.Create("beam-catchup", 5*time.Millisecond, 5*time.Millisecond)

	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatal("alarm did not fire")
		}
	}

	cancel()
	alarms.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, "beam-catchup", names[0])
}
