package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_SubscribePublish(t *testing.T) {
	bus := NewEventBus(nil)
	var got []string
	bus.Subscribe(EventTypeChangeRecorded, func(ctx context.Context, event Event) error {
		got = append(got, event.Data().(string))
		assert.Equal(t, "recorder", event.Source())
		return nil
	})

	err := bus.Publish(context.Background(), NewBasicEvent(EventTypeChangeRecorded, "users/u1", "recorder"))
	assert.NoError(t, err)
	assert.Equal(t, []string{"users/u1"}, got)
	assert.Equal(t, 1, bus.GetSubscriberCount(EventTypeChangeRecorded))
	assert.Equal(t, 0, bus.GetSubscriberCount(EventTypeBackfillPage))
}

func TestEventBus_FailingHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{MaxRetries: 1, RetryDelay: time.Millisecond})
	attempts := 0
	secondCalled := false

	bus.Subscribe(EventTypeConsolidationFailed, func(ctx context.Context, event Event) error {
		attempts++
		return errors.New("observer down")
	})
	bus.Subscribe(EventTypeConsolidationFailed, func(ctx context.Context, event Event) error {
		secondCalled = true
		return nil
	})

	err := bus.Publish(context.Background(), NewBasicEvent(EventTypeConsolidationFailed, nil, "consolidation"))
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, secondCalled)
}

func TestEventBus_PublishAndForget(t *testing.T) {
	bus := NewEventBus(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(EventTypeBackfillPage, func(ctx context.Context, event Event) error {
		defer wg.Done()
		return nil
	})

	bus.PublishAndForget(context.Background(), NewBasicEvent(EventTypeBackfillPage, 1, "backfill"))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}
