package event_bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Id string
}

func TestEventBus_Publish(t *testing.T) {
	t.Run("should dispatch to handlers in subscription order", func(t *testing.T) {
		// given
		bus := NewEventBus()
		var order []int
		for i := 1; i <= 5; i++ {
			n := i
			bus.Subscribe(HangoutCreated, func(e Event) error {
				order = append(order, n)
				return nil
			})
		}

		// when
		err := bus.Publish(NewEvent(context.Background(), HangoutCreated, payload{Id: "h1"}))

		// then
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
	})

	t.Run("should collect handler errors and recover panics", func(t *testing.T) {
		// given
		bus := NewEventBus()
		called := false
		bus.Subscribe(HangoutUpdated, func(e Event) error { return errors.New("boom") })
		bus.Subscribe(HangoutUpdated, func(e Event) error { panic("bad handler") })
		bus.Subscribe(HangoutUpdated, func(e Event) error {
			called = true
			return nil
		})

		// when
		err := bus.Publish(NewEvent(context.Background(), HangoutUpdated, payload{}))

		// then
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 handler(s) failed")
		assert.True(t, called)
	})

	t.Run("should not dispatch when context is cancelled", func(t *testing.T) {
		// given
		bus := NewEventBus()
		called := false
		bus.Subscribe(HangoutDeleted, func(e Event) error {
			called = true
			return nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// when
		err := bus.Publish(NewEvent(ctx, HangoutDeleted, payload{}))

		// then
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestSubscribeTyped(t *testing.T) {
	t.Run("should deliver matching payloads and skip others", func(t *testing.T) {
		// given
		bus := NewEventBus()
		var received []string
		unsubscribe := SubscribeTyped[payload](bus, HangoutCreated, func(e EventT[payload]) error {
			received = append(received, e.Data.Id)
			return nil
		})

		// when
		require.NoError(t, bus.Publish(NewEvent(context.Background(), HangoutCreated, payload{Id: "a"})))
		require.NoError(t, bus.Publish(NewEvent(context.Background(), HangoutCreated, "not a payload")))
		unsubscribe()
		require.NoError(t, bus.Publish(NewEvent(context.Background(), HangoutCreated, payload{Id: "b"})))

		// then
		assert.Equal(t, []string{"a"}, received)
	})
}
