package event_bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string
}

func TestEventBus_Publish(t *testing.T) {
	t.Run("should call handlers in subscription order", func(t *testing.T) {
		bus := NewEventBus()
		var calls []string
		for _, name := range []string{"a", "b", "c", "d"} {
			bus.Subscribe("topic", func(Event) error {
				calls = append(calls, name)
				return nil
			})
		}

		err := bus.Publish(NewEvent(context.Background(), "topic", nil))

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, calls)
	})

	t.Run("should only call handlers of the published type", func(t *testing.T) {
		bus := NewEventBus()
		called := false
		bus.Subscribe("other", func(Event) error {
			called = true
			return nil
		})

		require.NoError(t, bus.Publish(NewEvent(context.Background(), "topic", nil)))
		assert.False(t, called)
	})

	t.Run("should keep going after a handler fails or panics", func(t *testing.T) {
		bus := NewEventBus()
		reached := false
		bus.Subscribe("topic", func(Event) error { return errors.New("boom") })
		bus.Subscribe("topic", func(Event) error { panic("bad handler") })
		bus.Subscribe("topic", func(Event) error {
			reached = true
			return nil
		})

		err := bus.Publish(NewEvent(context.Background(), "topic", nil))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 handler(s) failed")
		assert.True(t, reached)
	})

	t.Run("should not publish with a cancelled context", func(t *testing.T) {
		bus := NewEventBus()
		called := false
		bus.Subscribe("topic", func(Event) error {
			called = true
			return nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := bus.Publish(NewEvent(ctx, "topic", nil))

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	var calls []string
	bus.Subscribe("topic", func(Event) error {
		calls = append(calls, "first")
		return nil
	})
	unsubscribe := bus.Subscribe("topic", func(Event) error {
		calls = append(calls, "second")
		return nil
	})
	bus.Subscribe("topic", func(Event) error {
		calls = append(calls, "third")
		return nil
	})

	unsubscribe()
	unsubscribe()
	require.NoError(t, bus.Publish(NewEvent(context.Background(), "topic", nil)))

	assert.Equal(t, []string{"first", "third"}, calls)
}

func TestSubscribeTyped(t *testing.T) {
	bus := NewEventBus()
	var received []string
	SubscribeTyped[payload](bus, "topic", func(e EventT[payload]) error {
		received = append(received, e.Data.Name)
		assert.NotNil(t, e.Context())
		return nil
	})

	require.NoError(t, bus.Publish(NewEvent(context.Background(), "topic", payload{Name: "typed"})))
	require.NoError(t, bus.Publish(NewEvent(context.Background(), "topic", "not a payload")))
	require.NoError(t, bus.Publish(NewEvent(context.Background(), "topic", nil)))

	assert.Equal(t, []string{"typed"}, received)
}
