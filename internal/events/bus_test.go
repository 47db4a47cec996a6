package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coactrun/coact/internal/events"
)

func TestPublishDeliversToAllSubscribersInOrder(t *testing.T) {
	bus := events.NewBus(nil)
	var order []int

	_, err := bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		order = append(order, 1)
		return nil
	}))
	require.NoError(t, err)
	_, err = bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		order = append(order, 2)
		return nil
	}))
	require.NoError(t, err)

	bus.Publish(context.Background(), events.NewStepStartedEvent(0))
	assert.Equal(t, []int{1, 2}, order)
}

func TestPublishSwallowsSubscriberErrorAndContinues(t *testing.T) {
	bus := events.NewBus(nil)
	delivered := false

	_, err := bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, err)
	_, err = bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		delivered = true
		return nil
	}))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), events.NewStepCompletedEvent(0, "ok", nil))
	})
	assert.True(t, delivered)
}

func TestPublishRecoversSubscriberPanicAndContinues(t *testing.T) {
	bus := events.NewBus(nil)
	delivered := false

	_, err := bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		panic("nope")
	}))
	require.NoError(t, err)
	_, err = bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		delivered = true
		return nil
	}))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), events.NewPlanFinalizedEvent("done"))
	})
	assert.True(t, delivered)
}

func TestCloseUnregistersSubscriber(t *testing.T) {
	bus := events.NewBus(nil)
	calls := 0

	sub, err := bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		calls++
		return nil
	}))
	require.NoError(t, err)

	bus.Publish(context.Background(), events.NewStepStartedEvent(0))
	require.NoError(t, sub.Close())
	bus.Publish(context.Background(), events.NewStepStartedEvent(1))

	assert.Equal(t, 1, calls)
	// Close is idempotent.
	assert.NoError(t, sub.Close())
}

func TestRegisterNilSubscriberReturnsError(t *testing.T) {
	bus := events.NewBus(nil)
	_, err := bus.Register(nil)
	require.Error(t, err)
}
