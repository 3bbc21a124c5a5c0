package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megamcloud/starcoin/types"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewEventBus()
	_, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe()
	require.Equal(t, 2, bus.SubscriberCount())

	header := &types.BlockHeader{Number: 7}
	bus.Publish(NewHeadEvent{Header: header})

	for _, ch := range []<-chan ChainEvent{ch1, ch2} {
		event := <-ch
		head, ok := event.(NewHeadEvent)
		require.True(t, ok)
		assert.Equal(t, types.BlockNumber(7), head.Header.Number)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe()
	require.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewEventBus()
	_, ch := bus.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(NewBranchEvent{Header: &types.BlockHeader{Number: types.BlockNumber(i)}})
	}
	assert.Len(t, ch, subscriberBuffer)
}
