// SPDX-License-Identifier: MIT

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe()
	defer unsub()

	for i := 0; i < 3; i++ {
		bus.Publish(ChangeSet{OpID: string(rune('a' + i)), Command: "InsertClip"})
	}

	for i := 0; i < 3; i++ {
		cs := <-ch
		assert.Equal(t, string(rune('a'+i)), cs.OpID)
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1, unsub1 := bus.Subscribe()
	defer unsub1()
	ch2, unsub2 := bus.Subscribe()
	defer unsub2()

	bus.Publish(ChangeSet{OpID: "op1", Command: "AddTrack"})

	cs1 := <-ch1
	cs2 := <-ch2
	assert.Equal(t, cs1, cs2)
}

func TestBusDropsWhenSubscriberStalls(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe()
	defer unsub()

	// Fill past the buffer without draining; sends must never block.
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(ChangeSet{OpID: "x", Command: "MoveClip"})
	}

	assert.Equal(t, uint64(10), bus.TotalDropped())
	assert.Len(t, ch, subscriberBuffer)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe()
	unsub()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(ChangeSet{OpID: "y", Command: "RemoveClip"})
}

func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe()
	bus.Close()
	bus.Close()

	_, open := <-ch
	require.False(t, open)

	// Subscribing after close yields a closed channel.
	ch2, _ := bus.Subscribe()
	_, open = <-ch2
	assert.False(t, open)
}
