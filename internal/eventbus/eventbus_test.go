package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOutToMultipleSubscribers(t *testing.T) {
	b := NewBus()
	chA, unsubA := b.Subscribe(4)
	defer unsubA()
	chB, unsubB := b.Subscribe(4)
	defer unsubB()

	b.Publish(context.Background(), New(RuntimeStarted, "", "", "", nil))

	select {
	case ev := <-chA:
		assert.Equal(t, RuntimeStarted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber A did not receive event")
	}
	select {
	case ev := <-chB:
		assert.Equal(t, RuntimeStarted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber B did not receive event")
	}
}

func TestBusPublishDropsOnFullSubscriberChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(context.Background(), New(LinkOverflow, "", "link-1", "", nil))
	b.Publish(context.Background(), New(LinkOverflow, "", "link-2", "", nil)) // dropped, channel full

	ev := <-ch
	assert.Equal(t, "link-1", ev.LinkID)
	select {
	case <-ch:
		t.Fatal("expected second event to be dropped, not delivered")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1)
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestNewEventHasUniqueID(t *testing.T) {
	a := New(RuntimeStarted, "", "", "", nil)
	b := New(RuntimeStarted, "", "", "", nil)
	require.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
