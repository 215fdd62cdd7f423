package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPublishOrder verifies handlers see events in publish order and subscription order.
func TestPublishOrder(t *testing.T) {
	n := New()
	var got []string
	n.Subscribe(func(e Event) { got = append(got, "a:"+e.EventType()) })
	n.Subscribe(func(e Event) { got = append(got, "b:"+e.EventType()) })

	n.Publish(SyncStarted{Owner: "u1", Total: 1})
	n.Publish(SyncCompleted{Owner: "u1", Succeeded: 1})

	assert.Equal(t, []string{
		"a:sync_started", "b:sync_started",
		"a:sync_completed", "b:sync_completed",
	}, got)
}

// TestUnsubscribeIdempotent verifies explicit unsubscription stops delivery.
func TestUnsubscribeIdempotent(t *testing.T) {
	n := New()
	rec := &Recorder{}
	sub := n.Subscribe(rec.Handle)

	n.Publish(ConnectivityChanged{Online: true})
	sub.Unsubscribe()
	sub.Unsubscribe()
	n.Publish(ConnectivityChanged{Online: false})

	assert.Len(t, rec.Events(), 1)
	assert.Zero(t, n.Subscribers())
}

// TestChannelSubscription verifies buffered delivery, dropping on overflow and close on unsubscribe.
func TestChannelSubscription(t *testing.T) {
	n := New()
	ch, sub := n.Channel(2)

	n.Publish(SyncProgress{Owner: "u1", Completed: 1, Total: 3})
	n.Publish(SyncProgress{Owner: "u1", Completed: 2, Total: 3})
	n.Publish(SyncProgress{Owner: "u1", Completed: 3, Total: 3}) // dropped

	first := <-ch
	require.IsType(t, SyncProgress{}, first)
	assert.Equal(t, 1, first.(SyncProgress).Completed)
	second := <-ch
	assert.Equal(t, 2, second.(SyncProgress).Completed)

	sub.Unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after close must not panic.
	n.Publish(SyncAborted{Owner: "u1"})
}

// TestRecorderConcurrent verifies concurrent publishers are all recorded.
func TestRecorderConcurrent(t *testing.T) {
	n := New()
	rec := &Recorder{}
	n.Subscribe(rec.Handle)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n.Publish(SyncProgress{Owner: "u1", Completed: i})
		}(i)
	}
	wg.Wait()

	assert.Len(t, rec.OfType(TypeSyncProgress), 20)
	rec.Reset()
	assert.Empty(t, rec.Events())
}

// TestEventTypes verifies every event reports a distinct wire name.
func TestEventTypes(t *testing.T) {
	events := []Event{
		ConnectivityChanged{}, SyncStarted{}, SyncProgress{},
		SyncCompleted{}, OperationDropped{}, SyncAborted{},
	}
	seen := make(map[string]bool)
	for _, e := range events {
		assert.False(t, seen[e.EventType()], e.EventType())
		seen[e.EventType()] = true
	}
}
