package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublish(t *testing.T) {
	Reset()
	defer Reset()

	var wg sync.WaitGroup
	wg.Add(1)

	var got Event
	unsub := Subscribe(PermissionAsked, func(e Event) {
		got = e
		wg.Done()
	})
	defer unsub()

	Publish(Event{
		Type: PermissionAsked,
		Data: PermissionAskedData{ID: "req-1", Tool: "Bash", Title: "git status"},
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not invoked")
	}

	data, ok := got.Data.(PermissionAskedData)
	require.True(t, ok)
	assert.Equal(t, "req-1", data.ID)
	assert.Equal(t, "Bash", data.Tool)
}

func TestSubscribeOnlyMatchingType(t *testing.T) {
	Reset()
	defer Reset()

	calls := make(chan Type, 4)
	unsub := Subscribe(QueueState, func(e Event) {
		calls <- e.Type
	})
	defer unsub()

	PublishSync(Event{Type: PermissionAsked})
	PublishSync(Event{Type: QueueState, Data: QueueStateData{Showing: true}})

	select {
	case typ := <-calls:
		assert.Equal(t, QueueState, typ)
	case <-time.After(time.Second):
		t.Fatal("expected queue.state event")
	}
	assert.Empty(t, calls)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	Reset()
	defer Reset()

	var mu sync.Mutex
	count := 0
	unsub := Subscribe(FileEdited, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	PublishSync(Event{Type: FileEdited})
	unsub()
	PublishSync(Event{Type: FileEdited})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	Reset()
	defer Reset()

	seen := make(map[Type]bool)
	var mu sync.Mutex
	unsub := SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Type] = true
		mu.Unlock()
	})
	defer unsub()

	PublishSync(Event{Type: PermissionAsked})
	PublishSync(Event{Type: PermissionReplied})
	PublishSync(Event{Type: ConfigChanged})

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen[PermissionAsked])
	assert.True(t, seen[PermissionReplied])
	assert.True(t, seen[ConfigChanged])
}

func TestClosedBusDropsEvents(t *testing.T) {
	b := NewBus()

	called := false
	b.Subscribe(PermissionAsked, func(e Event) { called = true })
	require.NoError(t, b.Close())

	b.PublishSync(Event{Type: PermissionAsked})
	assert.False(t, called)

	// Subscribing after close is a no-op.
	unsub := b.Subscribe(PermissionAsked, func(e Event) {})
	unsub()
}
