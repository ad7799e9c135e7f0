package permission

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengate-ai/opengate/internal/event"
)

func newTestRequest(tool, title string) *Request {
	return NewRequest(tool, nil, title, title, KindExact)
}

func TestQueueSurfacesImmediatelyWhenIdle(t *testing.T) {
	event.Reset()
	defer event.Reset()

	q := NewConfirmationQueue()
	require.Nil(t, q.Current())

	r := newTestRequest("Bash", "git status")
	q.Enqueue(r)

	assert.Same(t, r, q.Current())
	assert.Equal(t, 0, q.Pending())
}

func TestQueueStrictFIFO(t *testing.T) {
	event.Reset()
	defer event.Reset()

	q := NewConfirmationQueue()
	a := newTestRequest("Bash", "A")
	b := newTestRequest("Bash", "B")
	c := newTestRequest("Bash", "C")

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	// Exactly one visible at a time, in arrival order.
	assert.Same(t, a, q.Current())
	assert.Equal(t, 2, q.Pending())

	require.True(t, q.Resolve(a.ID, Response{Action: RespondAllow}))
	assert.Same(t, b, q.Current())

	require.True(t, q.Resolve(b.ID, Response{Action: RespondDeny, Message: "no"}))
	assert.Same(t, c, q.Current())

	require.True(t, q.Resolve(c.ID, Response{Action: RespondAllow}))
	assert.Nil(t, q.Current())
	assert.Equal(t, 0, q.Pending())
}

func TestQueueResolveDeliversResponse(t *testing.T) {
	event.Reset()
	defer event.Reset()

	q := NewConfirmationQueue()
	r := newTestRequest("Bash", "npm install lodash")
	q.Enqueue(r)

	q.Resolve("", Response{Action: RespondDeny, Message: "use pnpm instead"})

	select {
	case resp := <-r.done:
		assert.Equal(t, RespondDeny, resp.Action)
		assert.Equal(t, "use pnpm instead", resp.Message)
	case <-time.After(time.Second):
		t.Fatal("response was not delivered")
	}
}

func TestQueueResolveRejectsWrongID(t *testing.T) {
	event.Reset()
	defer event.Reset()

	q := NewConfirmationQueue()
	a := newTestRequest("Bash", "A")
	b := newTestRequest("Bash", "B")
	q.Enqueue(a)
	q.Enqueue(b)

	// Only the currently-showing request can be resolved.
	assert.False(t, q.Resolve(b.ID, Response{Action: RespondAllow}))
	assert.Same(t, a, q.Current())
}

func TestQueueCancelKeepsBacklog(t *testing.T) {
	event.Reset()
	defer event.Reset()

	q := NewConfirmationQueue()
	a := newTestRequest("Bash", "A")
	b := newTestRequest("Bash", "B")
	q.Enqueue(a)
	q.Enqueue(b)

	require.True(t, q.Resolve(a.ID, Response{Action: RespondCancel}))

	// Cancel rejects only the showing item; the backlog continues.
	assert.Same(t, b, q.Current())
}

func TestQueueAbandonShowing(t *testing.T) {
	event.Reset()
	defer event.Reset()

	q := NewConfirmationQueue()
	a := newTestRequest("Bash", "A")
	b := newTestRequest("Bash", "B")
	q.Enqueue(a)
	q.Enqueue(b)

	q.Abandon(a.ID)
	assert.Same(t, b, q.Current())
	assert.Equal(t, 0, q.Pending())
}

func TestQueueAbandonBacklogEntry(t *testing.T) {
	event.Reset()
	defer event.Reset()

	q := NewConfirmationQueue()
	a := newTestRequest("Bash", "A")
	b := newTestRequest("Bash", "B")
	c := newTestRequest("Bash", "C")
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	q.Abandon(b.ID)
	assert.Same(t, a, q.Current())
	assert.Equal(t, 1, q.Pending())

	q.Resolve(a.ID, Response{Action: RespondAllow})
	assert.Same(t, c, q.Current())
}

func TestQueuePublishesLifecycleEvents(t *testing.T) {
	event.Reset()
	defer event.Reset()

	var mu sync.Mutex
	var asked []string
	var states []bool

	unsubAsked := event.Subscribe(event.PermissionAsked, func(e event.Event) {
		data := e.Data.(event.PermissionAskedData)
		mu.Lock()
		asked = append(asked, data.Title)
		mu.Unlock()
	})
	defer unsubAsked()

	unsubState := event.Subscribe(event.QueueState, func(e event.Event) {
		data := e.Data.(event.QueueStateData)
		mu.Lock()
		states = append(states, data.Showing)
		mu.Unlock()
	})
	defer unsubState()

	q := NewConfirmationQueue()
	a := newTestRequest("Bash", "A")
	b := newTestRequest("Bash", "B")
	q.Enqueue(a)
	q.Enqueue(b)
	q.Resolve(a.ID, Response{Action: RespondAllow})
	q.Resolve(b.ID, Response{Action: RespondAllow})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(asked) == 2 && len(states) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A", "B"}, asked)
	// Input disabled when the first request shows, re-enabled when the queue drains.
	assert.Equal(t, []bool{true, false}, states)
}
