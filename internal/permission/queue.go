package permission

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opengate-ai/opengate/internal/event"
	"github.com/opengate-ai/opengate/internal/logging"
)

// ResponseAction is what the human (or an automated consumer) chose for a
// surfaced confirmation request.
type ResponseAction string

const (
	// RespondAllow approves this one invocation.
	RespondAllow ResponseAction = "allow"
	// RespondAlways approves the invocation and persists the suggested trust
	// pattern so future matches auto-approve.
	RespondAlways ResponseAction = "always"
	// RespondDeny rejects the invocation; Message carries the reason or the
	// human's alternative instructions for the model.
	RespondDeny ResponseAction = "deny"
	// RespondCancel dismisses the request without a decision (ESC). The
	// caller receives a CanceledError, not a deny.
	RespondCancel ResponseAction = "cancel"
)

// Response is a consumer's answer to a confirmation request.
type Response struct {
	Action  ResponseAction
	Message string
}

// Request is one pending confirmation. It is created when the Manager cannot
// decide automatically and destroyed the instant it is resolved.
type Request struct {
	ID    string
	Tool  string
	Input any
	Title string

	// TrustPattern is the rule pattern persisted on a RespondAlways answer:
	// a smart glob for ordinary shell commands, the exact string for
	// dangerous bases and non-shell tools.
	TrustPattern string
	TrustKind    RuleKind

	done chan Response
}

// ConfirmationQueue serializes human review: requests are surfaced strictly
// one at a time, FIFO by arrival. The queue is a two-state machine (idle,
// showing); transitions publish queue.state events so the consumer surface
// can disable ordinary input while a request is visible.
type ConfirmationQueue struct {
	mu      sync.Mutex
	showing *Request
	backlog []*Request
}

// NewConfirmationQueue creates an empty queue in the idle state.
func NewConfirmationQueue() *ConfirmationQueue {
	return &ConfirmationQueue{}
}

// NewRequest builds a confirmation request with a fresh ULID.
func NewRequest(tool string, input any, title, trustPattern string, trustKind RuleKind) *Request {
	return &Request{
		ID:           ulid.Make().String(),
		Tool:         tool,
		Input:        input,
		Title:        title,
		TrustPattern: trustPattern,
		TrustKind:    trustKind,
		done:         make(chan Response, 1),
	}
}

// Enqueue adds a request. If the queue is idle the request is surfaced
// immediately; otherwise it joins the backlog.
func (q *ConfirmationQueue) Enqueue(r *Request) {
	q.mu.Lock()
	if q.showing == nil {
		q.showing = r
		backlog := len(q.backlog)
		q.mu.Unlock()
		q.publishShown(r, backlog, true)
		return
	}
	q.backlog = append(q.backlog, r)
	q.mu.Unlock()
}

// Current returns the request currently surfaced to the consumer, or nil
// when the queue is idle.
func (q *ConfirmationQueue) Current() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.showing
}

// Pending returns the number of requests waiting behind the current one.
func (q *ConfirmationQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Resolve answers the currently-showing request when id matches it (or id is
// empty). The next backlog request is surfaced, or the queue returns to idle.
// Returns false when no such request is showing.
func (q *ConfirmationQueue) Resolve(id string, resp Response) bool {
	q.mu.Lock()
	current := q.showing
	if current == nil || (id != "" && current.ID != id) {
		q.mu.Unlock()
		return false
	}
	next, wentIdle := q.advanceLocked()
	q.mu.Unlock()

	current.done <- resp
	event.PublishSync(event.Event{
		Type: event.PermissionReplied,
		Data: event.PermissionRepliedData{ID: current.ID, Response: string(resp.Action)},
	})
	q.afterAdvance(next, wentIdle)
	return true
}

// Abandon withdraws a request whose caller stopped waiting (context
// cancellation). A backlog entry is silently removed; the showing request is
// cleared and the queue advances.
func (q *ConfirmationQueue) Abandon(id string) {
	q.mu.Lock()
	if q.showing != nil && q.showing.ID == id {
		next, wentIdle := q.advanceLocked()
		q.mu.Unlock()
		q.afterAdvance(next, wentIdle)
		return
	}
	for i, r := range q.backlog {
		if r.ID == id {
			q.backlog = append(q.backlog[:i], q.backlog[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
}

// advanceLocked pops the next backlog request into showing. It returns the
// newly shown request (nil if none) and whether the queue went idle.
func (q *ConfirmationQueue) advanceLocked() (*Request, bool) {
	if len(q.backlog) == 0 {
		q.showing = nil
		return nil, true
	}
	next := q.backlog[0]
	q.backlog = q.backlog[1:]
	q.showing = next
	return next, false
}

func (q *ConfirmationQueue) publishShown(r *Request, backlog int, wasIdle bool) {
	if wasIdle {
		event.PublishSync(event.Event{Type: event.QueueState, Data: event.QueueStateData{Showing: true}})
	}
	event.PublishSync(event.Event{
		Type: event.PermissionAsked,
		Data: event.PermissionAskedData{
			ID:       r.ID,
			Tool:     r.Tool,
			Title:    r.Title,
			Pattern:  r.TrustPattern,
			Backlog:  backlog,
			Metadata: r.Input,
		},
	})
	logging.Debug().Str("id", r.ID).Str("tool", r.Tool).Msg("confirmation surfaced")
}

func (q *ConfirmationQueue) afterAdvance(next *Request, wentIdle bool) {
	if wentIdle {
		event.PublishSync(event.Event{Type: event.QueueState, Data: event.QueueStateData{Showing: false}})
		return
	}
	if next != nil {
		q.mu.Lock()
		backlog := len(q.backlog)
		q.mu.Unlock()
		q.publishShown(next, backlog, false)
	}
}
