// Package headless answers confirmation requests without a human. It exists
// for non-interactive runs (CI, scripted batch jobs) where a blocked queue
// would hang the process forever.
package headless

import (
	"github.com/opengate-ai/opengate/internal/event"
	"github.com/opengate-ai/opengate/internal/logging"
	"github.com/opengate-ai/opengate/internal/permission"
)

// Policy decides what an AutoResponder answers.
type Policy string

const (
	// PolicyAllowAll approves every request once. Rules are never persisted:
	// an unattended run must not grow the trust store.
	PolicyAllowAll Policy = "allow"
	// PolicyDenyAll rejects every request.
	PolicyDenyAll Policy = "deny"
)

const denyAllMessage = "denied by headless policy"

// AutoResponder consumes the confirmation queue and answers every surfaced
// request according to its policy.
type AutoResponder struct {
	queue  *permission.ConfirmationQueue
	policy Policy
	unsub  func()
}

// NewAutoResponder creates a responder for the given queue.
func NewAutoResponder(queue *permission.ConfirmationQueue, policy Policy) *AutoResponder {
	return &AutoResponder{queue: queue, policy: policy}
}

// Start subscribes to permission.asked events and drains anything already
// showing. Requests surfaced from then on are answered immediately.
func (r *AutoResponder) Start() {
	r.unsub = event.Subscribe(event.PermissionAsked, func(e event.Event) {
		data, ok := e.Data.(event.PermissionAskedData)
		if !ok {
			return
		}
		r.respond(data.ID, data.Title)
	})

	if current := r.queue.Current(); current != nil {
		r.respond(current.ID, current.Title)
	}
}

// Stop unsubscribes; requests queued afterwards wait for another consumer.
func (r *AutoResponder) Stop() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (r *AutoResponder) respond(id, title string) {
	resp := permission.Response{Action: permission.RespondAllow}
	if r.policy == PolicyDenyAll {
		resp = permission.Response{Action: permission.RespondDeny, Message: denyAllMessage}
	}

	if r.queue.Resolve(id, resp) {
		logging.Info().
			Str("id", id).
			Str("title", title).
			Str("response", string(resp.Action)).
			Msg("auto-answered confirmation")
	}
}
