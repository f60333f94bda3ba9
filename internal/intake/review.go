package intake

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"porecon/internal"
)

var (
	ErrReviewInFlight  = errors.New("a review is already pending")
	ErrNoPendingReview = errors.New("no review pending")
	ErrReviewMismatch  = errors.New("review id does not match the pending review")
)

// Action says where a reviewed file goes once the decision is committed.
type Action string

const (
	// ActionRequeue moves the file back to Input so it is matched again with
	// the newly confirmed mappings.
	ActionRequeue Action = "requeue"
	ActionArchive Action = "archive"
	// ActionHold leaves the file in Review.
	ActionHold Action = "hold"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "", ActionRequeue:
		return ActionRequeue, nil
	case ActionArchive, ActionHold:
		return a, nil
	default:
		return "", fmt.Errorf("unknown review action %q", s)
	}
}

// Decision is a reviewer's answer to a ReviewRequest. Mappings are the SKU to
// warehouse code pairs the reviewer confirmed; an empty Supplier means the
// supplier of the reviewed document.
type Decision struct {
	Action   Action
	Mappings []internal.Mapping
}

type ReviewRequest struct {
	ID        string
	Payload   internal.ReviewPayload
	CreatedAt time.Time

	reply    chan Decision
	resolved bool
}

// ReviewDesk is the single-slot handoff between the worker and a human
// reviewer. The worker blocks in Submit until another goroutine calls
// Resolve; at most one request is pending at any time.
type ReviewDesk struct {
	slot    chan struct{}
	pending atomic.Pointer[ReviewRequest]
	ready   chan struct{}
	mu      sync.Mutex
}

func NewReviewDesk() *ReviewDesk {
	return &ReviewDesk{
		slot:  make(chan struct{}, 1),
		ready: make(chan struct{}, 1),
	}
}

// Submit publishes payload and blocks until it is resolved. There is no
// timeout and cancellation does not release it: a pending review has to be
// answered for the worker to move on.
func (d *ReviewDesk) Submit(payload internal.ReviewPayload) (Decision, error) {
	select {
	case d.slot <- struct{}{}:
	default:
		return Decision{}, ErrReviewInFlight
	}
	defer func() { <-d.slot }()

	req := &ReviewRequest{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: time.Now(),
		reply:     make(chan Decision, 1),
	}
	d.pending.Store(req)
	select {
	case d.ready <- struct{}{}:
	default:
	}

	decision := <-req.reply
	d.pending.Store(nil)
	if decision.Action == "" {
		decision.Action = ActionRequeue
	}
	return decision, nil
}

// Resolve answers the pending request with the given id.
func (d *ReviewDesk) Resolve(id string, decision Decision) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	req := d.pending.Load()
	if req == nil || req.resolved {
		return ErrNoPendingReview
	}
	if req.ID != id {
		return fmt.Errorf("%w: pending %s, got %s", ErrReviewMismatch, req.ID, id)
	}
	req.resolved = true
	req.reply <- decision
	return nil
}

// Pending returns the request awaiting a decision, or nil. The returned
// request must be treated as read-only.
func (d *ReviewDesk) Pending() *ReviewRequest {
	return d.pending.Load()
}

func (d *ReviewDesk) NeedsReview() bool {
	return d.pending.Load() != nil
}

// Ready fires after a new request is published. It may fire once for
// several requests; callers check Pending.
func (d *ReviewDesk) Ready() <-chan struct{} {
	return d.ready
}
