package intake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"porecon/internal"
)

func waitPending(t *testing.T, d *ReviewDesk) *ReviewRequest {
	t.Helper()
	var req *ReviewRequest
	require.Eventually(t, func() bool {
		req = d.Pending()
		return req != nil
	}, 2*time.Second, 5*time.Millisecond)
	return req
}

func TestReviewDeskRoundTrip(t *testing.T) {
	d := NewReviewDesk()
	require.ErrorIs(t, d.Resolve("nope", Decision{}), ErrNoPendingReview)

	result := make(chan Decision, 1)
	go func() {
		dec, err := d.Submit(internal.ReviewPayload{File: "po.pdf", Supplier: "Acme"})
		if err == nil {
			result <- dec
		}
	}()

	req := waitPending(t, d)
	assert.True(t, d.NeedsReview())
	assert.Equal(t, "po.pdf", req.Payload.File)
	select {
	case <-d.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Ready did not fire")
	}

	_, err := d.Submit(internal.ReviewPayload{File: "other.pdf"})
	require.ErrorIs(t, err, ErrReviewInFlight)

	require.ErrorIs(t, d.Resolve("wrong-id", Decision{}), ErrReviewMismatch)
	require.NoError(t, d.Resolve(req.ID, Decision{Action: ActionHold}))
	require.ErrorIs(t, d.Resolve(req.ID, Decision{}), ErrNoPendingReview, "a request resolves once")

	select {
	case dec := <-result:
		assert.Equal(t, ActionHold, dec.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return")
	}
	assert.False(t, d.NeedsReview())
	assert.Nil(t, d.Pending())
}

func TestReviewDeskDefaultsToRequeue(t *testing.T) {
	d := NewReviewDesk()
	result := make(chan Decision, 1)
	go func() {
		dec, _ := d.Submit(internal.ReviewPayload{File: "po.pdf"})
		result <- dec
	}()
	req := waitPending(t, d)
	require.NoError(t, d.Resolve(req.ID, Decision{}))
	assert.Equal(t, ActionRequeue, (<-result).Action)
}

// Readers polling Pending while payloads are published and cleared must
// always see a whole payload or nothing.
func TestReviewDeskPayloadReadsAreConsistent(t *testing.T) {
	d := NewReviewDesk()
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if req := d.Pending(); req != nil {
					p := req.Payload
					if p.File != p.Supplier+".pdf" || p.Stats.Red != len(p.Rows) {
						t.Errorf("torn payload: %+v", p)
						return
					}
				}
			}
		}()
	}

	for i, supplier := range []string{"a", "bb", "ccc", "dddd", "eeeee"} {
		rows := make([]internal.MatchRow, i+1)
		payload := internal.ReviewPayload{File: supplier + ".pdf", Supplier: supplier, Rows: rows, Stats: internal.ReviewStats{Red: i + 1}}
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = d.Submit(payload)
		}()
		req := waitPending(t, d)
		require.NoError(t, d.Resolve(req.ID, Decision{}))
		<-done
	}
	close(stop)
	readers.Wait()
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{"": ActionRequeue, "Archive": ActionArchive, " hold ": ActionHold, "requeue": ActionRequeue} {
		got, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAction("shred")
	require.Error(t, err)
}
