package chatapp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusRecorder collects every status transition per nonce.
type statusRecorder struct {
	mu      sync.Mutex
	updates map[int64][]SendStatus
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{updates: make(map[int64][]SendStatus)}
}

func (r *statusRecorder) record(pm PendingMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[pm.Nonce] = append(r.updates[pm.Nonce], pm.Status)
}

func (r *statusRecorder) transitions(nonce int64) []SendStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SendStatus(nil), r.updates[nonce]...)
}

func (r *statusRecorder) waitForStatus(t *testing.T, nonce int64, status SendStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, st := range r.transitions(nonce) {
			if st == status {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nonce %d never reached status %d, saw %v", nonce, status, r.transitions(nonce))
}

func TestNextNonceUnique(t *testing.T) {
	tr := NewPendingTracker(0, nil)

	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		n := tr.NextNonce()
		require.False(t, seen[n], "duplicate nonce %d", n)
		seen[n] = true
	}
}

func TestResolveBeforeTimeout(t *testing.T) {
	rec := newStatusRecorder()
	tr := NewPendingTracker(time.Minute, rec.record)

	nonce := tr.NextNonce()
	tr.Track(nonce, "hello")
	require.Len(t, tr.Pending(), 1)

	tr.Resolve(nonce, Message{ID: "01J00000000000000000000001", Date: 1234})

	assert.Equal(t, []SendStatus{StatusWaitingForAck, StatusSent}, rec.transitions(nonce))
	assert.Empty(t, tr.Pending())
}

func TestResolveFillsCommittedDetails(t *testing.T) {
	var resolved PendingMessage
	tr := NewPendingTracker(time.Minute, func(pm PendingMessage) {
		if pm.Status == StatusSent {
			resolved = pm
		}
	})

	nonce := tr.NextNonce()
	tr.Track(nonce, "with file")
	tr.Resolve(nonce, Message{
		ID:          "01J00000000000000000000002",
		Date:        5678,
		Attachments: []Attachment{{Name: "a.txt", SizeBytes: 3}},
	})

	assert.Equal(t, "01J00000000000000000000002", resolved.ID)
	assert.Equal(t, int64(5678), resolved.Date)
	assert.Equal(t, "with file", resolved.Content)
	require.Len(t, resolved.Attachments, 1)
	assert.Equal(t, "a.txt", resolved.Attachments[0].Name)
}

func TestFailRemovesEntry(t *testing.T) {
	rec := newStatusRecorder()
	tr := NewPendingTracker(time.Minute, rec.record)

	nonce := tr.NextNonce()
	tr.Track(nonce, "doomed")
	tr.Fail(nonce)

	assert.Equal(t, []SendStatus{StatusWaitingForAck, StatusFailed}, rec.transitions(nonce))
	assert.Empty(t, tr.Pending())

	// Resolving a failed send is a no-op.
	tr.Resolve(nonce, Message{ID: "x"})
	assert.Equal(t, []SendStatus{StatusWaitingForAck, StatusFailed}, rec.transitions(nonce))
}

func TestAckTimeout(t *testing.T) {
	rec := newStatusRecorder()
	tr := NewPendingTracker(20*time.Millisecond, rec.record)

	nonce := tr.NextNonce()
	tr.Track(nonce, "slow")

	rec.waitForStatus(t, nonce, StatusAckTimeout)

	// Timed-out entries stay tracked for late resolution.
	require.Len(t, tr.Pending(), 1)
	assert.Equal(t, StatusAckTimeout, tr.Pending()[0].Status)
}

func TestLateResolveAfterTimeout(t *testing.T) {
	rec := newStatusRecorder()
	tr := NewPendingTracker(20*time.Millisecond, rec.record)

	nonce := tr.NextNonce()
	tr.Track(nonce, "late")
	rec.waitForStatus(t, nonce, StatusAckTimeout)

	// The readback event finally arrives.
	tr.Resolve(nonce, Message{ID: "01J00000000000000000000003", Date: 1})

	assert.Equal(t,
		[]SendStatus{StatusWaitingForAck, StatusAckTimeout, StatusSent},
		rec.transitions(nonce))
	assert.Empty(t, tr.Pending())
}

func TestUnknownNonceIgnored(t *testing.T) {
	rec := newStatusRecorder()
	tr := NewPendingTracker(time.Minute, rec.record)

	tr.Resolve(12345, Message{ID: "x"})
	tr.Fail(12345)

	assert.Empty(t, rec.transitions(12345))
}
