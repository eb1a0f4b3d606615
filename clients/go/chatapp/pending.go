package chatapp

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// SendStatus tracks a locally initiated message send through its
// lifecycle.
type SendStatus int

const (
	// StatusWaitingForAck: the HTTP send succeeded, awaiting the
	// gateway readback event carrying our nonce.
	StatusWaitingForAck SendStatus = 1
	// StatusSent: the readback event arrived; the message is
	// confirmed delivered through the realtime pipeline.
	StatusSent SendStatus = 2
	// StatusFailed: the HTTP send itself failed.
	StatusFailed SendStatus = 3
	// StatusAckTimeout: committed server-side but no readback event
	// arrived in time. The message exists; the gateway connection is
	// suspect.
	StatusAckTimeout SendStatus = 4
)

// DefaultAckTimeout is how long a send waits for its readback event.
const DefaultAckTimeout = 10 * time.Second

// PendingMessage is a message this client sent that has not yet been
// confirmed through the gateway.
type PendingMessage struct {
	Nonce   int64
	Status  SendStatus
	Content string

	// Populated on resolution from the committed message.
	ID          string
	Date        int64
	Attachments []Attachment

	timer *time.Timer
}

// PendingTracker correlates sends with their gateway readback events
// by nonce, and times out sends whose event never arrives.
type PendingTracker struct {
	mu      sync.Mutex
	pending map[int64]*PendingMessage
	timeout time.Duration
	counter int64

	// onUpdate is invoked with a snapshot after every status change.
	onUpdate func(PendingMessage)
}

// NewPendingTracker creates a tracker. onUpdate may be nil; timeout 0
// uses DefaultAckTimeout. The nonce counter starts at a random value
// so nonces from a previous process are not reused.
func NewPendingTracker(timeout time.Duration, onUpdate func(PendingMessage)) *PendingTracker {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	return &PendingTracker{
		pending:  make(map[int64]*PendingMessage),
		timeout:  timeout,
		counter:  rand.Int63n(1 << 48),
		onUpdate: onUpdate,
	}
}

// NextNonce returns a fresh nonce, unique for this tracker.
func (t *PendingTracker) NextNonce() int64 {
	return atomic.AddInt64(&t.counter, 1)
}

// Track registers a send awaiting its readback event and arms the
// acknowledgement timer.
func (t *PendingTracker) Track(nonce int64, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pm := &PendingMessage{
		Nonce:   nonce,
		Status:  StatusWaitingForAck,
		Content: content,
	}
	pm.timer = time.AfterFunc(t.timeout, func() { t.expire(nonce) })
	t.pending[nonce] = pm
	t.notify(pm)
}

// Resolve marks a send as confirmed, filling in the committed message
// details. Safe to call after the timeout fired: a late readback still
// upgrades the entry to sent before removal.
func (t *PendingTracker) Resolve(nonce int64, msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pm, ok := t.pending[nonce]
	if !ok {
		return
	}
	pm.timer.Stop()

	pm.Status = StatusSent
	pm.ID = msg.ID
	pm.Date = msg.Date
	pm.Attachments = msg.Attachments
	delete(t.pending, nonce)
	t.notify(pm)
}

// Fail marks a send as failed at the HTTP layer and removes it.
func (t *PendingTracker) Fail(nonce int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pm, ok := t.pending[nonce]
	if !ok {
		return
	}
	pm.timer.Stop()

	pm.Status = StatusFailed
	delete(t.pending, nonce)
	t.notify(pm)
}

// Pending returns a snapshot of the unresolved sends.
func (t *PendingTracker) Pending() []PendingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingMessage, 0, len(t.pending))
	for _, pm := range t.pending {
		out = append(out, *pm)
	}
	return out
}

// expire transitions a send to ack-timeout. The entry stays tracked so
// a late readback can still resolve it.
func (t *PendingTracker) expire(nonce int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pm, ok := t.pending[nonce]
	if !ok || pm.Status != StatusWaitingForAck {
		return
	}
	pm.Status = StatusAckTimeout
	t.notify(pm)
}

func (t *PendingTracker) notify(pm *PendingMessage) {
	if t.onUpdate != nil {
		t.onUpdate(*pm)
	}
}
