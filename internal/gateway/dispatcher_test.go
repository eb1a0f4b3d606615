package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpeedyCraftah/go-chat-app/internal/models"
	"github.com/SpeedyCraftah/go-chat-app/internal/store"
)

// captureSocket records every frame written to it.
type captureSocket struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, v.(Event))
	return nil
}

func (s *captureSocket) Close() error { return nil }

func (s *captureSocket) captured() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// waitFor polls until the socket has received n events.
func (s *captureSocket) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := s.captured(); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(s.captured()))
	return nil
}

// channelStore serves a single fixed channel; everything else is an
// unexpected call.
type channelStore struct {
	store.DataStore
	channel *models.DMChannel
}

func (s *channelStore) GetChannel(ctx context.Context, id uuid.UUID) (*models.DMChannel, error) {
	if s.channel != nil && s.channel.ID == id {
		return s.channel, nil
	}
	return nil, nil
}

func startConn(t *testing.T, r *Registry, userID uuid.UUID) (*Conn, *captureSocket) {
	t.Helper()
	sock := &captureSocket{}
	c := newConn(userID, sock)
	r.Register(userID, c)
	go c.writeLoop()
	t.Cleanup(c.Close)
	return c, sock
}

func testChannel(author, other uuid.UUID) *models.DMChannel {
	return &models.DMChannel{
		ID:           uuid.New(),
		User1ID:      author,
		User2ID:      other,
		User1Visible: true,
		User2Visible: true,
	}
}

func TestBroadcastNewMessageNonceReadback(t *testing.T) {
	author := uuid.New()
	other := uuid.New()
	channel := testChannel(author, other)

	r := NewRegistry()
	_, authorSock1 := startConn(t, r, author)
	_, authorSock2 := startConn(t, r, author)
	_, otherSock := startConn(t, r, other)

	d := NewDispatcher(r, &channelStore{channel: channel}, zerolog.Nop())

	msg := models.SafeMessage{
		ID:        "01J0000000000000000000TEST",
		UserID:    author,
		ChannelID: channel.ID,
		Content:   "hello",
		Date:      time.Now().UnixMilli(),
	}
	d.BroadcastNewMessage(channel, msg, 42)

	// Every connection of the author gets the nonce back, including
	// the one that did not originate the send.
	for _, sock := range []*captureSocket{authorSock1, authorSock2} {
		evs := sock.waitFor(t, 1)
		require.Equal(t, OpNewDMMessage, evs[0].Op)
		got := evs[0].Data.(models.SafeMessage)
		assert.Equal(t, int64(42), got.Nonce)
		assert.Equal(t, msg.ID, got.ID)
	}

	// The recipient never sees the nonce.
	evs := otherSock.waitFor(t, 1)
	got := evs[0].Data.(models.SafeMessage)
	assert.Zero(t, got.Nonce)
	assert.Equal(t, "hello", got.Content)
}

func TestBroadcastSkipsDisconnectedUsers(t *testing.T) {
	author := uuid.New()
	other := uuid.New()
	channel := testChannel(author, other)

	r := NewRegistry()
	_, otherSock := startConn(t, r, other)

	d := NewDispatcher(r, &channelStore{channel: channel}, zerolog.Nop())
	d.BroadcastNewMessage(channel, models.SafeMessage{
		ID:        "01J0000000000000000000TEST",
		UserID:    author,
		ChannelID: channel.ID,
		Content:   "hi",
	}, 7)

	// Author is offline; delivery to the recipient still happens.
	evs := otherSock.waitFor(t, 1)
	assert.Equal(t, OpNewDMMessage, evs[0].Op)
}

func TestTypingStartReachesOtherMember(t *testing.T) {
	author := uuid.New()
	other := uuid.New()
	channel := testChannel(author, other)

	r := NewRegistry()
	_, authorSock := startConn(t, r, author)
	_, otherSock := startConn(t, r, other)

	d := NewDispatcher(r, &channelStore{channel: channel}, zerolog.Nop())
	d.TypingStart(context.Background(), channel.ID, &models.User{ID: author})

	evs := otherSock.waitFor(t, 1)
	require.Equal(t, OpTypingStart, evs[0].Op)
	data := evs[0].Data.(TypingData)
	assert.Equal(t, channel.ID, data.ChannelID)
	assert.Equal(t, author, data.UserID)

	// The typist's own connections stay quiet.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, authorSock.captured())
}

func TestTypingStartSilentDrops(t *testing.T) {
	member1 := uuid.New()
	member2 := uuid.New()
	outsider := uuid.New()
	channel := testChannel(member1, member2)

	r := NewRegistry()
	_, sock1 := startConn(t, r, member1)
	_, sock2 := startConn(t, r, member2)

	d := NewDispatcher(r, &channelStore{channel: channel}, zerolog.Nop())

	// Non-member sender: dropped without any signal.
	d.TypingStart(context.Background(), channel.ID, &models.User{ID: outsider})

	// Unknown channel: same treatment.
	d.TypingStart(context.Background(), uuid.New(), &models.User{ID: member1})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sock1.captured())
	assert.Empty(t, sock2.captured())
}

func TestConnSendAfterClose(t *testing.T) {
	c := newConn(uuid.New(), nullSocket{})
	c.Close()

	err := c.Send(Event{Op: OpTypingStart})
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestConnSendBufferFull(t *testing.T) {
	// No writeLoop draining the queue.
	c := newConn(uuid.New(), nullSocket{})
	defer c.Close()

	var err error
	for i := 0; i <= sendBuffer; i++ {
		err = c.Send(Event{Op: OpTypingStart})
	}
	assert.ErrorIs(t, err, ErrSendBufferFull)
}
