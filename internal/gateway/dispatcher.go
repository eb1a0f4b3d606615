package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SpeedyCraftah/go-chat-app/internal/metrics"
	"github.com/SpeedyCraftah/go-chat-app/internal/models"
	"github.com/SpeedyCraftah/go-chat-app/internal/store"
)

// Dispatcher builds typed event envelopes and fans them out to the
// correct connections via the registry. Delivery is fire-and-forget:
// a failure on one connection never blocks or aborts the others, and
// is never retried — clients resync via a history fetch.
type Dispatcher struct {
	registry *Registry
	store    store.DataStore
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given registry and store.
func NewDispatcher(registry *Registry, ds store.DataStore, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, store: ds, logger: logger}
}

// DispatchToUser attempts delivery of the event to every live
// connection of the user, independently.
func (d *Dispatcher) DispatchToUser(userID uuid.UUID, ev Event) {
	for _, c := range d.registry.ConnectionsFor(userID) {
		if err := c.Send(ev); err != nil {
			metrics.GatewayDispatchFailures.Inc()
			d.logger.Warn().
				Err(err).
				Str("op", ev.Op).
				Str("user_id", userID.String()).
				Str("conn_id", c.ID.String()).
				Msg("gateway event dropped")
			continue
		}
		metrics.GatewayEventsDispatched.WithLabelValues(ev.Op).Inc()
	}
}

// BroadcastNewMessage fans a committed message out to both channel
// members. The non-author member receives the plain safe message; the
// author's own connections receive it with the original client nonce
// attached, so sibling devices can reconcile their pending send.
func (d *Dispatcher) BroadcastNewMessage(channel *models.DMChannel, msg models.SafeMessage, nonce int64) {
	msg.Nonce = 0
	d.DispatchToUser(channel.OtherMember(msg.UserID), Event{Op: OpNewDMMessage, Data: msg})

	readback := msg
	readback.Nonce = nonce
	d.DispatchToUser(msg.UserID, Event{Op: OpNewDMMessage, Data: readback})
}

// TypingStart emits a typing signal to the other channel member. An
// unresolvable channel or a non-member sender is silently dropped:
// this is a security boundary and must not leak channel existence.
func (d *Dispatcher) TypingStart(ctx context.Context, channelID uuid.UUID, user *models.User) {
	channel, err := d.store.GetChannel(ctx, channelID)
	if err != nil {
		d.logger.Error().Err(err).Msg("typing signal channel lookup failed")
		return
	}
	if channel == nil || !channel.HasMember(user.ID) {
		return
	}

	d.DispatchToUser(channel.OtherMember(user.ID), Event{
		Op:   OpTypingStart,
		Data: TypingData{ChannelID: channel.ID, UserID: user.ID},
	})
}
