package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	"github.com/casier-judiciaire/casier-backend/pkg/metrics"
)

// ErrChannelClosed is returned by a Channel that can no longer deliver.
var ErrChannelClosed = errors.New("channel closed")

// Channel is one live push connection. Implementations must be comparable
// (pointer receivers) because the registry indexes them.
type Channel interface {
	Open() bool
	Send(msg []byte) error
}

// Sender delivers payloads to connected users. Delivery is best effort: an
// offline user or a dead channel is not an error.
type Sender interface {
	SendToUser(ctx context.Context, userID uuid.UUID, payload any) error
	Broadcast(ctx context.Context, payload any) error
}

// Registry maps users to their live channels. It is safe for concurrent use
// and is meant to be shared by the whole process.
type Registry struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]map[Channel]struct{}
	owners map[Channel]uuid.UUID

	logg    *logger.Logger
	metrics *metrics.RealtimeMetrics
}

// NewRegistry returns an empty registry. logg and m may be nil.
func NewRegistry(logg *logger.Logger, m *metrics.RealtimeMetrics) *Registry {
	return &Registry{
		users:   make(map[uuid.UUID]map[Channel]struct{}),
		owners:  make(map[Channel]uuid.UUID),
		logg:    logg,
		metrics: m,
	}
}

// Register adds ch to userID's channels. A channel already held by another
// user moves to userID.
func (r *Registry) Register(userID uuid.UUID, ch Channel) {
	if ch == nil {
		return
	}
	r.mu.Lock()
	if previous, ok := r.owners[ch]; ok && previous != userID {
		r.detachLocked(previous, ch)
	}
	set, ok := r.users[userID]
	if !ok {
		set = make(map[Channel]struct{})
		r.users[userID] = set
	}
	set[ch] = struct{}{}
	r.owners[ch] = userID
	connections := len(r.owners)
	r.mu.Unlock()

	r.metrics.SetConnections(connections)
}

// Unregister removes ch from whichever user holds it. It reports whether the
// channel was registered; unknown channels are a no-op.
func (r *Registry) Unregister(ch Channel) bool {
	if ch == nil {
		return false
	}
	r.mu.Lock()
	userID, ok := r.owners[ch]
	if ok {
		r.detachLocked(userID, ch)
	}
	connections := len(r.owners)
	r.mu.Unlock()

	if ok {
		r.metrics.SetConnections(connections)
	}
	return ok
}

func (r *Registry) detachLocked(userID uuid.UUID, ch Channel) {
	delete(r.owners, ch)
	set := r.users[userID]
	delete(set, ch)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}

// SendToUser serialises payload once and writes it to every open channel of
// userID. It only fails when payload cannot be encoded.
func (r *Registry) SendToUser(ctx context.Context, userID uuid.UUID, payload any) error {
	msg, err := encode(payload)
	if err != nil {
		return err
	}
	r.mu.RLock()
	targets := channelsOf(r.users[userID])
	r.mu.RUnlock()

	r.deliver(ctx, targets, msg)
	return nil
}

// SendRaw writes an already encoded message to userID's channels.
func (r *Registry) SendRaw(ctx context.Context, userID uuid.UUID, msg []byte) {
	r.mu.RLock()
	targets := channelsOf(r.users[userID])
	r.mu.RUnlock()

	r.deliver(ctx, targets, msg)
}

// Broadcast writes payload to every open channel of every user.
func (r *Registry) Broadcast(ctx context.Context, payload any) error {
	msg, err := encode(payload)
	if err != nil {
		return err
	}
	r.BroadcastRaw(ctx, msg)
	return nil
}

// BroadcastRaw writes an already encoded message to every channel.
func (r *Registry) BroadcastRaw(ctx context.Context, msg []byte) {
	r.mu.RLock()
	targets := make([]Channel, 0, len(r.owners))
	for ch := range r.owners {
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	r.deliver(ctx, targets, msg)
}

// Connections returns the number of registered channels.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

// Users returns the number of users with at least one channel.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// ChannelsFor returns how many channels userID currently holds.
func (r *Registry) ChannelsFor(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

func (r *Registry) deliver(ctx context.Context, targets []Channel, msg []byte) {
	for _, ch := range targets {
		if !ch.Open() {
			r.metrics.IncDelivery("skipped")
			continue
		}
		if err := ch.Send(msg); err != nil {
			r.metrics.IncDelivery("failed")
			if r.logg != nil {
				r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "realtime delivery dropped")
			}
			continue
		}
		r.metrics.IncDelivery("sent")
	}
}

func channelsOf(set map[Channel]struct{}) []Channel {
	if len(set) == 0 {
		return nil
	}
	out := make([]Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

func encode(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode realtime payload: %w", err)
	}
	return msg, nil
}
