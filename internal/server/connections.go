package server

import (
	"sync"

	"duel-server/internal/room"
)

// Registry maps live channels to the seats they are bound to. It is the
// room.Publisher for every room, so Publish and Send must never block.
type Registry struct {
	mu sync.RWMutex
	// connectionID -> channel
	channels map[string]*Channel
	// roomID -> bound channel per seat
	seats map[string]*[room.SeatCount]*Channel
}

var _ room.Publisher = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		seats:    make(map[string]*[room.SeatCount]*Channel),
	}
}

// Add tracks a freshly accepted channel. It is not bound to any seat yet.
func (r *Registry) Add(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.id] = ch
}

// Get returns the channel with id, or nil.
func (r *Registry) Get(id string) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[id]
}

// Count is the number of open channels, bound or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// All returns a copy of every open channel.
func (r *Registry) All() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Attach binds ch to b's seat and returns the channel it displaced, if any.
// The displaced channel loses its binding, so its eventual close is not
// reported as a disconnect.
func (r *Registry) Attach(ch *Channel, b binding) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := ch.Binding(); ok && (prev.RoomID != b.RoomID || prev.Seat != b.Seat) {
		r.unbindLocked(ch)
	}
	seats := r.seats[b.RoomID]
	if seats == nil {
		seats = new([room.SeatCount]*Channel)
		r.seats[b.RoomID] = seats
	}
	old := seats[b.Seat]
	seats[b.Seat] = ch
	ch.setBinding(b)

	if old == nil || old == ch {
		return nil
	}
	old.clearBinding()
	return old
}

// Unbind clears ch's seat. ok is false when ch no longer held it.
func (r *Registry) Unbind(ch *Channel) (binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(ch)
}

// Remove forgets ch entirely and returns the seat it still held.
func (r *Registry) Remove(ch *Channel) (binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, ch.id)
	return r.unbindLocked(ch)
}

func (r *Registry) unbindLocked(ch *Channel) (binding, bool) {
	b, ok := ch.clearBinding()
	if !ok {
		return binding{}, false
	}
	seats := r.seats[b.RoomID]
	if seats == nil || b.Seat < 0 || b.Seat >= room.SeatCount || seats[b.Seat] != ch {
		return binding{}, false
	}
	seats[b.Seat] = nil
	if seats[0] == nil && seats[1] == nil {
		delete(r.seats, b.RoomID)
	}
	return b, true
}

// DropRoom releases every channel bound to roomID. The channels stay open
// and may join another room.
func (r *Registry) DropRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seats := r.seats[roomID]
	if seats == nil {
		return
	}
	for _, ch := range seats {
		if ch != nil {
			ch.clearBinding()
		}
	}
	delete(r.seats, roomID)
}

// Bound returns the channel on a seat, or nil.
func (r *Registry) Bound(roomID string, seat int) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seats := r.seats[roomID]
	if seats == nil || seat < 0 || seat >= room.SeatCount {
		return nil
	}
	return seats[seat]
}

// Publish sends ev to every channel bound to roomID. It never blocks.
func (r *Registry) Publish(roomID string, ev room.Event) {
	r.mu.RLock()
	var targets [room.SeatCount]*Channel
	if seats := r.seats[roomID]; seats != nil {
		targets = *seats
	}
	r.mu.RUnlock()

	msg := eventMessage(ev)
	for _, ch := range targets {
		if ch != nil {
			ch.Send(msg)
		}
	}
}

// Send delivers ev to a single seat, if a channel is bound there.
func (r *Registry) Send(roomID string, seat int, ev room.Event) {
	if ch := r.Bound(roomID, seat); ch != nil {
		ch.Send(eventMessage(ev))
	}
}
