// Package broker owns the per-room subscriber sets and the append path.
// Appends to one room are serialized under that room's mutex, held across
// both the durable write and the fan-out, so index assignment is gap-free
// and subscribers observe posts in log order. Different rooms append
// concurrently.
package broker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridsync/internal/logstore"
	"gridsync/internal/wire"
)

// Sender delivers one confirmed post to a subscriber. Implementations are
// expected to be safe for concurrent use; the broker may call Send from
// any room's append path.
type Sender interface {
	Send(wire.InfoPost) error
}

// Broker routes posts between the durable store and live subscribers.
type Broker struct {
	store  logstore.Store
	now    func() int64
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	mu          sync.Mutex
	subscribers map[Sender]struct{}
}

// Option tweaks broker construction.
type Option func(*Broker)

// WithClock overrides the server clock, in milliseconds.
func WithClock(now func() int64) Option {
	return func(b *Broker) { b.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// New constructs a broker over the given store.
func New(store logstore.Store, opts ...Option) *Broker {
	b := &Broker{
		store:  store,
		now:    func() int64 { return time.Now().UnixMilli() },
		logger: slog.Default(),
		rooms:  make(map[string]*room),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) room(name string) *room {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[name]
	if !ok {
		r = &room{subscribers: make(map[Sender]struct{})}
		b.rooms[name] = r
	}
	return r
}

// Watch adds sub to the room's subscriber set. Watching twice is a no-op.
func (b *Broker) Watch(name string, sub Sender) {
	r := b.room(name)
	r.mu.Lock()
	r.subscribers[sub] = struct{}{}
	r.mu.Unlock()
}

// Unwatch removes sub from the room's subscriber set.
func (b *Broker) Unwatch(name string, sub Sender) {
	r := b.room(name)
	r.mu.Lock()
	delete(r.subscribers, sub)
	r.mu.Unlock()
}

// Drop removes sub from every room. Called when a connection closes.
func (b *Broker) Drop(sub Sender) {
	b.mu.Lock()
	rooms := make([]*room, 0, len(b.rooms))
	for _, r := range b.rooms {
		rooms = append(rooms, r)
	}
	b.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		delete(r.subscribers, sub)
		r.mu.Unlock()
	}
}

// Post appends a record to the room's log and fans the confirmed post out
// to every current subscriber, including the originating one. The durable
// append completes before any send, so a post is always retrievable via
// Load by the time a broadcast for it is observed.
func (b *Broker) Post(name string, clientTime int64, author string, data json.RawMessage) (wire.InfoPost, error) {
	r := b.room(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := logstore.Record{
		ServerTime: b.now(),
		ClientTime: clientTime,
		Name:       author,
		Data:       data,
	}
	index, err := b.store.Append(name, rec)
	if err != nil {
		return wire.InfoPost{}, fmt.Errorf("append post: %w", err)
	}

	info := wire.InfoPost{
		Type:       wire.TypeInfoPost,
		Room:       name,
		Index:      index,
		ServerTime: rec.ServerTime,
		ClientTime: rec.ClientTime,
		Name:       rec.Name,
		Data:       rec.Data,
	}

	for sub := range r.subscribers {
		if err := sub.Send(info); err != nil {
			b.logger.Warn("dropping subscriber after failed send", "room", name, "index", index, "error", err)
			delete(r.subscribers, sub)
		}
	}
	return info, nil
}

// Load replays every confirmed record at or after from to one subscriber.
// It does not touch the room's subscriber set.
func (b *Broker) Load(name string, from int, sub Sender) error {
	if from < 0 {
		from = 0
	}
	records, err := b.store.Read(name, from)
	if err != nil {
		return fmt.Errorf("read room log: %w", err)
	}

	for i, rec := range records {
		info := wire.InfoPost{
			Type:       wire.TypeInfoPost,
			Room:       name,
			Index:      from + i,
			ServerTime: rec.ServerTime,
			ClientTime: rec.ClientTime,
			Name:       rec.Name,
			Data:       rec.Data,
		}
		if err := sub.Send(info); err != nil {
			return fmt.Errorf("send record %d: %w", from+i, err)
		}
	}
	return nil
}

// RoomStats summarizes one room for the diagnostics surface.
type RoomStats struct {
	Room        string `json:"room"`
	Subscribers int    `json:"subscribers"`
}

// Stats reports the rooms with at least one current subscriber or append.
func (b *Broker) Stats() []RoomStats {
	b.mu.Lock()
	names := make([]string, 0, len(b.rooms))
	rooms := make([]*room, 0, len(b.rooms))
	for name, r := range b.rooms {
		names = append(names, name)
		rooms = append(rooms, r)
	}
	b.mu.Unlock()

	stats := make([]RoomStats, 0, len(rooms))
	for i, r := range rooms {
		r.mu.Lock()
		stats = append(stats, RoomStats{Room: names[i], Subscribers: len(r.subscribers)})
		r.mu.Unlock()
	}
	return stats
}

// Now reports the server clock in milliseconds.
func (b *Broker) Now() int64 {
	return b.now()
}
