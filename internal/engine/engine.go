// Package engine replays a room's ordered post log into an application
// state. Locally submitted posts are overlaid speculatively until the log
// confirms them, a tick-indexed cache keeps recomputation incremental, and
// any mutation of the post sets invalidates the cache from the affected
// tick onward. Replay is deterministic: the same confirmed and pending
// sets always produce the same state, regardless of query order.
package engine

import (
	"encoding/json"
	"sync"
	"time"

	"gridsync/internal/wire"
)

// Clock supplies the connection's view of server time.
type Clock interface {
	// ServerTime returns the current server clock in milliseconds. It
	// fails until the first sync sample has arrived.
	ServerTime() (int64, error)
	// Ping returns the last observed round trip.
	Ping() time.Duration
}

// Poster submits a post to the server and returns the author token the
// confirmation will carry.
type Poster interface {
	Post(room string, data json.RawMessage) (string, error)
}

// Funcs are the application-supplied pure functions. Advance and Apply
// must return fresh values: returned states are cached and must not alias
// mutable structure with their inputs.
type Funcs[S any] struct {
	// Init is the state before the room's first post.
	Init S
	// Advance is the per-tick transition, independent of posts.
	Advance func(S) S
	// Apply folds one post payload into the state.
	Apply func(json.RawMessage, S) S
	// Smooth blends an authoritative past state with the current
	// speculative one for rendering. Nil renders the current state.
	Smooth func(past, curr S) S
}

// Options tune the tick mapping.
type Options struct {
	// TickRate is the number of simulation ticks per second.
	TickRate int
	// Tolerance bounds, in milliseconds, how far a post's client stamp
	// may trail its server confirmation and still be trusted.
	Tolerance int64
}

// Engine owns one room's replicated state. Methods are safe for
// concurrent use; message delivery and render queries typically run on
// different goroutines.
type Engine[S any] struct {
	room   string
	funcs  Funcs[S]
	opts   Options
	clock  Clock
	poster Poster

	mu        sync.Mutex
	confirmed map[int]Confirmed
	pending   []Pending
	cache     stateCache[S]
	timeline  map[int64][]scheduled // nil means dirty, rebuilt on next read
}

// New constructs an engine for room. clock and poster may be nil for a
// replay-only engine that never submits.
func New[S any](room string, funcs Funcs[S], opts Options, clock Clock, poster Poster) *Engine[S] {
	return &Engine[S]{
		room:      room,
		funcs:     funcs,
		opts:      opts,
		clock:     clock,
		poster:    poster,
		confirmed: make(map[int]Confirmed),
	}
}

// Room returns the room this engine replays.
func (e *Engine[S]) Room() string { return e.room }

// TimeToTick converts server milliseconds into a tick.
func (e *Engine[S]) TimeToTick(timeMillis int64) int64 {
	return timeToTick(timeMillis, e.opts.TickRate)
}

// ServerTick returns the tick corresponding to server time now.
func (e *Engine[S]) ServerTick() (int64, error) {
	now, err := e.clock.ServerTime()
	if err != nil {
		return 0, err
	}
	return e.TimeToTick(now), nil
}

// PostCount returns the number of confirmed posts loaded for the room.
func (e *Engine[S]) PostCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.confirmed)
}

// HandleInfoPost feeds one confirmed post from the wire into the engine.
func (e *Engine[S]) HandleInfoPost(info wire.InfoPost) {
	e.HandleConfirmed(FromInfoPost(info))
}

// HandleConfirmed integrates a confirmed post. A pending post with the
// same author token is dropped first, even when the payloads differ,
// since the log is authoritative. Each locally originated post is thus
// represented exactly once. The cache is invalidated from the post's
// official tick: a historical post may rewrite already rendered ticks.
func (e *Engine[S]) HandleConfirmed(post Confirmed) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if post.Name != "" {
		for i, p := range e.pending {
			if p.Name == post.Name {
				e.pending = append(e.pending[:i], e.pending[i+1:]...)
				break
			}
		}
	}
	e.confirmed[post.Index] = post
	e.invalidateFromLocked(e.officialTick(post.ServerTime, post.ClientTime))
}

// Submit speculatively applies data and sends it to the server, without
// waiting for a reply. The caller may immediately query state and observe
// the effect. Returns the author token of the eventual confirmation.
func (e *Engine[S]) Submit(data json.RawMessage) (string, error) {
	now, err := e.clock.ServerTime()
	if err != nil {
		return "", err
	}
	name, err := e.poster.Post(e.room, data)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, Pending{Name: name, Time: now, Data: data})
	e.invalidateFromLocked(e.officialTick(now, now))
	return name, nil
}

func (e *Engine[S]) officialTick(serverTime, clientTime int64) int64 {
	return timeToTick(officialTime(serverTime, clientTime, e.opts.Tolerance), e.opts.TickRate)
}

// invalidateFromLocked marks the timeline dirty and truncates the cache.
func (e *Engine[S]) invalidateFromLocked(tick int64) {
	e.timeline = nil
	e.cache.invalidateFrom(tick)
}

// initialTickLocked is the tick of the room's first confirmed post, the
// point simulation starts from. Reports false while the room is empty.
func (e *Engine[S]) initialTickLocked() (int64, bool) {
	first, ok := e.confirmed[0]
	if !ok {
		return 0, false
	}
	return e.officialTick(first.ServerTime, first.ClientTime), true
}

func (e *Engine[S]) timelineLocked() map[int64][]scheduled {
	if e.timeline == nil {
		e.timeline = buildTimeline(e.confirmed, e.pending, e.opts.Tolerance, e.opts.TickRate)
	}
	return e.timeline
}

// ComputeStateAt replays the post log up to and including tick. Before
// the room's first confirmed post it returns the initial state.
func (e *Engine[S]) ComputeStateAt(tick int64) S {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computeStateAtLocked(tick)
}

func (e *Engine[S]) computeStateAtLocked(tick int64) S {
	initialTick, ok := e.initialTickLocked()
	if !ok {
		e.cache.reset()
		return e.funcs.Init
	}
	if tick < initialTick {
		return e.funcs.Init
	}

	e.cache.rebase(initialTick)
	timeline := e.timelineLocked()

	state := e.funcs.Init
	startTick := initialTick
	if cached, resumeAt, ok := e.cache.usable(tick); ok {
		if resumeAt > tick {
			return cached
		}
		state = cached
		startTick = resumeAt
	}

	for t := startTick; t <= tick; t++ {
		state = e.funcs.Advance(state)
		for _, post := range timeline[t] {
			state = e.funcs.Apply(post.data, state)
		}
		e.cache.put(t, state)
	}
	return state
}

// ComputeCurrentState replays up to server time now.
func (e *Engine[S]) ComputeCurrentState() (S, error) {
	tick, err := e.ServerTick()
	if err != nil {
		var zero S
		return zero, err
	}
	return e.ComputeStateAt(tick), nil
}

// ComputeRenderState blends an authoritative past state with the current
// speculative one. The past tick trails now by at least the tolerance and
// at least half the round trip, so remote posts have usually arrived by
// the time the blended past renders them.
func (e *Engine[S]) ComputeRenderState() (S, error) {
	currTick, err := e.ServerTick()
	if err != nil {
		var zero S
		return zero, err
	}

	tickMillis := 1000.0 / float64(e.opts.TickRate)
	tolTicks := int64(ceilDiv(float64(e.opts.Tolerance), tickMillis))
	halfRTT := int64(ceilDiv(float64(e.clock.Ping().Milliseconds())/2, tickMillis))

	pastTicks := tolTicks
	if halfRTT+1 > pastTicks {
		pastTicks = halfRTT + 1
	}
	pastTick := currTick - pastTicks
	if pastTick < 0 {
		pastTick = 0
	}

	e.mu.Lock()
	past := e.computeStateAtLocked(pastTick)
	curr := e.computeStateAtLocked(currTick)
	e.mu.Unlock()

	if e.funcs.Smooth == nil {
		return curr, nil
	}
	return e.funcs.Smooth(past, curr), nil
}

func ceilDiv(value, step float64) float64 {
	result := value / step
	whole := float64(int64(result))
	if result > whole {
		return whole + 1
	}
	return whole
}
