package engine

// stateCache memoizes the state produced after each tick. states[i] is the
// state after processing tick start+i, valid only for the confirmed and
// pending sets it was computed from; any mutation truncates from the
// affected tick.
type stateCache[S any] struct {
	states []S
	start  int64
	set    bool
}

func (c *stateCache[S]) reset() {
	c.states = c.states[:0]
	c.start = 0
	c.set = false
}

// invalidateFrom drops entries at or after tick. Entries before it stay
// valid: a post on tick T cannot change the state of earlier ticks.
func (c *stateCache[S]) invalidateFrom(tick int64) {
	if !c.set {
		return
	}
	dropFrom := tick - c.start
	if dropFrom <= 0 {
		c.reset()
		return
	}
	if dropFrom < int64(len(c.states)) {
		c.states = c.states[:dropFrom]
	}
}

// rebase pins the cache to the room's first authoritative tick, clearing
// it when that tick has changed since the last computation.
func (c *stateCache[S]) rebase(start int64) {
	if c.set && c.start == start {
		return
	}
	c.states = c.states[:0]
	c.start = start
	c.set = true
}

// usable returns the latest cached state at or before tick, along with the
// tick replay should resume from.
func (c *stateCache[S]) usable(tick int64) (S, int64, bool) {
	var zero S
	if !c.set || len(c.states) == 0 {
		return zero, 0, false
	}
	highest := c.start + int64(len(c.states)) - 1
	if highest > tick {
		highest = tick
	}
	index := highest - c.start
	if index < 0 {
		return zero, 0, false
	}
	return c.states[index], highest + 1, true
}

// put records the state computed for tick. Appends in replay order and
// overwrites when recomputing an already cached tick.
func (c *stateCache[S]) put(tick int64, state S) {
	if !c.set {
		return
	}
	index := tick - c.start
	switch {
	case index == int64(len(c.states)):
		c.states = append(c.states, state)
	case index >= 0 && index < int64(len(c.states)):
		c.states[index] = state
	}
}
