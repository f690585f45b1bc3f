package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledCache(t *testing.T) *stateCache[int] {
	t.Helper()
	c := &stateCache[int]{}
	c.rebase(10)
	for tick := int64(10); tick <= 20; tick++ {
		c.put(tick, int(tick)*100)
	}
	require.Len(t, c.states, 11)
	return c
}

func TestInvalidateFromTruncates(t *testing.T) {
	c := filledCache(t)
	c.invalidateFrom(15)

	// Ticks 10..14 stay cached, 15 and later are gone.
	state, resumeAt, ok := c.usable(20)
	require.True(t, ok)
	assert.Equal(t, 1400, state)
	assert.Equal(t, int64(15), resumeAt)
	assert.Len(t, c.states, 5)
}

func TestInvalidateAtOrBeforeBaseResets(t *testing.T) {
	c := filledCache(t)
	c.invalidateFrom(10)
	assert.False(t, c.set)
	assert.Empty(t, c.states)

	c = filledCache(t)
	c.invalidateFrom(3)
	assert.False(t, c.set)
}

func TestInvalidateBeyondEndIsNoop(t *testing.T) {
	c := filledCache(t)
	c.invalidateFrom(25)
	assert.Len(t, c.states, 11)
}

func TestInvalidateUnsetCacheIsNoop(t *testing.T) {
	c := &stateCache[int]{}
	c.invalidateFrom(5)
	assert.False(t, c.set)
}

func TestRebaseClearsOnNewStart(t *testing.T) {
	c := filledCache(t)
	c.rebase(10)
	assert.Len(t, c.states, 11, "same base keeps entries")

	c.rebase(7)
	assert.Empty(t, c.states)
	assert.Equal(t, int64(7), c.start)
	assert.True(t, c.set)
}

func TestUsableCapsAtRequestedTick(t *testing.T) {
	c := filledCache(t)

	state, resumeAt, ok := c.usable(13)
	require.True(t, ok)
	assert.Equal(t, 1300, state)
	assert.Equal(t, int64(14), resumeAt)
}

func TestPutIgnoresGaps(t *testing.T) {
	c := &stateCache[int]{}
	c.rebase(10)
	c.put(12, 1200) // gap: tick 10 and 11 never computed
	assert.Empty(t, c.states)
}

func TestEngineCacheTruncationEndToEnd(t *testing.T) {
	e := New("lobby", traceFuncs(), traceOptions(), nil, nil)
	e.HandleConfirmed(at(0, 10, "A"))
	e.ComputeStateAt(20)
	require.Len(t, e.cache.states, 11)

	// A confirmed post on tick 15 truncates exactly the ticks it can
	// affect.
	e.HandleConfirmed(at(1, 15, "B"))
	assert.Len(t, e.cache.states, 5)

	assert.Equal(t, ".A.....B", e.ComputeStateAt(15))
}

func TestTimelineRebuiltLazily(t *testing.T) {
	e := New("lobby", traceFuncs(), traceOptions(), nil, nil)
	e.HandleConfirmed(at(0, 10, "A"))
	e.ComputeStateAt(12)
	require.NotNil(t, e.timeline)

	e.HandleConfirmed(at(1, 11, "B"))
	assert.Nil(t, e.timeline, "mutation marks the timeline dirty")

	assert.Equal(t, ".A.B.", e.ComputeStateAt(12))
	assert.NotNil(t, e.timeline)
}

func TestPendingPayloadAliasingSafe(t *testing.T) {
	clock := &fakeClock{now: 1000}
	e := New("lobby", traceFuncs(), traceOptions(), clock, &fakePoster{})
	data := json.RawMessage("P")
	_, err := e.Submit(data)
	require.NoError(t, err)

	e.HandleConfirmed(at(0, 10, "A"))
	assert.Equal(t, ".AP", e.ComputeStateAt(10))
}
