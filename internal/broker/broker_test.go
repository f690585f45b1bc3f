package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsync/internal/logstore"
	"gridsync/internal/wire"
)

type captureSender struct {
	mu    sync.Mutex
	posts []wire.InfoPost
	fail  error
}

func (c *captureSender) Send(info wire.InfoPost) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.posts = append(c.posts, info)
	return nil
}

func (c *captureSender) received() []wire.InfoPost {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.InfoPost(nil), c.posts...)
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	store, err := logstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := int64(1000)
	return New(store, WithClock(func() int64 { clock++; return clock }))
}

func payload(i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
}

func TestPostAssignsGapFreeIndices(t *testing.T) {
	b := newTestBroker(t)

	for i := 0; i < 3; i++ {
		info, err := b.Post("lobby", int64(900+i), fmt.Sprintf("tok-%d", i), payload(i))
		require.NoError(t, err)
		assert.Equal(t, i, info.Index)
		assert.Equal(t, int64(900+i), info.ClientTime)
		assert.Positive(t, info.ServerTime)
	}
}

func TestLoadReplaysFromIndex(t *testing.T) {
	b := newTestBroker(t)
	for i := 0; i < 3; i++ {
		_, err := b.Post("lobby", 900, fmt.Sprintf("tok-%d", i), payload(i))
		require.NoError(t, err)
	}

	sub := &captureSender{}
	require.NoError(t, b.Load("lobby", 1, sub))

	got := sub.received()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, "tok-1", got[0].Name)
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, "tok-2", got[1].Name)
}

func TestWatchReceivesSubsequentPostsOnly(t *testing.T) {
	b := newTestBroker(t)
	for i := 0; i < 3; i++ {
		_, err := b.Post("lobby", 900, fmt.Sprintf("tok-%d", i), payload(i))
		require.NoError(t, err)
	}

	sub := &captureSender{}
	b.Watch("lobby", sub)

	_, err := b.Post("lobby", 900, "tok-3", payload(3))
	require.NoError(t, err)

	got := sub.received()
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Index)
	assert.Equal(t, "tok-3", got[0].Name)
}

func TestOriginReceivesItsOwnBroadcast(t *testing.T) {
	b := newTestBroker(t)
	origin := &captureSender{}
	b.Watch("lobby", origin)

	_, err := b.Post("lobby", 900, "tok-0", payload(0))
	require.NoError(t, err)

	got := origin.received()
	require.Len(t, got, 1)
	assert.Equal(t, "tok-0", got[0].Name)
}

func TestWatchIsIdempotent(t *testing.T) {
	b := newTestBroker(t)
	sub := &captureSender{}
	b.Watch("lobby", sub)
	b.Watch("lobby", sub)

	_, err := b.Post("lobby", 900, "tok", payload(0))
	require.NoError(t, err)

	assert.Len(t, sub.received(), 1)
}

func TestUnwatchStopsDelivery(t *testing.T) {
	b := newTestBroker(t)
	sub := &captureSender{}
	b.Watch("lobby", sub)
	b.Unwatch("lobby", sub)

	_, err := b.Post("lobby", 900, "tok", payload(0))
	require.NoError(t, err)

	assert.Empty(t, sub.received())
}

func TestDropRemovesFromEveryRoom(t *testing.T) {
	b := newTestBroker(t)
	sub := &captureSender{}
	b.Watch("alpha", sub)
	b.Watch("beta", sub)

	b.Drop(sub)

	_, err := b.Post("alpha", 900, "tok-a", payload(0))
	require.NoError(t, err)
	_, err = b.Post("beta", 900, "tok-b", payload(1))
	require.NoError(t, err)

	assert.Empty(t, sub.received())
}

func TestFailingSubscriberIsRemoved(t *testing.T) {
	b := newTestBroker(t)
	bad := &captureSender{fail: errors.New("socket gone")}
	good := &captureSender{}
	b.Watch("lobby", bad)
	b.Watch("lobby", good)

	_, err := b.Post("lobby", 900, "tok-0", payload(0))
	require.NoError(t, err)
	_, err = b.Post("lobby", 900, "tok-1", payload(1))
	require.NoError(t, err)

	assert.Len(t, good.received(), 2)
	for _, s := range b.Stats() {
		if s.Room == "lobby" {
			assert.Equal(t, 1, s.Subscribers)
		}
	}
}

func TestConcurrentPostsStayGapFree(t *testing.T) {
	b := newTestBroker(t)
	sub := &captureSender{}
	b.Watch("lobby", sub)

	const posters = 8
	const perPoster = 10
	var wg sync.WaitGroup
	for p := 0; p < posters; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPoster; i++ {
				_, err := b.Post("lobby", 900, fmt.Sprintf("tok-%d-%d", p, i), payload(i))
				assert.NoError(t, err)
			}
		}(p)
	}
	wg.Wait()

	got := sub.received()
	require.Len(t, got, posters*perPoster)
	for i, info := range got {
		assert.Equal(t, i, info.Index, "broadcast order must match log order")
	}

	replay := &captureSender{}
	require.NoError(t, b.Load("lobby", 0, replay))
	assert.Len(t, replay.received(), posters*perPoster)
}

func TestLoadOfUnknownRoomSendsNothing(t *testing.T) {
	b := newTestBroker(t)
	sub := &captureSender{}
	require.NoError(t, b.Load("missing", 0, sub))
	assert.Empty(t, sub.received())
}
