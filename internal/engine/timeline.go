package engine

import (
	"encoding/json"
	"sort"
)

// pendingOrderBase sorts every pending post after any possible confirmed
// index while keeping pending posts in submission order among themselves.
const pendingOrderBase = int64(1) << 62

// scheduled is one post placed on the timeline, with its tie-break key.
type scheduled struct {
	order int64
	data  json.RawMessage
}

// officialTime is the authoritative moment a post takes effect. A client
// stamp is trusted unless it claims to predate the server's confirmation
// by more than the tolerance, in which case the tolerance-adjusted server
// time bounds it.
func officialTime(serverTime, clientTime, tolerance int64) int64 {
	if clientTime <= serverTime-tolerance {
		return serverTime - tolerance
	}
	return clientTime
}

func timeToTick(timeMillis int64, tickRate int) int64 {
	t := timeMillis * int64(tickRate) / 1000
	if timeMillis < 0 && timeMillis*int64(tickRate)%1000 != 0 {
		t-- // floor for negative values
	}
	return t
}

// buildTimeline maps each tick to the posts applied on it, ordered by
// confirmed index first, then pending posts in submission order.
func buildTimeline(confirmed map[int]Confirmed, pending []Pending, tolerance int64, tickRate int) map[int64][]scheduled {
	timeline := make(map[int64][]scheduled)

	for index, post := range confirmed {
		tick := timeToTick(officialTime(post.ServerTime, post.ClientTime, tolerance), tickRate)
		timeline[tick] = append(timeline[tick], scheduled{order: int64(index), data: post.Data})
	}
	for i, post := range pending {
		tick := timeToTick(officialTime(post.Time, post.Time, tolerance), tickRate)
		timeline[tick] = append(timeline[tick], scheduled{order: pendingOrderBase + int64(i), data: post.Data})
	}

	for _, posts := range timeline {
		sort.Slice(posts, func(i, j int) bool { return posts[i].order < posts[j].order })
	}
	return timeline
}
