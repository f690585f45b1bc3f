package engine

import (
	"encoding/json"

	"gridsync/internal/wire"
)

// Confirmed is a post that holds a place in the room's durable log. Its
// index is authoritative and never changes.
type Confirmed struct {
	Index      int
	ServerTime int64
	ClientTime int64
	Name       string
	Data       json.RawMessage
}

// Pending is a locally submitted post awaiting confirmation. It carries no
// index; until the log assigns one, its ordering key is "after every
// confirmed post on the same tick, in submission order".
type Pending struct {
	Name string
	Time int64
	Data json.RawMessage
}

// FromInfoPost converts a wire message into a confirmed post.
func FromInfoPost(info wire.InfoPost) Confirmed {
	return Confirmed{
		Index:      info.Index,
		ServerTime: info.ServerTime,
		ClientTime: info.ClientTime,
		Name:       info.Name,
		Data:       info.Data,
	}
}
