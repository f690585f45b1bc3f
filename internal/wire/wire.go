// Package wire defines the JSON message contract shared by the server and
// the client. Every message carries a "$" discriminator; unknown or
// malformed messages are dropped by the receiver without closing the
// connection.
package wire

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators.
const (
	TypeGetTime  = "get_time"
	TypeInfoTime = "info_time"
	TypePost     = "post"
	TypeInfoPost = "info_post"
	TypeLoad     = "load"
	TypeWatch    = "watch"
	TypeUnwatch  = "unwatch"
)

// Envelope carries only the discriminator so a receiver can pick the
// concrete message type before decoding the rest.
type Envelope struct {
	Type string `json:"$"`
}

// GetTime asks the server for its current clock reading.
type GetTime struct {
	Type string `json:"$" jsonschema:"title=Message type,enum=get_time"`
}

// InfoTime is the server's reply to GetTime.
type InfoTime struct {
	Type string `json:"$" jsonschema:"enum=info_time"`
	Time int64  `json:"time" jsonschema:"description=Server clock in milliseconds since the Unix epoch"`
}

// Post submits a new record to a room's log. Name is the client-generated
// author token used to correlate the eventual confirmation.
type Post struct {
	Type string          `json:"$" jsonschema:"enum=post"`
	Room string          `json:"room" jsonschema:"description=Log identifier the record is appended to"`
	Time int64           `json:"time" jsonschema:"description=Submitting client's clock in server milliseconds"`
	Name string          `json:"name" jsonschema:"description=Opaque author token generated by the submitter"`
	Data json.RawMessage `json:"data" jsonschema:"description=Application payload passed through untouched"`
}

// InfoPost is a confirmed record, sent both as the broadcast for a fresh
// append and as the replay unit for Load.
type InfoPost struct {
	Type       string          `json:"$" jsonschema:"enum=info_post"`
	Room       string          `json:"room"`
	Index      int             `json:"index" jsonschema:"description=Zero-based position in the room's log,minimum=0"`
	ServerTime int64           `json:"server_time"`
	ClientTime int64           `json:"client_time"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data"`
}

// Load requests a replay of every confirmed record at or after From,
// delivered to the requesting connection only.
type Load struct {
	Type string `json:"$" jsonschema:"enum=load"`
	Room string `json:"room"`
	From int    `json:"from"`
}

// Watch adds the connection to the room's subscriber set. Idempotent.
type Watch struct {
	Type string `json:"$" jsonschema:"enum=watch"`
	Room string `json:"room"`
}

// Unwatch removes the connection from the room's subscriber set.
type Unwatch struct {
	Type string `json:"$" jsonschema:"enum=unwatch"`
	Room string `json:"room"`
}

// Decode extracts the discriminator from a raw message.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing $ discriminator")
	}
	return env, nil
}
