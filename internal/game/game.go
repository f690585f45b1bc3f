// Package game is the demo application layered on the replicated engine:
// a shared tile grid that players walk with WASD. Both transition
// functions are pure and never mutate their input state, which is what
// lets the engine cache and replay them freely.
package game

import (
	"encoding/json"
	"math"

	"gridsync/internal/engine"
)

const (
	// TickRate is the simulation frequency shared by every client.
	TickRate = 24
	// Tolerance bounds trust in client timestamps, in milliseconds.
	Tolerance = 10

	TileSize  = 24.0
	WorldCols = 40
	WorldRows = 22

	WorldWidth  = TileSize * WorldCols
	WorldHeight = TileSize * WorldRows

	pixelsPerSecond = TileSize * 6
	pixelsPerTick   = pixelsPerSecond / TickRate
	halfTile        = TileSize / 2

	arriveEpsilon = 1e-3
)

// Player is one avatar on the grid. PX/PY is the rendered position,
// TX/TY the tile center it is walking toward.
type Player struct {
	PX, PY float64
	TX, TY float64
	Moving bool
	W      bool
	A      bool
	S      bool
	D      bool
}

// State maps nick to player. Treated as immutable: every transition
// returns a fresh map.
type State map[string]Player

// Post payload discriminators.
const (
	PostSpawn = "spawn"
	PostDown  = "down"
	PostUp    = "up"
)

type postPayload struct {
	Type   string  `json:"$"`
	Nick   string  `json:"nick,omitempty"`
	PX     float64 `json:"px,omitempty"`
	PY     float64 `json:"py,omitempty"`
	Player string  `json:"player,omitempty"`
	Key    string  `json:"key,omitempty"`
}

// SpawnPost builds the payload that places nick near (px, py).
func SpawnPost(nick string, px, py float64) json.RawMessage {
	raw, _ := json.Marshal(postPayload{Type: PostSpawn, Nick: nick, PX: px, PY: py})
	return raw
}

// KeyPost builds a key transition payload; down selects press vs release.
func KeyPost(player, key string, down bool) json.RawMessage {
	kind := PostUp
	if down {
		kind = PostDown
	}
	raw, _ := json.Marshal(postPayload{Type: kind, Player: player, Key: key})
	return raw
}

func clampIndex(index, max int) int {
	if index < 0 {
		return 0
	}
	if index > max {
		return max
	}
	return index
}

func tileCenter(index int) float64 {
	return float64(index)*TileSize + halfTile
}

func nearestTile(value float64, maxIndex int) int {
	snapped := int(math.Round((value - halfTile) / TileSize))
	return clampIndex(snapped, maxIndex)
}

// pickDirection chooses the held key that wins when several are down.
func pickDirection(p Player) string {
	switch {
	case p.W:
		return "w"
	case p.A:
		return "a"
	case p.S:
		return "s"
	case p.D:
		return "d"
	}
	return ""
}

func stepToward(current, target float64) float64 {
	delta := target - current
	if math.Abs(delta) <= pixelsPerTick {
		return target
	}
	if delta < 0 {
		return current - pixelsPerTick
	}
	return current + pixelsPerTick
}

func arrived(p Player) bool {
	return math.Abs(p.PX-p.TX) < arriveEpsilon && math.Abs(p.PY-p.TY) < arriveEpsilon
}

// Advance is the per-tick transition: continue in-flight steps and start
// a new one for any idle player holding a key.
func Advance(state State) State {
	next := make(State, len(state))
	for nick, p := range state {
		if arrived(p) {
			p.PX, p.PY = p.TX, p.TY
			p.Moving = false
		}

		if !p.Moving {
			if dir := pickDirection(p); dir != "" {
				tileX := nearestTile(p.TX, WorldCols-1)
				tileY := nearestTile(p.TY, WorldRows-1)
				nextX, nextY := tileX, tileY
				switch dir {
				case "w":
					nextY = clampIndex(tileY-1, WorldRows-1)
				case "a":
					nextX = clampIndex(tileX-1, WorldCols-1)
				case "s":
					nextY = clampIndex(tileY+1, WorldRows-1)
				case "d":
					nextX = clampIndex(tileX+1, WorldCols-1)
				}
				tx, ty := tileCenter(nextX), tileCenter(nextY)
				if tx != p.TX || ty != p.TY {
					p.TX, p.TY = tx, ty
					p.Moving = true
				}
			}
		}

		if p.Moving {
			p.PX = stepToward(p.PX, p.TX)
			p.PY = stepToward(p.PY, p.TY)
			if arrived(p) {
				p.PX, p.PY = p.TX, p.TY
				p.Moving = false
			}
		}

		next[nick] = p
	}
	return next
}

// ApplyPost folds one post payload into the state. Unknown payloads and
// posts for unknown players leave the state unchanged.
func ApplyPost(data json.RawMessage, state State) State {
	var post postPayload
	if err := json.Unmarshal(data, &post); err != nil {
		return state
	}

	switch post.Type {
	case PostSpawn:
		if post.Nick == "" {
			return state
		}
		if _, ok := state[post.Nick]; ok {
			return state
		}
		x := tileCenter(nearestTile(post.PX, WorldCols-1))
		y := tileCenter(nearestTile(post.PY, WorldRows-1))
		next := cloneState(state)
		next[post.Nick] = Player{PX: x, PY: y, TX: x, TY: y}
		return next

	case PostDown, PostUp:
		p, ok := state[post.Player]
		if !ok {
			return state
		}
		held := post.Type == PostDown
		switch post.Key {
		case "w":
			p.W = held
		case "a":
			p.A = held
		case "s":
			p.S = held
		case "d":
			p.D = held
		default:
			return state
		}
		next := cloneState(state)
		next[post.Player] = p
		return next
	}
	return state
}

func cloneState(state State) State {
	next := make(State, len(state)+1)
	for nick, p := range state {
		next[nick] = p
	}
	return next
}

// Smooth blends render states: the local player tracks the speculative
// current state while everyone else renders from the authoritative past.
func Smooth(self string) func(past, curr State) State {
	return func(past, curr State) State {
		blended := cloneState(past)
		if p, ok := curr[self]; ok {
			blended[self] = p
		}
		return blended
	}
}

// EngineFuncs bundles the grid rules for an engine replaying as self.
func EngineFuncs(self string) engine.Funcs[State] {
	return engine.Funcs[State]{
		Init:    State{},
		Advance: Advance,
		Apply:   ApplyPost,
		Smooth:  Smooth(self),
	}
}

// EngineOptions returns the tick mapping shared by every grid client.
func EngineOptions() engine.Options {
	return engine.Options{TickRate: TickRate, Tolerance: Tolerance}
}
