// Package net exposes the server over one TCP port: the request/response
// endpoints, the upgraded bidirectional socket, and the static client
// files. A malformed socket message is logged and dropped; the connection
// stays open.
package net

import (
	"encoding/json"
	"log/slog"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridsync/internal/broker"
	"gridsync/internal/wire"
)

const writeWait = 10 * time.Second

// HandlerConfig carries the handler's collaborators.
type HandlerConfig struct {
	// ClientDir, when set, is served at the root path.
	ClientDir string
	Logger    *slog.Logger
}

// subscriber wraps one socket connection behind a write mutex so the
// broker and the read loop never interleave frames.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) Send(info wire.InfoPost) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *subscriber) sendJSON(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(data)
}

// NewHandler builds the full HTTP surface over the broker.
func NewHandler(b *broker.Broker, cfg HandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string             `json:"status"`
			ServerTime int64              `json:"serverTime"`
			Rooms      []broker.RoomStats `json:"rooms"`
		}{
			Status:     "ok",
			ServerTime: b.Now(),
			Rooms:      b.Stats(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		connLogger := logger.With("conn", uuid.NewString())
		sub := &subscriber{conn: conn}
		defer func() {
			b.Drop(sub)
			conn.Close()
		}()

		serveSocket(b, sub, connLogger)
	})

	if cfg.ClientDir != "" {
		mux.Handle("/", nethttp.FileServer(nethttp.Dir(cfg.ClientDir)))
	}

	return mux
}

// serveSocket runs one connection's read loop until the peer goes away.
func serveSocket(b *broker.Broker, sub *subscriber, logger *slog.Logger) {
	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			logger.Debug("connection closed", "error", err)
			return
		}

		env, err := wire.Decode(raw)
		if err != nil {
			logger.Warn("discarding malformed message", "error", err)
			continue
		}

		switch env.Type {
		case wire.TypeGetTime:
			reply := wire.InfoTime{Type: wire.TypeInfoTime, Time: b.Now()}
			if err := sub.sendJSON(reply); err != nil {
				logger.Warn("time reply failed", "error", err)
			}

		case wire.TypePost:
			var msg wire.Post
			if err := json.Unmarshal(raw, &msg); err != nil {
				logger.Warn("discarding malformed post", "error", err)
				continue
			}
			if msg.Room == "" {
				logger.Warn("discarding post without room")
				continue
			}
			info, err := b.Post(msg.Room, msg.Time, msg.Name, msg.Data)
			if err != nil {
				logger.Error("append failed", "room", msg.Room, "error", err)
				continue
			}
			logger.Debug("post accepted", "room", msg.Room, "index", info.Index)

		case wire.TypeLoad:
			var msg wire.Load
			if err := json.Unmarshal(raw, &msg); err != nil {
				logger.Warn("discarding malformed load", "error", err)
				continue
			}
			if err := b.Load(msg.Room, msg.From, sub); err != nil {
				logger.Warn("load replay failed", "room", msg.Room, "error", err)
			}

		case wire.TypeWatch:
			var msg wire.Watch
			if err := json.Unmarshal(raw, &msg); err != nil {
				logger.Warn("discarding malformed watch", "error", err)
				continue
			}
			b.Watch(msg.Room, sub)
			logger.Debug("watching", "room", msg.Room)

		case wire.TypeUnwatch:
			var msg wire.Unwatch
			if err := json.Unmarshal(raw, &msg); err != nil {
				logger.Warn("discarding malformed unwatch", "error", err)
				continue
			}
			b.Unwatch(msg.Room, sub)
			logger.Debug("unwatching", "room", msg.Room)

		default:
			logger.Warn("unknown message type", "type", env.Type)
		}
	}
}
