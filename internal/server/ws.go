package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"eventRelay/internal/history"
	"eventRelay/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn serializes writes: the dispatcher pushes concurrently with replies
// from the read loop.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// PushJSON implements registry.PushConn.
func (c *wsConn) PushJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// wsSubscribeMessage is what a client sends to install or replace its
// subscription on this connection.
type wsSubscribeMessage struct {
	Filter    json.RawMessage `json:"filter"`
	Secret    string          `json:"secret"`
	Kind      model.Kind      `json:"kind"`
	FetchPast int             `json:"fetch_past"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	origin := r.RemoteAddr
	wrapped := &wsConn{conn: conn}
	s.logger.Info("connection open", zap.String("conn", id), zap.String("origin", origin))

	defer func() {
		conn.Close()
		s.registry.ConnClose(id)
		s.logger.Info("connection closed", zap.String("conn", id))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsSubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("bad subscribe message", zap.String("conn", id), zap.Error(err))
			continue
		}
		var spec any
		if msg.Filter != nil {
			if err := json.Unmarshal(msg.Filter, &spec); err != nil {
				s.logger.Debug("bad subscribe filter", zap.String("conn", id), zap.Error(err))
				continue
			}
		}
		kind := msg.Kind
		if !kind.Valid() {
			kind = model.KindEvents
		}

		s.registry.ConnSubscribe(id, wrapped, msg.Secret, spec, kind, origin)

		if msg.FetchPast > 0 {
			past := s.bufferFor(kind).Query(spec, s.resolveLimit(&msg.FetchPast))
			if past == nil {
				past = []model.Row{}
			}
			reply := map[string]any{
				"secret":     msg.Secret,
				string(kind): past,
				"note":       "past",
			}
			if err := wrapped.PushJSON(reply); err != nil {
				s.logger.Debug("past reply failed", zap.String("conn", id), zap.Error(err))
			}
		}
	}
}

func (s *Server) bufferFor(kind model.Kind) *history.Buffer {
	if kind == model.KindActions {
		return s.actions
	}
	return s.events
}
