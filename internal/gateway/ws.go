package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Message types exchanged on /ws/chat.
const (
	MsgExchange = "exchange" // client → server
	MsgReply    = "reply"    // server → client
	MsgError    = "error"    // server → client
)

// Envelope is one WebSocket message. Replies echo the request ID.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const wsWriteTimeout = 10 * time.Second

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	s.logger.Debug("chat client connected", "remote", r.RemoteAddr)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				s.logger.Debug("chat client disconnected", "remote", r.RemoteAddr)
			} else {
				s.logger.Debug("chat read ended", "remote", r.RemoteAddr, "err", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(ctx, conn, "", "bad_request", "invalid message: "+err.Error())
			continue
		}
		if env.Type != MsgExchange {
			s.sendError(ctx, conn, env.ID, "bad_request", "unexpected message type "+env.Type)
			continue
		}
		if env.Text == "" {
			s.sendError(ctx, conn, env.ID, "bad_request", "text must not be empty")
			continue
		}

		reply, err := s.responder.Respond(ctx, env.Text)
		if err != nil {
			_, kind := classify(err)
			s.logger.Warn("chat exchange failed", "err", err, "kind", kind)
			s.sendError(ctx, conn, env.ID, kind, err.Error())
			continue
		}
		payload, _ := json.Marshal(toReply(reply))
		s.send(ctx, conn, Envelope{Type: MsgReply, ID: env.ID, Payload: payload})
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, env Envelope) {
	env.Timestamp = time.Now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("marshal envelope failed", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Warn("write envelope failed", "err", err)
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, id, kind, msg string) {
	payload, _ := json.Marshal(errorJSON{Error: msg, Kind: kind})
	s.send(ctx, conn, Envelope{Type: MsgError, ID: id, Payload: payload})
}
