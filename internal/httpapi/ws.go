package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/park285/tarik-tambang-server/internal/config"
	"github.com/park285/tarik-tambang-server/internal/obslog"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/park285/tarik-tambang-server/internal/ticket"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// handleStream upgrades to a websocket and relays the room change stream.
// A ticket is optional; with one, the disconnect policy applies to its seat.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	code := urlCode(r)
	if code == "" {
		s.invalid(w, "room.code_empty", nil)
		return
	}
	var claims *ticket.Claims
	if tok := bearer(r); tok != "" {
		c, err := s.authorize(code, tok)
		if err != nil {
			s.writeError(w, code, err)
			return
		}
		claims = c
	}

	sub, err := s.hub.Subscribe(r.Context(), code)
	if err != nil {
		s.writeError(w, code, err)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Debug("ws_accept_error", zap.String("code", code), zap.Error(err))
		return
	}
	sessionID := uuid.NewString()
	s.metrics.Subscribers.Inc()
	defer s.metrics.Subscribers.Dec()
	obslog.L().Info("ws_open", zap.String("code", code), zap.String("session", sessionID), zap.Bool("seated", claims != nil))

	// the stream is write-only; CloseRead handles control frames and peer close
	ctx := conn.CloseRead(r.Context())
	go s.pingLoop(ctx, conn)

	reason := s.relay(ctx, conn, sub.C)
	obslog.L().Info("ws_close", zap.String("code", code), zap.String("session", sessionID), zap.String("reason", reason))
	if reason == "peer" && claims != nil {
		s.onDisconnect(claims)
	}
}

func (s *Server) relay(ctx context.Context, conn *websocket.Conn, changes <-chan room.Change) string {
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "closing")
			return "peer"
		case ch, ok := <-changes:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "room closed")
				return "room_closed"
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ch)
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return "peer"
			}
			if ch.Deleted {
				_ = conn.Close(websocket.StatusNormalClosure, "room deleted")
				return "room_closed"
			}
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// onDisconnect frees the seat under the leave policy. The seat is kept when it
// has been reclaimed since, by anyone or by the same player on a newer ticket.
func (s *Server) onDisconnect(claims *ticket.Claims) {
	if s.policy != config.DisconnectLeave {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	left, err := s.lobby.LeaveSession(ctx, claims.Room, claims.SeatRef(), claims.ID)
	if err != nil {
		obslog.L().Warn("ws_disconnect_leave_error", zap.String("code", claims.Room), zap.Error(err))
		return
	}
	if !left {
		obslog.L().Debug("ws_disconnect_skip", zap.String("code", claims.Room), zap.String("seat", claims.Seat))
		return
	}
	obslog.L().Info("ws_disconnect_leave", zap.String("code", claims.Room), zap.String("seat", claims.Seat))
}
