package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/park285/tarik-tambang-server/internal/obslog"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/park285/tarik-tambang-server/pkg/matchdto"
	"go.uber.org/zap"
)

const maxBody = 1 << 14

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func urlCode(r *http.Request) string { return room.NormalizeCode(chi.URLParam(r, "code")) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	h := matchdto.Health{Status: "ok", Redis: "ok", Subscribers: s.hub.Total()}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		h.Status, h.Redis = "degraded", err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h, h.Status)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.lobby.ListOpen(r.Context())
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	out := make([]*matchdto.RoomView, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, toRoomView(rm))
	}
	writeJSON(w, http.StatusOK, out, "")
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	code := urlCode(r)
	if code == "" {
		s.invalid(w, "room.code_empty", nil)
		return
	}
	rm, err := s.lobby.Get(r.Context(), code)
	if err != nil {
		s.writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomView(rm), "")
}

// handleCreateRoom creates a room and seats the creator in seat A.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req matchdto.CreateRoomRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		s.invalid(w, "room.name_empty", nil)
		return
	}
	name := strings.TrimSpace(req.Name)
	session := uuid.NewString()
	code, err := s.lobby.Host(r.Context(), name, session)
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	s.metrics.RoomsCreated.Inc()
	s.metrics.Joins.WithLabelValues("ok").Inc()
	grant, err := s.grant(code, room.SeatA, name, session)
	if err != nil {
		// nobody else can hold the ticketless seat, so drop the room
		if lerr := s.lobby.Leave(r.Context(), code, room.SeatA); lerr != nil {
			obslog.L().Warn("http_create_rollback_error", zap.String("code", code), zap.Error(lerr))
		}
		s.writeError(w, code, err)
		return
	}
	grant.Message = s.msg.Text("room.created", map[string]any{"Code": code})
	writeJSON(w, http.StatusCreated, grant, grant.Message)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	code := urlCode(r)
	if code == "" {
		s.invalid(w, "room.code_empty", nil)
		return
	}
	var req matchdto.JoinRoomRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		s.invalid(w, "room.name_empty", nil)
		return
	}
	grant, err := s.join(r.Context(), code, strings.TrimSpace(req.Name))
	if err != nil {
		s.writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, grant, grant.Message)
}

func (s *Server) join(ctx context.Context, code, name string) (*matchdto.SeatGrant, error) {
	session := uuid.NewString()
	seat, err := s.lobby.JoinSession(ctx, code, name, session)
	if err != nil {
		s.metrics.Joins.WithLabelValues(joinOutcome(err)).Inc()
		return nil, err
	}
	s.metrics.Joins.WithLabelValues("ok").Inc()
	return s.grant(code, seat, name, session)
}

// grant signs the seat ticket bound to session.
func (s *Server) grant(code string, seat room.Seat, name, session string) (*matchdto.SeatGrant, error) {
	tok, err := s.tickets.Issue(code, seat, name, session)
	if err != nil {
		return nil, err
	}
	return &matchdto.SeatGrant{
		Code:    code,
		Seat:    string(seat),
		Name:    name,
		Ticket:  tok,
		Message: s.msg.Text("room.joined", map[string]any{"Name": name, "Seat": seat.Label()}),
	}, nil
}

func joinOutcome(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomFull):
		return "full"
	case errors.Is(err, room.ErrRoomNotFound):
		return "not_found"
	case errors.Is(err, room.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	err := s.checkOccupant(r.Context(), claims, true)
	if errors.Is(err, room.ErrRoomNotFound) {
		writeJSON(w, http.StatusOK, nil, s.msg.Text("room.left", map[string]any{"Code": claims.Room}))
		return
	}
	if err != nil {
		s.writeError(w, claims.Room, err)
		return
	}
	// a ticket superseded by a newer join of the same name leaves nothing
	if _, err := s.lobby.LeaveSession(r.Context(), claims.Room, claims.SeatRef(), claims.ID); err != nil {
		s.writeError(w, claims.Room, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, s.msg.Text("room.left", map[string]any{"Code": claims.Room}))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.checkOccupant(r.Context(), claims, false); err != nil {
		s.writeError(w, claims.Room, err)
		return
	}
	res, err := s.engine.SetReady(r.Context(), claims.Room, claims.SeatRef())
	if err != nil {
		s.writeError(w, claims.Room, err)
		return
	}
	msg := s.msg.Text("match.waiting_opponent", nil)
	if res.Started || (res.Room != nil && res.Room.Status == room.StatusPlaying) {
		msg = s.msg.Text("match.started", nil)
	}
	writeJSON(w, http.StatusOK, matchdto.ReadyResponse{Started: res.Started, Message: msg, Room: toRoomView(res.Room)}, msg)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.checkOccupant(r.Context(), claims, false); err != nil {
		s.writeError(w, claims.Room, err)
		return
	}
	rm, err := s.engine.Reset(r.Context(), claims.Room)
	if err != nil {
		s.writeError(w, claims.Room, err)
		return
	}
	msg := s.msg.Text("match.reset", nil)
	writeJSON(w, http.StatusOK, toRoomView(rm), msg)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req matchdto.AnswerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.invalid(w, "answer.not_number", nil)
		return
	}
	raw := req.AnswerText()
	// non-numeric input never reaches the store
	if _, err := strconv.Atoi(strings.TrimSpace(raw)); err != nil {
		s.invalid(w, "answer.not_number", nil)
		return
	}
	if err := s.checkOccupant(r.Context(), claims, false); err != nil {
		s.writeError(w, claims.Room, err)
		return
	}
	res, err := s.engine.SubmitAnswer(r.Context(), claims.Room, claims.SeatRef(), raw)
	if err != nil {
		s.writeError(w, claims.Room, err)
		return
	}
	out := matchdto.AnswerResponse{Correct: res.Correct, Score: res.Score, Finished: res.Finished, Winner: res.Winner}
	switch {
	case res.Finished:
		out.Message = s.msg.Text("match.winner", map[string]any{"Winner": res.Winner})
	case res.Correct:
		out.Message = s.msg.Text("answer.correct", nil)
	default:
		out.Message = s.msg.Text("answer.wrong", nil)
	}
	writeJSON(w, http.StatusOK, out, out.Message)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.board == nil {
		writeDomainError(w, http.StatusServiceUnavailable, matchdto.DomainError{Code: matchdto.CodeUnavailable, Message: "leaderboard not configured"})
		return
	}
	entries, err := s.board.Leaderboard(r.Context())
	if err != nil {
		obslog.L().Warn("http_leaderboard_error", zap.Error(err))
		writeDomainError(w, http.StatusBadGateway, matchdto.DomainError{Code: matchdto.CodeUnavailable, Message: err.Error(), Retryable: true})
		return
	}
	out := make([]matchdto.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, matchdto.LeaderboardEntry{Username: e.Username, Wins: e.Wins})
	}
	writeJSON(w, http.StatusOK, out, "")
}
