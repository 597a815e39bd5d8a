package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/park285/tarik-tambang-server/internal/obslog"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/park285/tarik-tambang-server/internal/ticket"
	"github.com/park285/tarik-tambang-server/pkg/matchdto"
	"go.uber.org/zap"
)

// errSeatTaken means the ticket's seat is now held by another name.
var errSeatTaken = errors.New("seat held by another player")

func writeJSON(w http.ResponseWriter, status int, data any, msg string) {
	writeEnvelope(w, status, &matchdto.Envelope{Data: data, Message: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env *matchdto.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		obslog.L().Debug("http_write_error", zap.Error(err))
	}
}

func writeDomainError(w http.ResponseWriter, status int, de matchdto.DomainError) {
	writeEnvelope(w, status, &matchdto.Envelope{Error: true, Message: de.Message, Detail: &de})
}

// writeError maps err to a status and a catalog message.
func (s *Server) writeError(w http.ResponseWriter, code string, err error) {
	status, de := s.classify(code, err)
	if status >= http.StatusInternalServerError {
		obslog.L().Warn("http_error", zap.String("code", code), zap.Int("status", status), zap.Error(err))
	}
	writeDomainError(w, status, de)
}

func (s *Server) classify(code string, err error) (int, matchdto.DomainError) {
	data := map[string]any{"Code": code}
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return http.StatusNotFound, s.domainErr(matchdto.CodeRoomNotFound, "room.not_found", data, false)
	case errors.Is(err, room.ErrRoomFull):
		return http.StatusConflict, s.domainErr(matchdto.CodeRoomFull, "room.full", nil, false)
	case errors.Is(err, room.ErrGenerationExhausted):
		return http.StatusServiceUnavailable, s.domainErr(matchdto.CodeGenerationExhausted, "room.exhausted", nil, true)
	case errors.Is(err, room.ErrNotSeated):
		return http.StatusConflict, s.domainErr(matchdto.CodeNotSeated, "room.not_seated", nil, false)
	case errors.Is(err, room.ErrNotPlaying):
		return http.StatusConflict, s.domainErr(matchdto.CodeNotPlaying, "answer.not_playing", nil, false)
	case errors.Is(err, room.ErrPersistence):
		return http.StatusServiceUnavailable, s.domainErr(matchdto.CodePersistence, "error.persistence", nil, true)
	case errors.Is(err, errSeatTaken):
		return http.StatusForbidden, s.domainErr(matchdto.CodeSeatTaken, "room.seat_taken", nil, false)
	case errors.Is(err, ticket.ErrInvalidTicket), errors.Is(err, ticket.ErrExpiredTicket), errors.Is(err, ticket.ErrInvalidSignature):
		return http.StatusUnauthorized, s.domainErr(matchdto.CodeUnauthorized, "auth.unauthorized", nil, false)
	case errors.Is(err, room.ErrInvalidInput):
		return http.StatusBadRequest, matchdto.DomainError{Code: matchdto.CodeInvalidInput, Message: err.Error()}
	default:
		return http.StatusInternalServerError, s.domainErr(matchdto.CodeInternal, "error.internal", nil, true)
	}
}

func (s *Server) domainErr(code, key string, data any, retryable bool) matchdto.DomainError {
	return matchdto.DomainError{Code: code, Message: s.msg.Text(key, data), Retryable: retryable}
}

// invalid reports a 400 with a catalog message.
func (s *Server) invalid(w http.ResponseWriter, key string, data any) {
	writeDomainError(w, http.StatusBadRequest, s.domainErr(matchdto.CodeInvalidInput, key, data, false))
}
