package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/park285/tarik-tambang-server/internal/ticket"
)

type ctxKey int

const claimsKey ctxKey = iota

func claimsFrom(ctx context.Context) *ticket.Claims {
	c, _ := ctx.Value(claimsKey).(*ticket.Claims)
	return c
}

// bearer extracts a ticket from the Authorization header or the ticket query parameter.
func bearer(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("ticket"))
}

// requireTicket validates the seat ticket and binds it to the room in the path.
func (s *Server) requireTicket(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := room.NormalizeCode(chi.URLParam(r, "code"))
		claims, err := s.authorize(code, bearer(r))
		if err != nil {
			s.writeError(w, code, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (s *Server) authorize(code, token string) (*ticket.Claims, error) {
	if token == "" {
		return nil, ticket.ErrInvalidTicket
	}
	claims, err := s.tickets.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.Room != code {
		return nil, errSeatTaken
	}
	return claims, nil
}

// checkOccupant confirms the ticket holder still owns the seat. A free seat is
// tolerated only when allowFree is set (leave is idempotent).
func (s *Server) checkOccupant(ctx context.Context, claims *ticket.Claims, allowFree bool) error {
	name, err := s.lobby.Occupant(ctx, claims.Room, claims.SeatRef())
	if err != nil {
		return err
	}
	switch {
	case name == claims.Name:
		return nil
	case name == "" && allowFree:
		return nil
	case name == "":
		return room.ErrNotSeated
	default:
		return errSeatTaken
	}
}
