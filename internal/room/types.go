package room

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a room.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Seat identifies one of the two player slots.
type Seat string

const (
	SeatA Seat = "playerA"
	SeatB Seat = "playerB"
)

// Placeholder is written to currentQuestion whenever a match is reset.
const Placeholder = "Menunggu..."

// Other returns the opposite seat.
func (s Seat) Other() Seat {
	if s == SeatA {
		return SeatB
	}
	return SeatA
}

// Label is the display fallback used when the occupant name is blank.
func (s Seat) Label() string {
	if s == SeatA {
		return "Player A"
	}
	return "Player B"
}

func (s Seat) Valid() bool { return s == SeatA || s == SeatB }

// SeatState is one embedded seat of a room.
type SeatState struct {
	Name  string
	Score int
	Ready bool
	// Session is the ticket id that last claimed the seat; never published
	Session string
}

// Occupied reports whether someone holds the seat.
func (s SeatState) Occupied() bool { return strings.TrimSpace(s.Name) != "" }

// Room is the aggregate root of a match, stored as a Redis hash under rooms:<code>.
type Room struct {
	Code            string
	Status          Status
	CreatedAt       time.Time
	PlayerA         SeatState
	PlayerB         SeatState
	CurrentQuestion string
	CurrentAnswer   int
	Winner          string
	Rev             int64
}

// Seat returns a pointer to the requested seat; unknown seats yield nil.
func (r *Room) Seat(s Seat) *SeatState {
	switch s {
	case SeatA:
		return &r.PlayerA
	case SeatB:
		return &r.PlayerB
	default:
		return nil
	}
}

// Empty reports whether no seat is occupied.
func (r *Room) Empty() bool { return !r.PlayerA.Occupied() && !r.PlayerB.Occupied() }

// HasFreeSeat reports whether a new player could join.
func (r *Room) HasFreeSeat() bool { return !r.PlayerA.Occupied() || !r.PlayerB.Occupied() }

// DisplayName returns the occupant name of seat, or its label when blank.
func (r *Room) DisplayName(s Seat) string {
	st := r.Seat(s)
	if st == nil || strings.TrimSpace(st.Name) == "" {
		return s.Label()
	}
	return st.Name
}

// FieldUpdate is a single field-level delta. Value is nil when the field was removed.
type FieldUpdate struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Change is one committed mutation of a room as delivered to subscribers.
type Change struct {
	Code    string        `json:"code"`
	Rev     int64         `json:"rev"`
	Updates []FieldUpdate `json:"updates,omitempty"`
	Deleted bool          `json:"deleted,omitempty"`
}

// Stored field names. Seat fields are "<seat>/<leaf>".
const (
	FieldStatus          = "status"
	FieldCreatedAt       = "createdAt"
	FieldWinner          = "winner"
	FieldCurrentQuestion = "currentQuestion"
	FieldCurrentAnswer   = "currentAnswer"
	FieldRev             = "rev"

	leafName    = "name"
	leafScore   = "score"
	leafReady   = "ready"
	leafSession = "session"
)

// SeatField builds the stored field name of a seat leaf, e.g. playerA/score.
func SeatField(s Seat, leaf string) string { return string(s) + "/" + leaf }

func NameField(s Seat) string  { return SeatField(s, leafName) }
func ScoreField(s Seat) string { return SeatField(s, leafScore) }
func ReadyField(s Seat) string { return SeatField(s, leafReady) }

func SessionField(s Seat) string { return SeatField(s, leafSession) }

// hiddenFields are never published to subscribers.
var hiddenFields = map[string]struct{}{
	FieldCurrentAnswer:  {},
	FieldRev:            {},
	SessionField(SeatA): {},
	SessionField(SeatB): {},
}

// Public reports whether a field may be shown to clients.
func Public(field string) bool {
	_, hidden := hiddenFields[field]
	return !hidden
}

// Snapshot renders every public field of the room as a Change, used to prime new subscribers.
func (r *Room) Snapshot() Change {
	ch := Change{Code: r.Code, Rev: r.Rev}
	ch.Updates = append(ch.Updates,
		FieldUpdate{Field: FieldStatus, Value: string(r.Status)},
		FieldUpdate{Field: FieldCreatedAt, Value: r.CreatedAt.UnixMilli()},
		FieldUpdate{Field: FieldWinner, Value: r.Winner},
		FieldUpdate{Field: FieldCurrentQuestion, Value: r.CurrentQuestion},
	)
	for _, s := range []Seat{SeatA, SeatB} {
		st := r.Seat(s)
		if !st.Occupied() {
			ch.Updates = append(ch.Updates,
				FieldUpdate{Field: NameField(s)},
				FieldUpdate{Field: ScoreField(s)},
				FieldUpdate{Field: ReadyField(s)},
			)
			continue
		}
		ch.Updates = append(ch.Updates,
			FieldUpdate{Field: NameField(s), Value: st.Name},
			FieldUpdate{Field: ScoreField(s), Value: st.Score},
			FieldUpdate{Field: ReadyField(s), Value: st.Ready},
		)
	}
	return ch
}
