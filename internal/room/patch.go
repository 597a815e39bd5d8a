package room

import (
	"strconv"
	"time"
)

// Patch collects the field writes decided inside a Mutate callback.
// Fields are applied and published in the order they were set.
type Patch struct {
	order      []string
	values     map[string]any
	deleteRoom bool
}

func NewPatch() *Patch { return &Patch{values: make(map[string]any)} }

// Set records a field write. Supported values: string, Status, int, int64, bool, time.Time.
func (p *Patch) Set(field string, v any) *Patch {
	if _, ok := p.values[field]; !ok {
		p.order = append(p.order, field)
	}
	p.values[field] = v
	return p
}

// Clear records a field removal.
func (p *Patch) Clear(field string) *Patch { return p.Set(field, nil) }

// ClearSeat removes every leaf of a seat.
func (p *Patch) ClearSeat(s Seat) *Patch {
	return p.Clear(NameField(s)).Clear(ScoreField(s)).Clear(ReadyField(s)).Clear(SessionField(s))
}

// DeleteRoom drops the whole record; other writes are ignored.
func (p *Patch) DeleteRoom() *Patch {
	p.deleteRoom = true
	return p
}

func (p *Patch) Empty() bool { return p == nil || (!p.deleteRoom && len(p.order) == 0) }

func (p *Patch) Deletes() bool { return p != nil && p.deleteRoom }

// Apply mirrors the patch onto an in-memory room so callers see post-commit state.
func (p *Patch) Apply(r *Room) {
	for _, f := range p.order {
		setField(r, f, encodeValue(p.values[f]))
	}
}

// updates renders the publishable deltas of this patch.
func (p *Patch) updates() []FieldUpdate {
	out := make([]FieldUpdate, 0, len(p.order))
	for _, f := range p.order {
		if !Public(f) {
			continue
		}
		out = append(out, FieldUpdate{Field: f, Value: publicValue(p.values[f])})
	}
	return out
}

func publicValue(v any) any {
	switch x := v.(type) {
	case Status:
		return string(x)
	case time.Time:
		return x.UnixMilli()
	default:
		return v
	}
}

// encodeValue renders a patch value in the stored (legacy) encoding; "" means removed.
func encodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case Status:
		return string(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return strconv.FormatInt(x.UnixMilli(), 10)
	default:
		return ""
	}
}

// decodeRoom builds a Room from a stored hash. An empty hash means the room does not exist.
func decodeRoom(code string, h map[string]string) *Room {
	if len(h) == 0 {
		return nil
	}
	r := &Room{Code: code}
	for k, v := range h {
		setField(r, k, v)
	}
	if r.Status == "" {
		r.Status = StatusWaiting
	}
	return r
}

func setField(r *Room, field, v string) {
	switch field {
	case FieldStatus:
		r.Status = Status(v)
	case FieldCreatedAt:
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.CreatedAt = time.UnixMilli(ms)
		}
	case FieldWinner:
		r.Winner = v
	case FieldCurrentQuestion:
		r.CurrentQuestion = v
	case FieldCurrentAnswer:
		r.CurrentAnswer = atoi(v)
	case FieldRev:
		r.Rev = int64(atoi(v))
	case NameField(SeatA):
		r.PlayerA.Name = v
	case ScoreField(SeatA):
		r.PlayerA.Score = atoi(v)
	case ReadyField(SeatA):
		r.PlayerA.Ready = parseReady(v)
	case SessionField(SeatA):
		r.PlayerA.Session = v
	case NameField(SeatB):
		r.PlayerB.Name = v
	case ScoreField(SeatB):
		r.PlayerB.Score = atoi(v)
	case ReadyField(SeatB):
		r.PlayerB.Ready = parseReady(v)
	case SessionField(SeatB):
		r.PlayerB.Session = v
	}
}

// parseReady accepts the legacy 0/1 encoding as well as true/false.
func parseReady(v string) bool { return v == "1" || v == "true" }

func atoi(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
