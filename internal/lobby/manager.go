package lobby

import (
    "context"
    "errors"
    "sort"
    "strings"
    "time"

    "github.com/park285/tarik-tambang-server/internal/obslog"
    "github.com/park285/tarik-tambang-server/internal/room"
    "go.uber.org/zap"
)

// DefaultCodeAttempts bounds code allocation retries on collision.
const DefaultCodeAttempts = 8

// Manager owns room creation, seat assignment and cleanup.
type Manager struct {
    store       *room.Store
    codes       func() (string, error)
    maxAttempts int
    now         func() time.Time
}

type Option func(*Manager)

// WithCodeGenerator replaces the random code source (tests force collisions with it).
func WithCodeGenerator(gen func() (string, error)) Option {
    return func(m *Manager) { if gen != nil { m.codes = gen } }
}

func WithMaxAttempts(n int) Option {
    return func(m *Manager) { if n > 0 { m.maxAttempts = n } }
}

func WithClock(now func() time.Time) Option {
    return func(m *Manager) { if now != nil { m.now = now } }
}

func NewManager(store *room.Store, opts ...Option) *Manager {
    m := &Manager{store: store, codes: room.GenerateCode, maxAttempts: DefaultCodeAttempts, now: time.Now}
    for _, o := range opts { o(m) }
    return m
}

// Create allocates a fresh code and inserts an empty waiting room.
func (m *Manager) Create(ctx context.Context, requestedBy string) (string, error) {
    if strings.TrimSpace(requestedBy) == "" { return "", room.ErrInvalidInput }
    return m.create(ctx, strings.TrimSpace(requestedBy), nil)
}

// Host creates a room with name already holding seat A, in one commit, so the
// room is never listed open with the creator's seat up for grabs.
func (m *Manager) Host(ctx context.Context, name, session string) (string, error) {
    name = strings.TrimSpace(name)
    if name == "" { return "", room.ErrInvalidInput }
    code, err := m.create(ctx, name, seatPatch(room.NewPatch(), room.SeatA, name, session))
    if err != nil { return "", err }
    obslog.L().Info("room_join", zap.String("code", code), zap.String("name", name), zap.String("seat", string(room.SeatA)))
    return code, nil
}

func (m *Manager) create(ctx context.Context, requestedBy string, seed *room.Patch) (string, error) {
    for i := 0; i < m.maxAttempts; i++ {
        c, err := m.codes()
        if err != nil { return "", err }
        c = room.NormalizeCode(c)
        ok, err := m.store.CreateWith(ctx, c, m.now(), seed)
        if err != nil { return "", err }
        if ok {
            obslog.L().Info("room_create", zap.String("code", c), zap.String("requested_by", requestedBy), zap.Int("attempt", i+1))
            return c, nil
        }
        obslog.L().Debug("room_code_collision", zap.String("code", c))
    }
    obslog.L().Warn("room_create_exhausted", zap.Int("attempts", m.maxAttempts))
    return "", room.ErrGenerationExhausted
}

// Join seats name in the room. Seat A is preferred, and a player whose name
// already holds a seat reclaims it. Selection and write commit in one transaction.
func (m *Manager) Join(ctx context.Context, code, name string) (room.Seat, error) {
    return m.JoinSession(ctx, code, name, "")
}

// JoinSession is Join that also binds the seat to session (a ticket id), so a
// later disconnect of an older session cannot evict the reclaimed seat.
func (m *Manager) JoinSession(ctx context.Context, code, name, session string) (room.Seat, error) {
    code = room.NormalizeCode(code)
    name = strings.TrimSpace(name)
    if code == "" || name == "" { return "", room.ErrInvalidInput }

    var seat room.Seat
    _, err := m.store.Mutate(ctx, code, func(r *room.Room) (*room.Patch, error) {
        seat = ""
        switch {
        case claimable(r.PlayerA, name):
            seat = room.SeatA
        case claimable(r.PlayerB, name):
            seat = room.SeatB
        default:
            return nil, room.ErrRoomFull
        }
        p := seatPatch(room.NewPatch(), seat, name, session)
        if r.Status != room.StatusPlaying {
            p.Set(room.FieldStatus, room.StatusWaiting)
            if r.Winner != "" { p.Set(room.FieldWinner, "") }
        }
        // scores of a finished match do not carry into the next one
        if r.Status == room.StatusFinished && r.Seat(seat.Other()).Occupied() {
            p.Set(room.ScoreField(seat.Other()), 0).Set(room.ReadyField(seat.Other()), false)
        }
        return p, nil
    })
    if err != nil {
        obslog.L().Warn("room_join_error", zap.String("code", code), zap.String("name", name), zap.Error(err))
        return "", err
    }
    obslog.L().Info("room_join", zap.String("code", code), zap.String("name", name), zap.String("seat", string(seat)))
    return seat, nil
}

func seatPatch(p *room.Patch, seat room.Seat, name, session string) *room.Patch {
    p.Set(room.NameField(seat), name).
        Set(room.ScoreField(seat), 0).
        Set(room.ReadyField(seat), false)
    if session != "" {
        return p.Set(room.SessionField(seat), session)
    }
    return p.Clear(room.SessionField(seat))
}

func claimable(s room.SeatState, name string) bool {
    return !s.Occupied() || s.Name == name
}

// Leave frees seat. The room is deleted once both seats are empty.
// Leaving a free seat or a vanished room is a no-op.
func (m *Manager) Leave(ctx context.Context, code string, seat room.Seat) error {
    _, err := m.leave(ctx, code, seat, "")
    return err
}

// LeaveSession frees seat only while it is still bound to session. It reports
// whether the seat was freed; a seat reclaimed by a newer session is kept.
func (m *Manager) LeaveSession(ctx context.Context, code string, seat room.Seat, session string) (bool, error) {
    if session == "" { return false, room.ErrInvalidInput }
    return m.leave(ctx, code, seat, session)
}

func (m *Manager) leave(ctx context.Context, code string, seat room.Seat, session string) (bool, error) {
    code = room.NormalizeCode(code)
    if code == "" || !seat.Valid() { return false, room.ErrInvalidInput }

    left, deleted := false, false
    _, err := m.store.Mutate(ctx, code, func(r *room.Room) (*room.Patch, error) {
        left, deleted = false, false
        me := r.Seat(seat)
        if !me.Occupied() { return nil, nil }
        if session != "" && me.Session != session { return nil, nil }
        left = true
        other := r.Seat(seat.Other())
        if !other.Occupied() {
            deleted = true
            return room.NewPatch().DeleteRoom(), nil
        }
        p := room.NewPatch().ClearSeat(seat)
        if r.Status != room.StatusWaiting {
            p.Set(room.FieldStatus, room.StatusWaiting)
            // the interrupted or finished match is over for the one who stays
            if other.Score != 0 { p.Set(room.ScoreField(seat.Other()), 0) }
        }
        if r.Winner != "" { p.Set(room.FieldWinner, "") }
        if other.Ready { p.Set(room.ReadyField(seat.Other()), false) }
        return p, nil
    })
    if errors.Is(err, room.ErrRoomNotFound) { return false, nil }
    if err != nil {
        obslog.L().Warn("room_leave_error", zap.String("code", code), zap.String("seat", string(seat)), zap.Error(err))
        return false, err
    }
    if left {
        obslog.L().Info("room_leave", zap.String("code", code), zap.String("seat", string(seat)), zap.Bool("deleted", deleted))
    }
    return left, nil
}

// Get returns the room or ErrRoomNotFound.
func (m *Manager) Get(ctx context.Context, code string) (*room.Room, error) {
    code = room.NormalizeCode(code)
    if code == "" { return nil, room.ErrInvalidInput }
    r, err := m.store.Load(ctx, code)
    if err != nil { return nil, err }
    if r == nil { return nil, room.ErrRoomNotFound }
    return r, nil
}

// Occupant returns the name currently holding seat, "" when free.
func (m *Manager) Occupant(ctx context.Context, code string, seat room.Seat) (string, error) {
    r, err := m.Get(ctx, code)
    if err != nil { return "", err }
    st := r.Seat(seat)
    if st == nil { return "", room.ErrInvalidInput }
    return st.Name, nil
}

// ListOpen returns waiting rooms with a free seat, newest first.
func (m *Manager) ListOpen(ctx context.Context) ([]*room.Room, error) {
    codes, err := m.store.Codes(ctx)
    if err != nil { return nil, err }
    out := make([]*room.Room, 0, len(codes))
    for _, c := range codes {
        r, err := m.store.Load(ctx, c)
        if err != nil { return nil, err }
        if r == nil || r.Status != room.StatusWaiting || !r.HasFreeSeat() { continue }
        out = append(out, r)
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i].CreatedAt.Equal(out[j].CreatedAt) { return out[i].Code < out[j].Code }
        return out[i].CreatedAt.After(out[j].CreatedAt)
    })
    return out, nil
}
