package lobby

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    miniredis "github.com/alicebob/miniredis/v2"
    "github.com/redis/go-redis/v9"
    "github.com/park285/tarik-tambang-server/internal/room"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *room.Store, *miniredis.Miniredis) {
    t.Helper()
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    t.Cleanup(func() { mr.Close() })
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    store := room.NewStore(rdb)
    return NewManager(store, opts...), store, mr
}

func TestCreateInsertsWaitingRoom(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()

    code, err := m.Create(ctx, "ana")
    if err != nil { t.Fatalf("Create: %v", err) }
    if !room.ValidCode(code) { t.Fatalf("bad code %q", code) }
    r, err := store.Load(ctx, code)
    if err != nil || r == nil { t.Fatalf("Load: %v", err) }
    if r.Status != room.StatusWaiting || !r.Empty() { t.Fatalf("unexpected room: %+v", r) }

    if _, err := m.Create(ctx, "   "); !errors.Is(err, room.ErrInvalidInput) {
        t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
    }
}

func TestCreateCodesUnique(t *testing.T) {
    m, _, _ := newTestManager(t)
    ctx := context.Background()
    seen := map[string]bool{}
    for i := 0; i < 50; i++ {
        c, err := m.Create(ctx, "ana")
        if err != nil { t.Fatalf("Create: %v", err) }
        if seen[c] { t.Fatalf("duplicate code %q", c) }
        seen[c] = true
    }
}

func TestCreateRetriesOnCollisionThenExhausts(t *testing.T) {
    seq := []string{"AAAAA", "AAAAA", "BBBBB"}
    i := 0
    gen := func() (string, error) { c := seq[i%len(seq)]; i++; return c, nil }
    m, _, _ := newTestManager(t, WithCodeGenerator(gen), WithMaxAttempts(3))
    ctx := context.Background()

    c1, err := m.Create(ctx, "ana")
    if err != nil || c1 != "AAAAA" { t.Fatalf("Create#1: %q %v", c1, err) }
    c2, err := m.Create(ctx, "budi")
    if err != nil || c2 != "BBBBB" { t.Fatalf("Create#2 should skip taken code: %q %v", c2, err) }

    fixed, _, _ := newTestManager(t, WithCodeGenerator(func() (string, error) { return "CCCCC", nil }), WithMaxAttempts(4))
    if _, err := fixed.Create(ctx, "ana"); err != nil { t.Fatalf("Create: %v", err) }
    if _, err := fixed.Create(ctx, "ana"); !errors.Is(err, room.ErrGenerationExhausted) {
        t.Fatalf("expected ErrGenerationExhausted, got %v", err)
    }
}

func TestJoinAssignsSeatsInOrder(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Create(ctx, "ana")

    s1, err := m.Join(ctx, code, "ana")
    if err != nil || s1 != room.SeatA { t.Fatalf("Join#1: %v %v", s1, err) }
    s2, err := m.Join(ctx, code, "budi")
    if err != nil || s2 != room.SeatB { t.Fatalf("Join#2: %v %v", s2, err) }
    if _, err := m.Join(ctx, code, "cici"); !errors.Is(err, room.ErrRoomFull) {
        t.Fatalf("expected ErrRoomFull, got %v", err)
    }
    r, _ := store.Load(ctx, code)
    if r.PlayerA.Name != "ana" || r.PlayerB.Name != "budi" { t.Fatalf("names: %+v", r) }
}

func TestJoinLowercaseCodeAndMissingRoom(t *testing.T) {
    m, _, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Create(ctx, "ana")
    if _, err := m.Join(ctx, " "+lower(code)+" ", "ana"); err != nil { t.Fatalf("Join normalized: %v", err) }
    if _, err := m.Join(ctx, "ZZZZZ", "ana"); !errors.Is(err, room.ErrRoomNotFound) {
        t.Fatalf("expected ErrRoomNotFound, got %v", err)
    }
    if _, err := m.Join(ctx, "", "ana"); !errors.Is(err, room.ErrInvalidInput) {
        t.Fatalf("expected ErrInvalidInput, got %v", err)
    }
}

func TestJoinReclaimsSeatAndResetsIt(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Create(ctx, "ana")
    if _, err := m.Join(ctx, code, "ana"); err != nil { t.Fatalf("Join: %v", err) }
    if _, err := m.Join(ctx, code, "budi"); err != nil { t.Fatalf("Join: %v", err) }
    if _, err := store.Mutate(ctx, code, func(r *room.Room) (*room.Patch, error) {
        return room.NewPatch().Set(room.ScoreField(room.SeatB), 4).Set(room.ReadyField(room.SeatB), true), nil
    }); err != nil { t.Fatalf("Mutate: %v", err) }

    s, err := m.Join(ctx, code, "budi")
    if err != nil || s != room.SeatB { t.Fatalf("reclaim: %v %v", s, err) }
    r, _ := store.Load(ctx, code)
    if r.PlayerB.Score != 0 || r.PlayerB.Ready { t.Fatalf("seat not reset on rejoin: %+v", r.PlayerB) }
}

func TestJoinFinishedRoomReturnsToWaiting(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Create(ctx, "ana")
    _, _ = m.Join(ctx, code, "ana")
    if _, err := store.Mutate(ctx, code, func(r *room.Room) (*room.Patch, error) {
        return room.NewPatch().Set(room.FieldStatus, room.StatusFinished).Set(room.FieldWinner, "ana"), nil
    }); err != nil { t.Fatalf("Mutate: %v", err) }
    if _, err := m.Join(ctx, code, "budi"); err != nil { t.Fatalf("Join: %v", err) }
    r, _ := store.Load(ctx, code)
    if r.Status != room.StatusWaiting || r.Winner != "" { t.Fatalf("expected waiting without winner: %+v", r) }
}

func TestConcurrentJoinsNeverDoubleOccupy(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Create(ctx, "host")

    names := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
    var wg sync.WaitGroup
    var mu sync.Mutex
    seated := map[room.Seat]string{}
    full := 0
    for _, n := range names {
        wg.Add(1)
        go func(n string) {
            defer wg.Done()
            s, err := m.Join(ctx, code, n)
            mu.Lock()
            defer mu.Unlock()
            switch {
            case errors.Is(err, room.ErrRoomFull):
                full++
            case err != nil:
                t.Errorf("Join(%s): %v", n, err)
            default:
                if prev, ok := seated[s]; ok { t.Errorf("seat %s given to %s and %s", s, prev, n) }
                seated[s] = n
            }
        }(n)
    }
    wg.Wait()
    if len(seated) != 2 || full != len(names)-2 { t.Fatalf("seated=%v full=%d", seated, full) }
    r, _ := store.Load(ctx, code)
    if r.PlayerA.Name != seated[room.SeatA] || r.PlayerB.Name != seated[room.SeatB] {
        t.Fatalf("stored names %q/%q differ from results %v", r.PlayerA.Name, r.PlayerB.Name, seated)
    }
}

func TestLeaveLastPlayerDeletesRoom(t *testing.T) {
    m, _, mr := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Create(ctx, "ana")
    _, _ = m.Join(ctx, code, "ana")
    _, _ = m.Join(ctx, code, "budi")

    if err := m.Leave(ctx, code, room.SeatA); err != nil { t.Fatalf("Leave A: %v", err) }
    if !mr.Exists(room.Key(code)) { t.Fatalf("room deleted while B still seated") }
    if err := m.Leave(ctx, code, room.SeatB); err != nil { t.Fatalf("Leave B: %v", err) }
    if mr.Exists(room.Key(code)) { t.Fatalf("room should be deleted once empty") }

    // idempotent on a vanished room
    if err := m.Leave(ctx, code, room.SeatB); err != nil { t.Fatalf("second Leave: %v", err) }
}

func TestLeaveIsIdempotentAndResetsRemaining(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Create(ctx, "ana")
    _, _ = m.Join(ctx, code, "ana")
    _, _ = m.Join(ctx, code, "budi")
    if _, err := store.Mutate(ctx, code, func(r *room.Room) (*room.Patch, error) {
        return room.NewPatch().Set(room.ReadyField(room.SeatA), true).Set(room.ReadyField(room.SeatB), true).Set(room.FieldStatus, room.StatusPlaying), nil
    }); err != nil { t.Fatalf("Mutate: %v", err) }

    if err := m.Leave(ctx, code, room.SeatB); err != nil { t.Fatalf("Leave: %v", err) }
    before, _ := store.Load(ctx, code)
    if err := m.Leave(ctx, code, room.SeatB); err != nil { t.Fatalf("Leave twice: %v", err) }
    after, _ := store.Load(ctx, code)
    if before.Rev != after.Rev { t.Fatalf("second leave wrote: rev %d -> %d", before.Rev, after.Rev) }
    if after.Status != room.StatusWaiting || after.PlayerA.Ready || after.PlayerB.Occupied() {
        t.Fatalf("unexpected room after leave: %+v", after)
    }
}

func TestListOpenNewestFirst(t *testing.T) {
    clock := time.UnixMilli(1700000000000)
    m, _, _ := newTestManager(t, WithClock(func() time.Time { clock = clock.Add(time.Second); return clock }))
    ctx := context.Background()
    older, _ := m.Create(ctx, "ana")
    newer, _ := m.Create(ctx, "budi")
    full, _ := m.Create(ctx, "cici")
    _, _ = m.Join(ctx, full, "x")
    _, _ = m.Join(ctx, full, "y")

    rooms, err := m.ListOpen(ctx)
    if err != nil { t.Fatalf("ListOpen: %v", err) }
    if len(rooms) != 2 || rooms[0].Code != newer || rooms[1].Code != older {
        t.Fatalf("unexpected listing: %v", codesOf(rooms))
    }
}

func TestOccupant(t *testing.T) {
    m, _, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Create(ctx, "ana")
    _, _ = m.Join(ctx, code, "ana")
    n, err := m.Occupant(ctx, code, room.SeatA)
    if err != nil || n != "ana" { t.Fatalf("Occupant A: %q %v", n, err) }
    n, err = m.Occupant(ctx, code, room.SeatB)
    if err != nil || n != "" { t.Fatalf("Occupant B: %q %v", n, err) }
}

func lower(s string) string {
    b := []byte(s)
    for i, c := range b { if c >= 'A' && c <= 'Z' { b[i] = c + 32 } }
    return string(b)
}

func codesOf(rs []*room.Room) []string {
    out := make([]string, 0, len(rs))
    for _, r := range rs { out = append(out, r.Code) }
    return out
}

func TestHostSeatsCreatorInOneCommit(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, err := m.Host(ctx, " ana ", "s-ana")
    if err != nil { t.Fatalf("Host: %v", err) }
    r, err := store.Load(ctx, code)
    if err != nil || r == nil { t.Fatalf("Load: %v", err) }
    if r.PlayerA.Name != "ana" || r.PlayerA.Session != "s-ana" || r.PlayerB.Occupied() || r.Rev != 1 {
        t.Fatalf("unexpected hosted room: %+v", r)
    }
    if _, err := m.Host(ctx, "", "s"); !errors.Is(err, room.ErrInvalidInput) {
        t.Fatalf("expected ErrInvalidInput, got %v", err)
    }
    // a joiner can only take the other seat
    s, err := m.Join(ctx, code, "budi")
    if err != nil || s != room.SeatB { t.Fatalf("Join: %v %v", s, err) }
}

func finishMatch(t *testing.T, store *room.Store, code string) {
    t.Helper()
    if _, err := store.Mutate(context.Background(), code, func(r *room.Room) (*room.Patch, error) {
        return room.NewPatch().
            Set(room.ScoreField(room.SeatA), 2).Set(room.ReadyField(room.SeatA), true).
            Set(room.ScoreField(room.SeatB), 1).Set(room.ReadyField(room.SeatB), true).
            Set(room.FieldWinner, "ana").Set(room.FieldStatus, room.StatusFinished), nil
    }); err != nil { t.Fatalf("finish: %v", err) }
}

func TestLeaveFinishedRoomDropsCarriedScore(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Host(ctx, "ana", "s-ana")
    _, _ = m.Join(ctx, code, "budi")
    finishMatch(t, store, code)

    if err := m.Leave(ctx, code, room.SeatB); err != nil { t.Fatalf("Leave: %v", err) }
    if _, err := m.Join(ctx, code, "cici"); err != nil { t.Fatalf("Join cici: %v", err) }
    r, _ := store.Load(ctx, code)
    if r.Status != room.StatusWaiting || r.Winner != "" { t.Fatalf("expected fresh waiting room: %+v", r) }
    if r.PlayerA.Score != 0 || r.PlayerB.Score != 0 {
        t.Fatalf("scores carried into the next match: A=%d B=%d", r.PlayerA.Score, r.PlayerB.Score)
    }
}

func TestJoinFinishedRoomZeroesOpponentScore(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Host(ctx, "ana", "s-ana")
    _, _ = m.Join(ctx, code, "budi")
    finishMatch(t, store, code)

    // budi reclaims seat B of the finished room
    if _, err := m.Join(ctx, code, "budi"); err != nil { t.Fatalf("Join: %v", err) }
    r, _ := store.Load(ctx, code)
    if r.Status != room.StatusWaiting || r.PlayerA.Score != 0 || r.PlayerA.Ready || r.PlayerB.Score != 0 {
        t.Fatalf("unexpected room after reclaim: %+v", r)
    }
}

func TestLeaveSessionKeepsReclaimedSeat(t *testing.T) {
    m, store, _ := newTestManager(t)
    ctx := context.Background()
    code, _ := m.Host(ctx, "ana", "s-ana")
    if _, err := m.JoinSession(ctx, code, "budi", "old"); err != nil { t.Fatalf("Join: %v", err) }
    if _, err := m.JoinSession(ctx, code, "budi", "new"); err != nil { t.Fatalf("rejoin: %v", err) }

    left, err := m.LeaveSession(ctx, code, room.SeatB, "old")
    if err != nil || left { t.Fatalf("stale session freed the seat: left=%v err=%v", left, err) }
    r, _ := store.Load(ctx, code)
    if r.PlayerB.Name != "budi" || r.PlayerB.Session != "new" { t.Fatalf("seat B lost: %+v", r.PlayerB) }

    left, err = m.LeaveSession(ctx, code, room.SeatB, "new")
    if err != nil || !left { t.Fatalf("current session should leave: left=%v err=%v", left, err) }
    r, _ = store.Load(ctx, code)
    if r.PlayerB.Occupied() { t.Fatalf("seat B still held: %+v", r.PlayerB) }

    if _, err := m.LeaveSession(ctx, code, room.SeatA, ""); !errors.Is(err, room.ErrInvalidInput) {
        t.Fatalf("expected ErrInvalidInput for empty session, got %v", err)
    }
}
