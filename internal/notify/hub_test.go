package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/redis/go-redis/v9"
)

func newTestHub(t *testing.T) (*Hub, *room.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := room.NewStore(rdb)
	return NewHub(store), store
}

func next(t *testing.T, sub *Subscription) (room.Change, bool) {
	t.Helper()
	select {
	case ch, ok := <-sub.C:
		return ch, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return room.Change{}, false
}

func updateValue(ch room.Change, field string) (any, bool) {
	for _, u := range ch.Updates {
		if u.Field == field {
			return u.Value, true
		}
	}
	return nil, false
}

func TestSubscribeSnapshotThenDeltas(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "ABCDE", time.Now()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sub, err := hub.Subscribe(ctx, "abcde")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	if hub.Subscribers("ABCDE") != 1 {
		t.Fatalf("subscriber not tracked")
	}

	snap, _ := next(t, sub)
	if snap.Rev != 1 {
		t.Fatalf("snapshot rev=%d", snap.Rev)
	}
	if v, ok := updateValue(snap, room.FieldStatus); !ok || v != "waiting" {
		t.Fatalf("snapshot status=%v", v)
	}
	if _, ok := updateValue(snap, room.FieldCurrentAnswer); ok {
		t.Fatalf("snapshot leaks currentAnswer")
	}

	if _, err := store.Mutate(ctx, "ABCDE", func(r *room.Room) (*room.Patch, error) {
		return room.NewPatch().
			Set(room.NameField(room.SeatA), "ana").
			Set(room.FieldCurrentQuestion, "1 + 1 = ?").
			Set(room.FieldCurrentAnswer, 2), nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	ch, _ := next(t, sub)
	if ch.Rev != 2 {
		t.Fatalf("delta rev=%d", ch.Rev)
	}
	if v, _ := updateValue(ch, room.NameField(room.SeatA)); v != "ana" {
		t.Fatalf("name update=%v", v)
	}
	if _, ok := updateValue(ch, room.FieldCurrentAnswer); ok {
		t.Fatalf("delta leaks currentAnswer")
	}
}

func TestScoreUpdatesArriveInCommitOrder(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "ABCDE", time.Now()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Mutate(ctx, "ABCDE", func(r *room.Room) (*room.Patch, error) {
		return room.NewPatch().
			Set(room.NameField(room.SeatA), "ana").Set(room.ScoreField(room.SeatA), 0).
			Set(room.NameField(room.SeatB), "budi").Set(room.ScoreField(room.SeatB), 0).
			Set(room.FieldStatus, room.StatusPlaying), nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	sub, err := hub.Subscribe(ctx, "ABCDE")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	next(t, sub)

	for i := 0; i < 5; i++ {
		if _, err := store.IncrementScore(ctx, "ABCDE", room.SeatA); err != nil {
			t.Fatalf("IncrementScore: %v", err)
		}
	}
	want := 1
	for want <= 5 {
		ch, _ := next(t, sub)
		v, ok := updateValue(ch, room.ScoreField(room.SeatA))
		if !ok {
			continue
		}
		if f, _ := v.(float64); int(f) != want {
			t.Fatalf("score update %v, want %d", v, want)
		}
		want++
	}
}

func TestDeletionEndsStream(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "ABCDE", time.Now()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sub, err := hub.Subscribe(ctx, "ABCDE")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	next(t, sub)
	if _, err := store.Mutate(ctx, "ABCDE", func(r *room.Room) (*room.Patch, error) {
		return room.NewPatch().DeleteRoom(), nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	ch, ok := next(t, sub)
	if !ok || !ch.Deleted {
		t.Fatalf("expected deleted change, got %+v ok=%v", ch, ok)
	}
	if _, ok := next(t, sub); ok {
		t.Fatalf("stream should be closed after deletion")
	}
	sub.Close()
	if hub.Total() != 0 {
		t.Fatalf("subscription still tracked")
	}
}

func TestSubscribeMissingRoom(t *testing.T) {
	hub, _ := newTestHub(t)
	if _, err := hub.Subscribe(context.Background(), "NOPE1"); !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if _, err := hub.Subscribe(context.Background(), " "); !errors.Is(err, room.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	hub, store := newTestHub(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "ABCDE", time.Now()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sub, err := hub.Subscribe(ctx, "ABCDE")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Close()
	sub.Close()
	// Close returns after the forwarder exits, so C is already closed behind the buffered snapshot
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				if n := hub.Subscribers("ABCDE"); n != 0 {
					t.Fatalf("Subscribers = %d, want 0", n)
				}
				return
			}
		case <-timeout:
			t.Fatalf("C not closed after Close")
		}
	}
}
