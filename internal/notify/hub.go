package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/park285/tarik-tambang-server/internal/obslog"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultBuffer = 64

// Hub fans committed room changes out to per-room subscribers.
// Changes travel over Redis pub/sub, so any process sharing the store sees them.
type Hub struct {
	store  *room.Store
	rdb    *redis.Client
	buffer int

	mu     sync.Mutex
	active map[string]int
}

func NewHub(store *room.Store) *Hub {
	return &Hub{store: store, rdb: store.Client(), buffer: defaultBuffer, active: make(map[string]int)}
}

// Subscription is one subscriber's stream. C yields a snapshot first, then
// deltas in commit order, and is closed when the room is deleted or on Close.
type Subscription struct {
	C <-chan room.Change

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops delivery and releases the pub/sub connection.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Subscribe attaches to code. The channel subscription is confirmed before the
// snapshot is read, so no commit can fall between the two.
func (h *Hub) Subscribe(ctx context.Context, code string) (*Subscription, error) {
	code = room.NormalizeCode(code)
	if code == "" {
		return nil, room.ErrInvalidInput
	}
	ps := h.rdb.Subscribe(ctx, room.ChangesChannel(code))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, persistenceErr(err)
	}
	snap, err := h.store.Load(ctx, code)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	if snap == nil {
		_ = ps.Close()
		return nil, room.ErrRoomNotFound
	}

	sctx, cancel := context.WithCancel(context.Background())
	out := make(chan room.Change, h.buffer)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}
	out <- snap.Snapshot()

	h.track(code, 1)
	go func() {
		defer close(sub.done)
		defer close(out)
		defer h.track(code, -1)
		defer ps.Close()
		h.forward(sctx, ps, code, snap.Rev, out)
	}()
	obslog.L().Debug("notify_subscribe", zap.String("code", code), zap.Int64("rev", snap.Rev))
	return sub, nil
}

// forward relays pub/sub payloads, dropping anything at or below the last
// delivered revision and resyncing with a snapshot when a gap is detected.
func (h *Hub) forward(ctx context.Context, ps *redis.PubSub, code string, last int64, out chan<- room.Change) {
	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ch room.Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				obslog.L().Warn("notify_decode_error", zap.String("code", code), zap.Error(err))
				continue
			}
			if ch.Rev <= last && !ch.Deleted {
				continue
			}
			if ch.Rev > last+1 && !ch.Deleted {
				snap, err := h.store.Load(ctx, code)
				if err != nil {
					obslog.L().Warn("notify_resync_error", zap.String("code", code), zap.Error(err))
				} else if snap == nil {
					ch = room.Change{Code: code, Rev: last + 1, Deleted: true}
				} else {
					obslog.L().Debug("notify_resync", zap.String("code", code), zap.Int64("from", last), zap.Int64("to", snap.Rev))
					ch = snap.Snapshot()
				}
			}
			if !send(ctx, out, ch) {
				return
			}
			last = ch.Rev
			if ch.Deleted {
				return
			}
		}
	}
}

func send(ctx context.Context, out chan<- room.Change, ch room.Change) bool {
	select {
	case out <- ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) track(code string, delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active[code] += delta
	if h.active[code] <= 0 {
		delete(h.active, code)
	}
}

// Subscribers returns the number of live subscriptions for code.
func (h *Hub) Subscribers(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active[room.NormalizeCode(code)]
}

// Total returns the number of live subscriptions across all rooms.
func (h *Hub) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, v := range h.active {
		n += v
	}
	return n
}

func persistenceErr(err error) error {
	return fmt.Errorf("%w: %w", room.ErrPersistence, err)
}
