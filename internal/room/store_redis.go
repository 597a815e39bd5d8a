package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "rooms:"
	// WATCH conflicts retried before giving up with ErrPersistence
	maxTxAttempts = 32
)

// Key returns the hash key of a room (rooms/<code> in the legacy layout).
func Key(code string) string { return keyPrefix + strings.TrimSpace(code) }

// ChangesChannel is the pub/sub channel carrying committed changes of a room.
func ChangesChannel(code string) string { return Key(code) + ":changes" }

// incrementScript bumps one seat score, bumps rev and publishes the delta in one atomic step.
// Returns the new score, or -1 not playing, -2 room missing, -3 seat empty.
var incrementScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then return -2 end
if redis.call('HGET', key, 'status') ~= 'playing' then return -1 end
local name = redis.call('HGET', key, ARGV[1] .. '/name')
if not name or name == '' then return -3 end
local score = redis.call('HINCRBY', key, ARGV[1] .. '/score', 1)
local rev = redis.call('HINCRBY', key, 'rev', 1)
redis.call('PUBLISH', KEYS[2], '{"code":"' .. ARGV[2] .. '","rev":' .. rev .. ',"updates":[{"field":"' .. ARGV[1] .. '/score","value":' .. score .. '}]}')
return score
`)

// Store persists rooms as Redis hashes and publishes every committed change.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Client exposes the underlying connection for pub/sub consumers.
func (s *Store) Client() *redis.Client { return s.rdb }

// Ping checks connectivity of the backing store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return persistence(err)
	}
	return nil
}

// Create inserts a waiting room unless the code is already taken.
func (s *Store) Create(ctx context.Context, code string, createdAt time.Time) (bool, error) {
	return s.CreateWith(ctx, code, createdAt, nil)
}

// CreateWith is Create with extra fields (e.g. a first seat) committed in the same transaction.
func (s *Store) CreateWith(ctx context.Context, code string, createdAt time.Time, seed *Patch) (bool, error) {
	if seed.Deletes() {
		return false, ErrInvalidInput
	}
	key := Key(code)
	created := false
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			created = false
			return nil
		}
		p := NewPatch().
			Set(FieldStatus, StatusWaiting).
			Set(FieldCreatedAt, createdAt)
		if seed != nil {
			for _, f := range seed.order {
				p.Set(f, seed.values[f])
			}
		}
		if err := s.commit(ctx, tx, code, 0, p); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Load returns the room or nil when it does not exist.
func (s *Store) Load(ctx context.Context, code string) (*Room, error) {
	h, err := s.rdb.HGetAll(ctx, Key(code)).Result()
	if err != nil {
		return nil, persistence(err)
	}
	return decodeRoom(code, h), nil
}

// Mutate runs fn against fresh state inside an optimistic transaction and commits
// the returned patch atomically together with its change notification. fn may run
// several times when concurrent writers touch the room; a nil patch commits nothing.
// The returned room reflects the committed state.
func (s *Store) Mutate(ctx context.Context, code string, fn func(r *Room) (*Patch, error)) (*Room, error) {
	key := Key(code)
	var out *Room
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		cur := decodeRoom(code, h)
		if cur == nil {
			return ErrRoomNotFound
		}
		p, err := fn(cur)
		if err != nil {
			return err
		}
		if p.Empty() {
			out = cur
			return nil
		}
		if err := s.commit(ctx, tx, code, cur.Rev, p); err != nil {
			return err
		}
		if p.Deletes() {
			out = nil
			return nil
		}
		p.Apply(cur)
		cur.Rev++
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementScore atomically adds one point to seat while the room is playing.
func (s *Store) IncrementScore(ctx context.Context, code string, seat Seat) (int, error) {
	if !seat.Valid() {
		return 0, ErrInvalidInput
	}
	n, err := incrementScript.Run(ctx, s.rdb, []string{Key(code), ChangesChannel(code)}, string(seat), code).Int64()
	if err != nil {
		return 0, persistence(err)
	}
	switch n {
	case -1:
		return 0, ErrNotPlaying
	case -2:
		return 0, ErrRoomNotFound
	case -3:
		return 0, ErrNotSeated
	}
	return int(n), nil
}

// Codes lists the codes of every stored room.
func (s *Store) Codes(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+strings.Repeat("?", CodeLength), 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, persistence(err)
	}
	return out, nil
}

// commit queues the patch, the rev bump and the PUBLISH in one MULTI/EXEC.
func (s *Store) commit(ctx context.Context, tx *redis.Tx, code string, baseRev int64, p *Patch) error {
	key := Key(code)
	change := Change{Code: code, Rev: baseRev + 1}
	if p.Deletes() {
		change.Deleted = true
	} else {
		change.Updates = p.updates()
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if p.Deletes() {
			pipe.Del(ctx, key)
		} else {
			var sets []any
			var dels []string
			for _, f := range p.order {
				v := p.values[f]
				if v == nil {
					dels = append(dels, f)
					continue
				}
				sets = append(sets, f, encodeValue(v))
			}
			sets = append(sets, FieldRev, strconv.FormatInt(change.Rev, 10))
			pipe.HSet(ctx, key, sets...)
			if len(dels) > 0 {
				pipe.HDel(ctx, key, dels...)
			}
		}
		pipe.Publish(ctx, ChangesChannel(code), payload)
		return nil
	})
	return err
}

// watch retries fn under WATCH until it commits without conflict.
func (s *Store) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, fn, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return persistence(err)
		}
		if err := sleepCtx(ctx, time.Duration(attempt+1)*500*time.Microsecond); err != nil {
			return persistence(err)
		}
	}
	return fmt.Errorf("%w: too many concurrent writers on %s", ErrPersistence, key)
}

// persistence wraps backing store failures; domain errors pass through untouched.
func persistence(err error) error {
	if err == nil {
		return nil
	}
	var se staticErr
	if errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
