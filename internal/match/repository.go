package match

import (
    "context"
    "database/sql"
    "fmt"
    "strings"
    "time"

    _ "github.com/lib/pq"
    "github.com/park285/tarik-tambang-server/internal/room"
)

// Schema creates the archive table when missing.
const Schema = `CREATE TABLE IF NOT EXISTS match_results (
    match_id     TEXT PRIMARY KEY,
    room_code    TEXT NOT NULL,
    winner       TEXT NOT NULL,
    winner_seat  TEXT NOT NULL,
    player_a     TEXT NOT NULL,
    player_b     TEXT NOT NULL,
    score_a      INTEGER NOT NULL,
    score_b      INTEGER NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL
)`

// Repository archives finished matches in Postgres.
type Repository struct {
    db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(8)
    db.SetMaxIdleConns(4)
    db.SetConnMaxLifetime(30 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    if _, err := db.ExecContext(ctx, Schema); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Repository{db: db}, nil
}

// NewRepositoryFromDB wraps an existing handle.
func NewRepositoryFromDB(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

// SaveResult upserts a finished match.
func (r *Repository) SaveResult(ctx context.Context, res *Result) error {
    if r == nil || r.db == nil || res == nil {
        return nil
    }
    duration := res.FinishedAt.Sub(res.StartedAt).Milliseconds()
    if duration < 0 { duration = 0 }

    q := `INSERT INTO match_results (
        match_id, room_code, winner, winner_seat,
        player_a, player_b, score_a, score_b,
        started_at, finished_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
      ) ON CONFLICT (match_id) DO UPDATE SET
        winner=EXCLUDED.winner,
        winner_seat=EXCLUDED.winner_seat,
        score_a=EXCLUDED.score_a,
        score_b=EXCLUDED.score_b,
        finished_at=EXCLUDED.finished_at,
        duration_ms=EXCLUDED.duration_ms`

    _, err := r.db.ExecContext(ctx, q,
        res.ID, res.Code, res.Winner, string(res.WinnerSeat),
        res.PlayerA, res.PlayerB, res.ScoreA, res.ScoreB,
        res.StartedAt, res.FinishedAt, duration,
    )
    return err
}

// RecentResults returns the latest archived matches, newest first.
func (r *Repository) RecentResults(ctx context.Context, limit int) ([]Result, error) {
    if r == nil || r.db == nil { return nil, nil }
    if limit <= 0 || limit > 100 { limit = 20 }
    rows, err := r.db.QueryContext(ctx, `SELECT match_id, room_code, winner, winner_seat, player_a, player_b,
        score_a, score_b, started_at, finished_at FROM match_results ORDER BY finished_at DESC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []Result
    for rows.Next() {
        var res Result
        var seat string
        if err := rows.Scan(&res.ID, &res.Code, &res.Winner, &seat, &res.PlayerA, &res.PlayerB,
            &res.ScoreA, &res.ScoreB, &res.StartedAt, &res.FinishedAt); err != nil {
            return nil, err
        }
        res.WinnerSeat = room.Seat(seat)
        out = append(out, res)
    }
    return out, rows.Err()
}
