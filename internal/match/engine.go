package match

import (
    "context"
    "errors"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/park285/tarik-tambang-server/internal/obslog"
    "github.com/park285/tarik-tambang-server/internal/question"
    "github.com/park285/tarik-tambang-server/internal/room"
    "go.uber.org/zap"
)

const (
    // finalize retries after a store failure; the increment itself is never replayed
    finalizeAttempts = 3
    recordTimeout    = 10 * time.Second
)

// Engine drives ready-up, answers, scoring, win detection and reset.
type Engine struct {
    store     *room.Store
    questions *question.Generator
    winScore  int
    repo      ResultSaver
    wins      WinRecorder
    obs       Observer
    now       func() time.Time
    wg        sync.WaitGroup
}

func NewEngine(store *room.Store, questions *question.Generator, winScore int) *Engine {
    if questions == nil { questions = question.New() }
    if winScore <= 0 { winScore = DefaultWinScore }
    return &Engine{store: store, questions: questions, winScore: winScore, obs: noopObserver{}, now: time.Now}
}

// AttachRepository wires a result archive for finished matches.
func (e *Engine) AttachRepository(r ResultSaver) {
    if e != nil { e.repo = r }
}

// AttachWinRecorder wires the account win counter.
func (e *Engine) AttachWinRecorder(w WinRecorder) {
    if e != nil { e.wins = w }
}

func (e *Engine) AttachObserver(o Observer) {
    if e != nil && o != nil { e.obs = o }
}

func (e *Engine) WinScore() int { return e.winScore }

// Wait blocks until pending finish side effects are done.
func (e *Engine) Wait() { e.wg.Wait() }

// SetReady marks seat ready. The second seat to become ready starts the match.
func (e *Engine) SetReady(ctx context.Context, code string, seat room.Seat) (*ReadyResult, error) {
    code = room.NormalizeCode(code)
    if code == "" || !seat.Valid() { return nil, room.ErrInvalidInput }

    started := false
    r, err := e.store.Mutate(ctx, code, func(r *room.Room) (*room.Patch, error) {
        started = false
        me := r.Seat(seat)
        if !me.Occupied() { return nil, room.ErrNotSeated }
        if me.Ready { return nil, nil }
        p := room.NewPatch().Set(room.ReadyField(seat), true)
        other := r.Seat(seat.Other())
        if r.Status == room.StatusWaiting && other.Occupied() && other.Ready {
            text, ans := e.questions.Generate()
            // every match starts from zero whatever the previous one left behind
            p.Set(room.ScoreField(room.SeatA), 0).
                Set(room.ScoreField(room.SeatB), 0).
                Set(room.FieldWinner, "").
                Set(room.FieldStatus, room.StatusPlaying).
                Set(room.FieldCurrentQuestion, text).
                Set(room.FieldCurrentAnswer, ans)
            started = true
        }
        return p, nil
    })
    if err != nil {
        obslog.L().Warn("match_ready_error", zap.String("code", code), zap.String("seat", string(seat)), zap.Error(err))
        return nil, err
    }
    if started {
        e.obs.MatchStarted(code)
        obslog.L().Info("match_start", zap.String("code", code), zap.String("player_a", r.PlayerA.Name), zap.String("player_b", r.PlayerB.Name))
    } else {
        obslog.L().Debug("match_ready", zap.String("code", code), zap.String("seat", string(seat)))
    }
    return &ReadyResult{Started: started, Room: r}, nil
}

// SubmitAnswer checks raw against the current answer. A correct answer adds one
// point atomically, then a fresh read decides between finishing and rotating.
func (e *Engine) SubmitAnswer(ctx context.Context, code string, seat room.Seat, raw string) (*AnswerResult, error) {
    value, err := strconv.Atoi(strings.TrimSpace(raw))
    if err != nil { return nil, room.ErrInvalidInput }
    code = room.NormalizeCode(code)
    if code == "" || !seat.Valid() { return nil, room.ErrInvalidInput }

    r, err := e.store.Load(ctx, code)
    if err != nil { return nil, err }
    if r == nil { return nil, room.ErrRoomNotFound }
    if r.Status != room.StatusPlaying { return nil, room.ErrNotPlaying }
    if !r.Seat(seat).Occupied() { return nil, room.ErrNotSeated }
    if value != r.CurrentAnswer {
        e.obs.AnswerChecked(false)
        obslog.L().Debug("match_answer_wrong", zap.String("code", code), zap.String("seat", string(seat)))
        return &AnswerResult{Correct: false, Score: r.Seat(seat).Score}, nil
    }

    score, err := e.store.IncrementScore(ctx, code, seat)
    if err != nil {
        obslog.L().Warn("match_increment_error", zap.String("code", code), zap.String("seat", string(seat)), zap.Error(err))
        return nil, err
    }
    e.obs.AnswerChecked(true)

    res := &AnswerResult{Correct: true, Score: score}
    var fin *Result
    for attempt := 1; ; attempt++ {
        fin, err = e.finalize(ctx, code)
        if err == nil || !errors.Is(err, room.ErrPersistence) || attempt >= finalizeAttempts { break }
    }
    if err != nil {
        obslog.L().Warn("match_finalize_error", zap.String("code", code), zap.Error(err))
        return nil, err
    }
    if fin != nil {
        res.Finished = true
        res.Winner = fin.Winner
        e.obs.MatchFinished(code, fin.WinnerSeat)
        obslog.L().Info("match_finish", zap.String("code", code), zap.String("winner", fin.Winner), zap.Int("score_a", fin.ScoreA), zap.Int("score_b", fin.ScoreB))
        e.recordFinish(fin)
    }
    return res, nil
}

// finalize re-reads the room after an increment. It returns the archived result
// when this call made the playing -> finished transition.
func (e *Engine) finalize(ctx context.Context, code string) (*Result, error) {
    var fin *Result
    _, err := e.store.Mutate(ctx, code, func(r *room.Room) (*room.Patch, error) {
        fin = nil
        if r.Status != room.StatusPlaying { return nil, nil }
        for _, s := range []room.Seat{room.SeatA, room.SeatB} {
            if r.Seat(s).Score < e.winScore { continue }
            name := r.DisplayName(s)
            fin = &Result{
                ID:         uuid.NewString(),
                Code:       code,
                Winner:     name,
                WinnerSeat: s,
                PlayerA:    r.PlayerA.Name,
                PlayerB:    r.PlayerB.Name,
                ScoreA:     r.PlayerA.Score,
                ScoreB:     r.PlayerB.Score,
                StartedAt:  r.CreatedAt,
                FinishedAt: e.now(),
            }
            return room.NewPatch().
                Set(room.FieldWinner, name).
                Set(room.FieldStatus, room.StatusFinished), nil
        }
        text, ans := e.questions.Generate()
        return room.NewPatch().
            Set(room.FieldCurrentQuestion, text).
            Set(room.FieldCurrentAnswer, ans), nil
    })
    if err != nil { return nil, err }
    return fin, nil
}

// recordFinish credits the winner and archives the match without blocking the caller.
func (e *Engine) recordFinish(fin *Result) {
    if e.wins == nil && e.repo == nil { return }
    winnerName := ""
    if fin.WinnerSeat == room.SeatA { winnerName = fin.PlayerA } else { winnerName = fin.PlayerB }
    e.wg.Add(1)
    go func() {
        defer e.wg.Done()
        ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
        defer cancel()
        if e.wins != nil && strings.TrimSpace(winnerName) != "" {
            if err := e.wins.AddWin(ctx, winnerName); err != nil {
                obslog.L().Warn("match_add_win_error", zap.String("code", fin.Code), zap.String("winner", winnerName), zap.Error(err))
            }
        }
        if e.repo != nil {
            if err := e.repo.SaveResult(ctx, fin); err != nil {
                obslog.L().Warn("match_save_result_error", zap.String("code", fin.Code), zap.String("match_id", fin.ID), zap.Error(err))
            }
        }
    }()
}

// Reset returns the room to a fresh waiting phase, keeping its occupants.
func (e *Engine) Reset(ctx context.Context, code string) (*room.Room, error) {
    code = room.NormalizeCode(code)
    if code == "" { return nil, room.ErrInvalidInput }
    r, err := e.store.Mutate(ctx, code, func(r *room.Room) (*room.Patch, error) {
        p := room.NewPatch()
        for _, s := range []room.Seat{room.SeatA, room.SeatB} {
            if !r.Seat(s).Occupied() { continue }
            p.Set(room.ScoreField(s), 0).Set(room.ReadyField(s), false)
        }
        return p.Set(room.FieldWinner, "").
            Set(room.FieldCurrentQuestion, room.Placeholder).
            Set(room.FieldCurrentAnswer, 0).
            Set(room.FieldStatus, room.StatusWaiting), nil
    })
    if err != nil {
        obslog.L().Warn("match_reset_error", zap.String("code", code), zap.Error(err))
        return nil, err
    }
    obslog.L().Info("match_reset", zap.String("code", code))
    return r, nil
}
