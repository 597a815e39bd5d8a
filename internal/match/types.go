package match

import (
    "context"
    "time"

    "github.com/park285/tarik-tambang-server/internal/room"
)

// DefaultWinScore is the score that ends a match.
const DefaultWinScore = 10

// ReadyResult reports the outcome of SetReady.
type ReadyResult struct {
    Started bool
    Room    *room.Room
}

// AnswerResult reports the outcome of SubmitAnswer.
type AnswerResult struct {
    Correct  bool
    Score    int
    Finished bool
    Winner   string
}

// Result is the archived record of a finished match.
type Result struct {
    ID         string
    Code       string
    Winner     string
    WinnerSeat room.Seat
    PlayerA    string
    PlayerB    string
    ScoreA     int
    ScoreB     int
    StartedAt  time.Time
    FinishedAt time.Time
}

// WinRecorder credits a win to an account (the accounts service add-win call).
type WinRecorder interface {
    AddWin(ctx context.Context, username string) error
}

// ResultSaver archives finished matches.
type ResultSaver interface {
    SaveResult(ctx context.Context, res *Result) error
}

// Observer receives lifecycle signals, used for metrics.
type Observer interface {
    MatchStarted(code string)
    AnswerChecked(correct bool)
    MatchFinished(code string, winner room.Seat)
}

type noopObserver struct{}

func (noopObserver) MatchStarted(string)             {}
func (noopObserver) AnswerChecked(bool)              {}
func (noopObserver) MatchFinished(string, room.Seat) {}
