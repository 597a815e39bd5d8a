package room

// Errors
var (
	ErrRoomNotFound        = errf("room not found")
	ErrRoomFull            = errf("room already has two players")
	ErrGenerationExhausted = errf("failed to allocate a unique room code")
	ErrInvalidInput        = errf("invalid input")
	ErrPersistence         = errf("room store unavailable")
	// seat-scoped call against a seat nobody holds
	ErrNotSeated = errf("seat is not occupied")
	// answer submitted while the room is not playing
	ErrNotPlaying = errf("match is not in progress")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
