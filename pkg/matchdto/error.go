package matchdto

// DomainError is the error body of every failed call.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "match service error"
}

// Error codes carried in DomainError.Code.
const (
	CodeRoomNotFound        = "room_not_found"
	CodeRoomFull            = "room_full"
	CodeGenerationExhausted = "generation_exhausted"
	CodeInvalidInput        = "invalid_input"
	CodePersistence         = "persistence_error"
	CodeNotSeated           = "not_seated"
	CodeNotPlaying          = "not_playing"
	CodeUnauthorized        = "unauthorized"
	CodeSeatTaken           = "seat_taken"
	CodeRateLimited         = "rate_limited"
	CodeUnavailable         = "unavailable"
	CodeInternal            = "internal"
)
