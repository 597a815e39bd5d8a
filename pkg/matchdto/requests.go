package matchdto

import (
	"encoding/json"
	"strings"
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type JoinRoomRequest struct {
	Name string `json:"name"`
}

// AnswerRequest accepts the answer as a JSON number or string.
type AnswerRequest struct {
	Answer json.RawMessage `json:"answer"`
}

// AnswerText returns the raw answer text; strings are unquoted.
func (r AnswerRequest) AnswerText() string {
	raw := strings.TrimSpace(string(r.Answer))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Answer, &s); err == nil {
		return s
	}
	return raw
}
