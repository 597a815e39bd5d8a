package matchdto

// SeatView is the public state of one seat; nil when free.
type SeatView struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Ready bool   `json:"ready"`
}

// RoomView is the public projection of a room. currentAnswer is never included.
type RoomView struct {
	Code            string    `json:"code"`
	Status          string    `json:"status"`
	CreatedAt       int64     `json:"createdAt"`
	PlayerA         *SeatView `json:"playerA"`
	PlayerB         *SeatView `json:"playerB"`
	CurrentQuestion string    `json:"currentQuestion"`
	Winner          string    `json:"winner"`
	Rev             int64     `json:"rev"`
}

// SeatGrant is returned by create and join.
type SeatGrant struct {
	Code    string `json:"code"`
	Seat    string `json:"seat"`
	Name    string `json:"name"`
	Ticket  string `json:"ticket"`
	Message string `json:"message,omitempty"`
}

type ReadyResponse struct {
	Started bool      `json:"started"`
	Message string    `json:"message"`
	Room    *RoomView `json:"room"`
}

type AnswerResponse struct {
	Correct  bool   `json:"correct"`
	Message  string `json:"message"`
	Score    int    `json:"score"`
	Finished bool   `json:"finished"`
	Winner   string `json:"winner,omitempty"`
}

type LeaderboardEntry struct {
	Username string `json:"username"`
	Wins     int    `json:"wins"`
}

type Health struct {
	Status      string `json:"status"`
	Redis       string `json:"redis"`
	Subscribers int    `json:"subscribers"`
}
