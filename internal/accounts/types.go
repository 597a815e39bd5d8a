package accounts

// User is the account record echoed by login and register.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	AccessToken string `json:"accessToken"`
	User        *User  `json:"user"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	User    *User  `json:"user"`
}

type ProfileResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LeaderboardEntry is one ranked account.
type LeaderboardEntry struct {
	Username string `json:"username"`
	Wins     int    `json:"wins"`
}

type LeaderboardResponse struct {
	Success     bool               `json:"success"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}
