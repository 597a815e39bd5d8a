package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DisconnectPolicy decides what happens to a seat when its websocket drops.
type DisconnectPolicy string

const (
	// DisconnectKeep leaves the seat occupied so the player can reclaim it by name.
	DisconnectKeep DisconnectPolicy = "keep"
	// DisconnectLeave frees the seat as if the player had left.
	DisconnectLeave DisconnectPolicy = "leave"
)

type AppConfig struct {
	HTTPAddr string

	RedisURL    string
	DatabaseURL string

	AccountsBaseURL string
	AccountsToken   string

	// empty means a random per-process secret; tickets then die with the process
	TicketSecret string
	TicketTTL    time.Duration

	WinScore     int
	CodeAttempts int

	RateLimitRPS   float64
	RateLimitBurst int

	MessagesDir      string
	DisconnectPolicy DisconnectPolicy
	AllowedOrigins   []string
	ShutdownTimeout  time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":8080",
		TicketTTL:        24 * time.Hour,
		WinScore:         10,
		CodeAttempts:     8,
		RateLimitRPS:     20,
		RateLimitBurst:   40,
		DisconnectPolicy: DisconnectKeep,
		ShutdownTimeout:  10 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.AccountsBaseURL = strings.TrimSpace(os.Getenv("ACCOUNTS_BASE_URL"))
	cfg.AccountsToken = strings.TrimSpace(os.Getenv("ACCOUNTS_TOKEN"))
	cfg.TicketSecret = strings.TrimSpace(os.Getenv("TICKET_SECRET"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("TICKET_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("TICKET_TTL: invalid duration %q", v)
		}
		cfg.TicketTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("SHUTDOWN_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("WIN_SCORE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WinScore = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CODE_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CodeAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DISCONNECT_POLICY")); v != "" {
		switch DisconnectPolicy(strings.ToLower(v)) {
		case DisconnectKeep:
			cfg.DisconnectPolicy = DisconnectKeep
		case DisconnectLeave:
			cfg.DisconnectPolicy = DisconnectLeave
		default:
			return nil, fmt.Errorf("DISCONNECT_POLICY must be keep or leave, got %q", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			s := strings.TrimSpace(p)
			if s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}
