package ticket

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/park285/tarik-tambang-server/internal/room"
)

var (
	ErrInvalidTicket    = errors.New("invalid ticket")
	ErrExpiredTicket    = errors.New("ticket expired")
	ErrInvalidSignature = errors.New("invalid ticket signature")
)

const issuer = "tarik-tambang"

// Claims bind a bearer to one seat of one room.
type Claims struct {
	jwt.RegisteredClaims
	Room string `json:"room"`
	Seat string `json:"seat"`
	Name string `json:"name"`
}

// SeatRef returns the seat carried by the ticket.
func (c *Claims) SeatRef() room.Seat { return room.Seat(c.Seat) }

// Issuer signs and validates seat tickets with HS256.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// RandomSecret returns a hex secret for processes started without TICKET_SECRET.
func RandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue signs a ticket for (code, seat, name). session becomes the ticket id
// and should match the session bound to the seat; empty picks a fresh one.
func (i *Issuer) Issue(code string, seat room.Seat, name, session string) (string, error) {
	if session == "" {
		session = uuid.NewString()
	}
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session,
			Issuer:    issuer,
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Room: code,
		Seat: string(seat),
		Name: name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket: %w", err)
	}
	return signed, nil
}

// Validate parses a ticket and checks signature, expiry and shape.
func (i *Issuer) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredTicket
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidTicket
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || !claims.SeatRef().Valid() || claims.Room == "" || claims.Name == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
