package ticket

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	tok, err := iss.Issue("ABCDE", room.SeatB, "budi", "")
	require.NoError(t, err)

	c, err := iss.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "ABCDE", c.Room)
	assert.Equal(t, room.SeatB, c.SeatRef())
	assert.Equal(t, "budi", c.Name)
	assert.NotEmpty(t, c.ID)
}

func TestIssueCarriesSession(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	tok, err := iss.Issue("ABCDE", room.SeatA, "ana", "sess-42")
	require.NoError(t, err)
	c, err := iss.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "sess-42", c.ID)
}

func TestValidateExpired(t *testing.T) {
	iss := NewIssuer("secret", time.Minute)
	base := time.Now()
	iss.now = func() time.Time { return base }
	tok, err := iss.Issue("ABCDE", room.SeatA, "ana", "")
	require.NoError(t, err)

	iss.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = iss.Validate(tok)
	assert.ErrorIs(t, err, ErrExpiredTicket)
}

func TestValidateWrongSecret(t *testing.T) {
	tok, err := NewIssuer("one", time.Hour).Issue("ABCDE", room.SeatA, "ana", "")
	require.NoError(t, err)
	_, err = NewIssuer("two", time.Hour).Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidateRejectsForeignShape(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Room:             "ABCDE",
		Seat:             "playerC",
		Name:             "x",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = iss.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidTicket)

	_, err = iss.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestRandomSecret(t *testing.T) {
	a, err := RandomSecret()
	require.NoError(t, err)
	b, _ := RandomSecret()
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
