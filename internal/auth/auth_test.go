package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cafesync/internal/testutil"
)

const secret = "0123456789abcdef-test"

func TestMintParse(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s, err := NewSigner(secret, WithClock(testutil.NewManualClock(now).Now))
	require.NoError(t, err)

	tok, err := s.Mint("barista-1", RoleStaff)
	require.NoError(t, err)

	claims, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "barista-1", claims.Subject)
	assert.Equal(t, RoleStaff, claims.Role)
	assert.Equal(t, "cafesync", claims.Issuer)
	assert.True(t, claims.CanSubmit())
	assert.True(t, now.Add(12*time.Hour).Equal(claims.ExpiresAt.Time))
}

func TestParse_Expired(t *testing.T) {
	clock := testutil.NewManualClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	s, err := NewSigner(secret, WithTTL(time.Minute), WithClock(clock.Now))
	require.NoError(t, err)

	tok, err := s.Mint("barista-1", RoleStaff)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = s.Parse(tok)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParse_Rejections(t *testing.T) {
	s, err := NewSigner(secret)
	require.NoError(t, err)
	other, err := NewSigner("another-secret-of-enough-length")
	require.NoError(t, err)
	foreign, err := NewSigner(secret, WithIssuer("someone-else"))
	require.NoError(t, err)

	forged, err := other.Mint("barista-1", RoleStaff)
	require.NoError(t, err)
	wrongIssuer, err := foreign.Mint("barista-1", RoleStaff)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "iss": "cafesync"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", forged},
		{"wrong issuer", wrongIssuer},
		{"alg none", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Parse(tt.token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestObserverCannotSubmit(t *testing.T) {
	s, err := NewSigner(secret, WithTTL(0))
	require.NoError(t, err)

	tok, err := s.Mint("screen-1", RoleObserver)
	require.NoError(t, err)
	claims, err := s.Parse(tok)
	require.NoError(t, err)
	assert.False(t, claims.CanSubmit())
	assert.Nil(t, claims.ExpiresAt)
}

func TestSignerValidation(t *testing.T) {
	_, err := NewSigner("short")
	assert.Error(t, err)

	s, err := NewSigner(secret)
	require.NoError(t, err)
	_, err = s.Mint("", RoleStaff)
	assert.Error(t, err)
	_, err = s.Mint("x", Role("owner"))
	assert.Error(t, err)
}
