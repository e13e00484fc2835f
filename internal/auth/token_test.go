package auth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := TokenConfig{Secret: testSecret, Issuer: "gamehub", Audience: "players", TTL: time.Hour, Now: fixedClock(now)}
	accountID := uuid.New()

	token, err := NewIssuer(cfg).Issue(accountID, 2)
	require.NoError(t, err)

	claims, err := NewVerifier(cfg).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, accountID.String(), claims.Subject)
	assert.Equal(t, 2, claims.RoleID)
	assert.True(t, claims.Valid())
}

func TestVerify_Rejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := TokenConfig{Secret: testSecret, Issuer: "gamehub", TTL: time.Hour, Now: fixedClock(now)}
	token, err := NewIssuer(cfg).Issue(uuid.New(), 2)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := cfg
		later.Now = fixedClock(now.Add(2 * time.Hour))
		_, err := NewVerifier(later).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := cfg
		other.Secret = []byte("other")
		_, err := NewVerifier(other).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := cfg
		other.Issuer = "elsewhere"
		_, err := NewVerifier(other).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewVerifier(cfg).Verify("  ")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no expiry", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": uuid.NewString(), "role": 2, "iss": "gamehub"})
		signed, err := raw.SignedString(testSecret)
		require.NoError(t, err)
		_, err = NewVerifier(cfg).Verify(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerify_RoleClaimForms(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := TokenConfig{Secret: testSecret, Now: fixedClock(now)}

	tests := []struct {
		name string
		role any
		want int
	}{
		{name: "number", role: 2, want: 2},
		{name: "numeric string", role: "2", want: 2},
		{name: "fraction", role: 2.5, want: 0},
		{name: "word", role: "admin", want: 0},
		{name: "negative", role: -1, want: 0},
		{name: "missing", role: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := jwt.MapClaims{"sub": "abc", "exp": now.Add(time.Minute).Unix()}
			if tt.role != nil {
				mc["role"] = tt.role
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(testSecret)
			require.NoError(t, err)

			claims, err := NewVerifier(cfg).Verify(signed)
			require.NoError(t, err)
			assert.Equal(t, tt.want, claims.RoleID)
		})
	}
}

func TestFromAuthorizationHeader(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := TokenConfig{Secret: testSecret, Now: fixedClock(now)}
	token, err := NewIssuer(cfg).Issue(uuid.New(), 1)
	require.NoError(t, err)

	v := NewVerifier(cfg)
	_, err = v.FromAuthorizationHeader("Bearer " + token)
	assert.NoError(t, err)

	_, err = v.FromAuthorizationHeader(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.FromAuthorizationHeader("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRoleID_Raw(t *testing.T) {
	assert.Equal(t, 3, parseRoleID(json.RawMessage(`3`)))
	assert.Equal(t, 3, parseRoleID(json.RawMessage(`" 3 "`)))
	assert.Equal(t, 0, parseRoleID(json.RawMessage(`{}`)))
}
