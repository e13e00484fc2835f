package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any credential that fails verification
var ErrInvalidToken = errors.New("invalid bearer token")

// tokenClaims is the wire form of the credential. The role id is accepted
// both as a JSON number and as a numeric string.
type tokenClaims struct {
	jwt.RegisteredClaims
	Role json.RawMessage `json:"role,omitempty"`
}

// TokenConfig configures signing and verification of bearer credentials
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      func() time.Time
}

func (c *TokenConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Verifier validates HMAC-signed bearer credentials
type Verifier struct {
	config TokenConfig
	parser *jwt.Parser
}

// NewVerifier creates a new credential verifier
func NewVerifier(cfg TokenConfig) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{
		config: cfg,
		parser: jwt.NewParser(opts...),
	}
}

// Verify checks signature and expiry of token and extracts its claims.
// Missing or malformed subject/role claims do not fail verification; they
// yield Claims that the gate will reject.
func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	var parsed tokenClaims
	_, err := v.parser.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.config.Secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return Claims{
		Subject: strings.TrimSpace(parsed.Subject),
		RoleID:  parseRoleID(parsed.Role),
	}, nil
}

// FromAuthorizationHeader extracts and verifies a "Bearer <token>" header value
func (v *Verifier) FromAuthorizationHeader(header string) (Claims, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return Claims{}, ErrInvalidToken
	}
	return v.Verify(header[len(prefix):])
}

func parseRoleID(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n != math.Trunc(n) || n <= 0 || n > math.MaxInt32 {
			return 0
		}
		return int(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// Issuer mints bearer credentials carrying subject and role claims
type Issuer struct {
	config TokenConfig
}

// NewIssuer creates a new credential issuer
func NewIssuer(cfg TokenConfig) *Issuer {
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	return &Issuer{config: cfg}
}

// Issue signs a credential for accountID holding roleID
func (i *Issuer) Issue(accountID uuid.UUID, roleID int) (string, error) {
	now := i.config.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TTL)),
		},
		Role: json.RawMessage(strconv.Quote(strconv.Itoa(roleID))),
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.Secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
