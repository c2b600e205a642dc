package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the JWT payload minted by the relay for API credentials.
type TokenClaims struct {
	TokenID   string `json:"token_id"`
	TokenName string `json:"token_name,omitempty"`
	UserID    string `json:"user_id"`
	// Groups is either a JSON array or a comma separated string.
	Groups any `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HMAC-signed credential tokens.
type JWTValidator struct {
	key    []byte
	issuer string
}

// NewJWTValidator returns a validator for tokens signed with key. An empty
// issuer disables the issuer check.
func NewJWTValidator(key, issuer string) (*JWTValidator, error) {
	if key == "" {
		return nil, errors.New("jwt signing key is required")
	}
	return &JWTValidator{key: []byte(key), issuer: issuer}, nil
}

// ValidateToken implements TokenValidator.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var tc TokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &tc, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	tokenID := tc.TokenID
	if tokenID == "" {
		tokenID = tc.Subject
	}
	return &Claims{
		TokenID:   tokenID,
		TokenName: tc.TokenName,
		UserID:    tc.UserID,
		GroupIDs:  groupList(tc.Groups),
	}, nil
}

// Sign mints a token for claims. Used by tooling and tests.
func (v *JWTValidator) Sign(c TokenClaims) (string, error) {
	if v.issuer != "" && c.Issuer == "" {
		c.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.key)
}

func groupList(raw any) []string {
	var out []string
	switch g := raw.(type) {
	case string:
		for part := range strings.SplitSeq(g, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for _, item := range g {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
