package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformed    = errors.New("malformed token")
	ErrBadSignature = errors.New("bad token signature")
	ErrExpired      = errors.New("token expired")
)

// Claims is the payload every token in the system carries.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// NearExpiry reports whether the token expires within window. The window is
// configuration, not a constant: edge services pick their own.
func (c *Claims) NearExpiry(window time.Duration) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return time.Until(c.ExpiresAt.Time) <= window
}

// Codec issues and verifies signed tokens. Keys are read-only process-wide
// state held in the registry; the codec itself is stateless and safe for
// concurrent use.
type Codec struct {
	Keys   *KeyRegistry
	Issuer string
}

func NewCodec(keys *KeyRegistry, issuer string) *Codec {
	return &Codec{Keys: keys, Issuer: issuer}
}

// Issue signs a token for subject with the given role under the audience's
// key. JTI is always set so two tokens issued within the same second for the
// same subject still differ.
func (c *Codec) Issue(subject string, role Role, aud Audience, ttl time.Duration) (string, error) {
	key, err := c.Keys.Key(aud)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    c.Issuer,
			Audience:  jwt.ClaimStrings{string(aud)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tkn := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tkn.Header["kid"] = string(aud)
	return tkn.SignedString(key)
}

// IssueService mints a short-lived inter-service token. Stateless: nothing
// is persisted, callers reissue per call.
func (c *Codec) IssueService(serviceName string, ttl time.Duration) (string, error) {
	return c.Issue(serviceName, RoleService, AudienceInterService, ttl)
}

// Verify parses and checks the token against the audience's key, classifying
// failures as ErrMalformed, ErrBadSignature or ErrExpired. A token whose
// expiry equals the current instant is already expired.
func (c *Codec) Verify(tokenStr string, aud Audience) (*Claims, error) {
	return c.parse(tokenStr, aud, false)
}

// DecodeExpired behaves like Verify but tolerates an expired token. The
// signature and audience are still enforced; only expiry is skipped. Used by
// the refresh endpoint, which by definition receives dying tokens.
func (c *Codec) DecodeExpired(tokenStr string, aud Audience) (*Claims, error) {
	return c.parse(tokenStr, aud, true)
}

func (c *Codec) parse(tokenStr string, aud Audience, allowExpired bool) (*Claims, error) {
	key, err := c.Keys.Key(aud)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithAudience(string(aud))}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	var claims Claims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrBadSignature
		}
		return key, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrBadSignature
		}
	}
	if !tkn.Valid {
		return nil, ErrBadSignature
	}
	if allowExpired {
		// Audience validation is part of claims validation, which was
		// skipped above; re-check it so families stay sealed.
		ok := false
		for _, a := range claims.Audience {
			if a == string(aud) {
				ok = true
				break
			}
		}
		if !ok {
			return nil, ErrBadSignature
		}
	}
	if !claims.Role.Valid() {
		return nil, ErrMalformed
	}
	return &claims, nil
}
