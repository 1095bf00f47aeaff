package tokens

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Audience names a token family. Each family is signed with its own key,
// so a user token can never validate against the inter-service key or
// the other way around. Adding a new family is a Register call, nothing more.
type Audience string

const (
	AudienceUser         Audience = "user"
	AudienceInterService Audience = "service"
)

var ErrUnknownAudience = errors.New("unknown token audience")

type KeyRegistry struct {
	keys map[Audience][]byte
}

func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[Audience][]byte)}
}

func (r *KeyRegistry) Register(aud Audience, key []byte) {
	r.keys[aud] = key
}

func (r *KeyRegistry) Key(aud Audience) ([]byte, error) {
	key, ok := r.keys[aud]
	if !ok || len(key) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAudience, aud)
	}
	return key, nil
}

// KeyFuncFor builds the KeyFunc handed to echo-jwt for a route gated on one
// family. The kid header must name exactly that audience; a token from any
// other family never resolves a key.
func (r *KeyRegistry) KeyFuncFor(aud Audience) func(t *jwt.Token) (interface{}, error) {
	return func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, errors.New("token missing kid header")
		}
		if Audience(kid) != aud {
			return nil, fmt.Errorf("token audience %q not accepted here", kid)
		}
		return r.Key(aud)
	}
}
