package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/colink-dev/colink-core/internal/corefault"
	"github.com/colink-dev/colink-core/internal/coretypes"
)

type claims struct {
	UserID    string `json:"user_id"`
	Privilege string `json:"privilege"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// mint produces the opaque wire token for claims c using secret.
func mint(secret [32]byte, c claims) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", corefault.Wrap(corefault.Internal, err, "marshal token claims")
	}
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	sig := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// verify decodes and MAC-checks a wire token, returning its claims.
func verify(secret [32]byte, token string) (claims, error) {
	var c claims
	dot := -1
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return c, corefault.New(corefault.Unauthenticated, "malformed token")
	}
	bodyB64, sigB64 := token[:dot], token[dot+1:]

	// Strict decoding rejects non-zero trailing bits, so each token has
	// exactly one accepted spelling.
	body, err := base64.RawURLEncoding.Strict().DecodeString(bodyB64)
	if err != nil {
		return c, corefault.Wrap(corefault.Unauthenticated, err, "malformed token body")
	}
	sig, err := base64.RawURLEncoding.Strict().DecodeString(sigB64)
	if err != nil {
		return c, corefault.Wrap(corefault.Unauthenticated, err, "malformed token signature")
	}

	mac := hmac.New(sha256.New, secret[:])
	mac.Write(body)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, sig) {
		return c, corefault.New(corefault.Unauthenticated, "token signature mismatch")
	}

	if err := json.Unmarshal(body, &c); err != nil {
		return c, corefault.Wrap(corefault.Unauthenticated, err, "malformed token claims")
	}
	return c, nil
}

func toCoreToken(c claims) coretypes.Token {
	return coretypes.Token{
		UserID:    c.UserID,
		Privilege: coretypes.Privilege(c.Privilege),
		IssuedAt:  time.Unix(c.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(c.ExpiresAt, 0).UTC(),
	}
}
