// Package identity wraps secp256k1 key material for colink-core: core and
// user identities are both 33-byte compressed public keys, hex-encoded as
// their user_id / host_id.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// KeyPair is a core or user's secp256k1 identity.
type KeyPair struct {
	Priv *k1.PrivateKey
	Pub  *k1.PublicKey
}

// Generate creates a fresh random keypair.
func Generate() (*KeyPair, error) {
	priv, err := k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return &KeyPair{Priv: priv, Pub: priv.PubKey()}, nil
}

// FromHex loads a keypair from a hex-encoded 32-byte secret.
func FromHex(secretHex string) (*KeyPair, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("decode secret key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(raw))
	}
	priv := k1.PrivKeyFromBytes(raw)
	return &KeyPair{Priv: priv, Pub: priv.PubKey()}, nil
}

// SecretHex returns the hex-encoded 32-byte secret key.
func (k *KeyPair) SecretHex() string {
	return hex.EncodeToString(k.Priv.Serialize())
}

// ID returns the hex encoding of the 33-byte compressed public key — the
// user_id (for a user keypair) or host_id (for a core keypair).
func (k *KeyPair) ID() string {
	return PublicKeyID(k.Pub)
}

// PublicKeyID hex-encodes a compressed public key.
func PublicKeyID(pub *k1.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// ParsePublicKey decodes a hex-encoded compressed public key, such as a
// user_id or host_id, back into a *k1.PublicKey.
func ParsePublicKey(idHex string) (*k1.PublicKey, error) {
	raw, err := hex.DecodeString(idHex)
	if err != nil {
		return nil, fmt.Errorf("decode public key hex: %w", err)
	}
	return k1.ParsePubKey(raw)
}

// digest hashes an arbitrary message to the 32-byte value ECDSA signs.
func digest(msg []byte) [32]byte {
	return sha256.Sum256(msg)
}

// Sign signs msg with the keypair's private key, returning a DER-encoded
// ECDSA signature.
func (k *KeyPair) Sign(msg []byte) []byte {
	d := digest(msg)
	sig := ecdsa.Sign(k.Priv, d[:])
	return sig.Serialize()
}

// Verify checks a DER-encoded ECDSA signature over msg against pub.
func Verify(pub *k1.PublicKey, msg, sig []byte) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	d := digest(msg)
	return parsed.Verify(d[:], pub)
}

// RandomSecret returns 32 cryptographically random bytes, used for the
// core's HMAC token secret.
func RandomSecret() ([32]byte, error) {
	var out [32]byte
	if _, err := rand.Read(out[:]); err != nil {
		return out, fmt.Errorf("read random secret: %w", err)
	}
	return out, nil
}
