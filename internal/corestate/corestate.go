// Package corestate loads (and, on first start, generates) the two files
// that make a core's identity durable across restarts: its token-signing
// secret and its secp256k1 private key. Mirrors init_state/jwt_secret.txt
// and init_state/priv_key.txt from the original server's run_server.
package corestate

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/colink-dev/colink-core/internal/identity"
)

const (
	jwtSecretFile = "jwt_secret"
	privKeyFile   = "priv_key"
)

// State holds a core's durable identity material.
type State struct {
	JWTSecret [32]byte
	Keys      *identity.KeyPair
}

// LoadOrInit reads jwt_secret/priv_key from dir, generating and persisting
// either file that is missing (or forcing regeneration when force is true).
func LoadOrInit(dir string, force bool) (*State, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}

	jwtPath := filepath.Join(dir, jwtSecretFile)
	if force || !exists(jwtPath) {
		secret, err := identity.RandomSecret()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(jwtPath, []byte(hex.EncodeToString(secret[:])), 0o600); err != nil {
			return nil, fmt.Errorf("write %s: %w", jwtPath, err)
		}
	}

	keyPath := filepath.Join(dir, privKeyFile)
	if force || !exists(keyPath) {
		kp, err := identity.Generate()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(keyPath, []byte(kp.SecretHex()), 0o600); err != nil {
			return nil, fmt.Errorf("write %s: %w", keyPath, err)
		}
	}

	secretBytes, err := os.ReadFile(jwtPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", jwtPath, err)
	}
	secretRaw, err := hex.DecodeString(string(secretBytes))
	if err != nil || len(secretRaw) != 32 {
		return nil, fmt.Errorf("%s is corrupt: expected 32 bytes hex", jwtPath)
	}
	var secret [32]byte
	copy(secret[:], secretRaw)

	keyHex, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", keyPath, err)
	}
	kp, err := identity.FromHex(string(keyHex))
	if err != nil {
		return nil, fmt.Errorf("%s is corrupt: %w", keyPath, err)
	}

	return &State{JWTSecret: secret, Keys: kp}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
