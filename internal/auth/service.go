package auth

import (
	"fmt"
	"sync"
	"time"

	k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/colink-dev/colink-core/internal/corefault"
	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/identity"
	"github.com/colink-dev/colink-core/internal/mq"
)

// privilegeRank orders privileges from broadest to narrowest so
// GenerateToken can enforce "may only be equal to or narrower than the
// caller's" (spec §4.4).
var privilegeRank = map[coretypes.Privilege]int{
	coretypes.PrivilegeHost:  0,
	coretypes.PrivilegeUser:  1,
	coretypes.PrivilegeGuest: 2,
}

func narrowerOrEqual(requested, held coretypes.Privilege) bool {
	r, ok1 := privilegeRank[requested]
	h, ok2 := privilegeRank[held]
	return ok1 && ok2 && r >= h
}

// UserConsent is the blob a user signs to pledge trust to this core, per
// spec §4.4: "{core_pub_key, expiry}" signed by the user's private key.
type UserConsent struct {
	UserID     string // hex compressed secp256k1 public key claiming this consent
	CorePubKey string // hex compressed secp256k1 public key of the core being trusted
	Expiry     time.Time
	Signature  []byte
}

func (c UserConsent) canonical() []byte {
	return []byte(fmt.Sprintf("%s|%d", c.CorePubKey, c.Expiry.Unix()))
}

// Service is colink-core's Auth/Token Service (spec §4.4).
type Service struct {
	secret [32]byte
	hostID string
	corePub *k1.PublicKey

	mq mq.Adapter

	mu       sync.RWMutex // imported-users set: readers dominate, per spec §5
	imported map[string]struct{}

	now func() time.Time
}

// NewService builds the Auth/Token Service. hostID is this core's host_id
// (hex public key); corePub is the matching public key, used to verify
// import_user consents pledged to this core.
func NewService(secret [32]byte, hostID string, corePub *k1.PublicKey, adapter mq.Adapter) *Service {
	return &Service{
		secret:   secret,
		hostID:   hostID,
		corePub:  corePub,
		mq:       adapter,
		imported: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Verify decodes and MAC-checks an opaque token, failing with
// Unauthenticated if it is malformed, forged, or expired.
func (s *Service) Verify(token string) (coretypes.Token, error) {
	c, err := verify(s.secret, token)
	if err != nil {
		return coretypes.Token{}, err
	}
	t := toCoreToken(c)
	if t.Expired(s.now()) {
		return coretypes.Token{}, corefault.New(corefault.Unauthenticated, "token expired at %s", t.ExpiresAt)
	}
	return t, nil
}

// CheckPrivilegeIn fails with PermissionDenied unless tok's privilege is in
// allowed (spec §4.4's check_privilege_in).
func (s *Service) CheckPrivilegeIn(tok coretypes.Token, allowed ...coretypes.Privilege) error {
	for _, p := range allowed {
		if tok.Privilege == p {
			return nil
		}
	}
	return corefault.New(corefault.PermissionDenied, "privilege %s not permitted here", tok.Privilege)
}

// CheckSubject additionally requires, for user-privileged callers, that
// the token's subject matches subjectUserID (spec §4.4).
func (s *Service) CheckSubject(tok coretypes.Token, subjectUserID string) error {
	if tok.Privilege == coretypes.PrivilegeHost {
		return nil
	}
	if tok.UserID != subjectUserID {
		return corefault.New(corefault.PermissionDenied, "token subject %s does not match %s", tok.UserID, subjectUserID)
	}
	return nil
}

func (s *Service) issue(userID string, privilege coretypes.Privilege, ttl time.Duration) (string, error) {
	now := s.now()
	return mint(s.secret, claims{
		UserID:    userID,
		Privilege: string(privilege),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})
}

// IssueHostToken mints a host-privileged token, used at bootstrap
// (print_host_token) and internally wherever the core must act with full
// privilege (e.g. KV reads under the host namespace).
func (s *Service) IssueHostToken(ttl time.Duration) (string, error) {
	return s.issue(coretypes.HostSubject, coretypes.PrivilegeHost, ttl)
}

// IssueUserToken mints a user-privileged token for userID, used internally
// after import_user and when launching protocol operator instances.
func (s *Service) IssueUserToken(userID string, ttl time.Duration) (string, error) {
	return s.issue(userID, coretypes.PrivilegeUser, ttl)
}

// GenerateToken refreshes existingToken: same user_id, a new expiry, and a
// privilege that is the caller's own or narrower (spec §4.4).
func (s *Service) GenerateToken(existingToken string, privilege coretypes.Privilege, expiry time.Time) (string, error) {
	tok, err := s.Verify(existingToken)
	if err != nil {
		return "", err
	}
	if !narrowerOrEqual(privilege, tok.Privilege) {
		return "", corefault.New(corefault.PermissionDenied, "cannot widen privilege from %s to %s", tok.Privilege, privilege)
	}
	now := s.now()
	ttl := expiry.Sub(now)
	if ttl <= 0 {
		return "", corefault.New(corefault.InvalidArgument, "expiry %s is not in the future", expiry)
	}
	return mint(s.secret, claims{
		UserID:    tok.UserID,
		Privilege: string(privilege),
		IssuedAt:  now.Unix(),
		ExpiresAt: expiry.Unix(),
	})
}

// ImportUser accepts a consent signed by the user's private key pledging
// trust to this core, verifies it, adds the user to the imported-users
// set, provisions an MQ account, and returns a fresh user token.
// Idempotent on re-import: it does not fail, it just returns a new token.
func (s *Service) ImportUser(consent UserConsent) (string, error) {
	if consent.CorePubKey != identity.PublicKeyID(s.corePub) {
		return "", corefault.New(corefault.InvalidArgument, "consent is not pledged to this core")
	}
	if s.now().After(consent.Expiry) {
		return "", corefault.New(corefault.Unauthenticated, "consent has expired")
	}
	pub, err := identity.ParsePublicKey(consent.UserID)
	if err != nil {
		return "", corefault.Wrap(corefault.InvalidArgument, err, "invalid user_id")
	}
	if !identity.Verify(pub, consent.canonical(), consent.Signature) {
		return "", corefault.New(corefault.Unauthenticated, "consent signature does not match user_id")
	}

	s.mu.Lock()
	_, already := s.imported[consent.UserID]
	s.imported[consent.UserID] = struct{}{}
	s.mu.Unlock()

	if !already {
		if _, err := s.mq.CreateAccount(consent.UserID); err != nil {
			return "", corefault.Wrap(corefault.Unavailable, err, "provision mq account for %s", consent.UserID)
		}
	}

	return s.IssueUserToken(consent.UserID, 24*time.Hour)
}

// IsImported reports whether userID has a consent on file, used by the
// task state machine to reject decisions from unknown signers (spec §4.5).
func (s *Service) IsImported(userID string) bool {
	if userID == s.hostID {
		return true // the core's own bootstrapped identity is always known
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.imported[userID]
	return ok
}
