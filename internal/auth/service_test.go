package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/identity"
	"github.com/colink-dev/colink-core/internal/mq"
)

func newTestService(t *testing.T) (*Service, *identity.KeyPair) {
	t.Helper()
	core, err := identity.Generate()
	require.NoError(t, err)
	secret, err := identity.RandomSecret()
	require.NoError(t, err)
	return NewService(secret, core.ID(), core.Pub, mq.NewLocal()), core
}

// TestTokenRefreshThenExpiredTokenIsUnauthenticated is spec §8 end-to-end
// scenario #1: a refreshed token with a short expiry is usable before it
// elapses and rejected as Unauthenticated afterward.
func TestTokenRefreshThenExpiredTokenIsUnauthenticated(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Now()
	svc.now = func() time.Time { return now }

	hostTok, err := svc.IssueHostToken(time.Hour)
	require.NoError(t, err)

	refreshed, err := svc.GenerateToken(hostTok, coretypes.PrivilegeUser, now.Add(60*time.Second))
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(30 * time.Second) }
	tok, err := svc.Verify(refreshed)
	require.NoError(t, err)
	assert.Equal(t, coretypes.PrivilegeUser, tok.Privilege)

	svc.now = func() time.Time { return now.Add(120 * time.Second) }
	_, err = svc.Verify(refreshed)
	assert.Error(t, err)
}

func TestGenerateTokenRejectsWideningPrivilege(t *testing.T) {
	svc, _ := newTestService(t)

	userTok, err := svc.IssueUserToken("alice", time.Hour)
	require.NoError(t, err)

	_, err = svc.GenerateToken(userTok, coretypes.PrivilegeHost, time.Now().Add(time.Hour))
	assert.Error(t, err, "a user token must not be able to mint a host-privileged token")
}

func TestGenerateTokenRejectsNonFutureExpiry(t *testing.T) {
	svc, _ := newTestService(t)

	hostTok, err := svc.IssueHostToken(time.Hour)
	require.NoError(t, err)

	_, err = svc.GenerateToken(hostTok, coretypes.PrivilegeHost, time.Now().Add(-time.Minute))
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, _ := newTestService(t)

	tok, err := svc.IssueUserToken("alice", time.Hour)
	require.NoError(t, err)

	tampered := tok[:len(tok)-1] + "x"
	_, err = svc.Verify(tampered)
	assert.Error(t, err)
}

func TestCheckSubjectAllowsHostAnyoneButRequiresUserMatch(t *testing.T) {
	svc, _ := newTestService(t)

	hostTok := coretypes.Token{UserID: coretypes.HostSubject, Privilege: coretypes.PrivilegeHost}
	assert.NoError(t, svc.CheckSubject(hostTok, "anyone"))

	userTok := coretypes.Token{UserID: "alice", Privilege: coretypes.PrivilegeUser}
	assert.NoError(t, svc.CheckSubject(userTok, "alice"))
	assert.Error(t, svc.CheckSubject(userTok, "bob"))
}

func TestCheckPrivilegeIn(t *testing.T) {
	svc, _ := newTestService(t)

	tok := coretypes.Token{Privilege: coretypes.PrivilegeUser}
	assert.NoError(t, svc.CheckPrivilegeIn(tok, coretypes.PrivilegeUser, coretypes.PrivilegeHost))
	assert.Error(t, svc.CheckPrivilegeIn(tok, coretypes.PrivilegeHost))
}

// TestImportUserVerifiesConsentSignatureAndProvisionsOnce exercises the
// import_user flow: signature verification against the claimed user_id,
// idempotent re-import, and imported-set membership.
func TestImportUserVerifiesConsentSignatureAndProvisionsOnce(t *testing.T) {
	svc, core := newTestService(t)
	user, err := identity.Generate()
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour)
	consent := UserConsent{UserID: user.ID(), CorePubKey: core.ID(), Expiry: expiry}
	consent.Signature = user.Sign(consent.canonical())

	assert.False(t, svc.IsImported(user.ID()))

	now := time.Now()
	svc.now = func() time.Time { return now }
	tok1, err := svc.ImportUser(consent)
	require.NoError(t, err)
	assert.True(t, svc.IsImported(user.ID()))

	// Tokens carry whole-second timestamps, so move the clock on by one
	// second: a freshly minted token then differs from the first one.
	svc.now = func() time.Time { return now.Add(time.Second) }
	tok2, err := svc.ImportUser(consent)
	require.NoError(t, err, "re-import of an already-imported user must succeed, not fail")
	assert.NotEqual(t, tok1, tok2, "re-import issues a fresh token rather than replaying the old one")
}

func TestImportUserRejectsSignatureFromWrongUser(t *testing.T) {
	svc, core := newTestService(t)
	user, err := identity.Generate()
	require.NoError(t, err)
	impostor, err := identity.Generate()
	require.NoError(t, err)

	consent := UserConsent{UserID: user.ID(), CorePubKey: core.ID(), Expiry: time.Now().Add(time.Hour)}
	consent.Signature = impostor.Sign(consent.canonical())

	_, err = svc.ImportUser(consent)
	assert.Error(t, err)
	assert.False(t, svc.IsImported(user.ID()))
}

func TestImportUserRejectsConsentNotPledgedToThisCore(t *testing.T) {
	svc, _ := newTestService(t)
	otherCore, err := identity.Generate()
	require.NoError(t, err)
	user, err := identity.Generate()
	require.NoError(t, err)

	consent := UserConsent{UserID: user.ID(), CorePubKey: otherCore.ID(), Expiry: time.Now().Add(time.Hour)}
	consent.Signature = user.Sign(consent.canonical())

	_, err = svc.ImportUser(consent)
	assert.Error(t, err)
}

func TestImportUserRejectsExpiredConsent(t *testing.T) {
	svc, core := newTestService(t)
	user, err := identity.Generate()
	require.NoError(t, err)

	consent := UserConsent{UserID: user.ID(), CorePubKey: core.ID(), Expiry: time.Now().Add(-time.Minute)}
	consent.Signature = user.Sign(consent.canonical())

	_, err = svc.ImportUser(consent)
	assert.Error(t, err)
}

func TestIsImportedAlwaysTrueForHostID(t *testing.T) {
	svc, core := newTestService(t)
	assert.True(t, svc.IsImported(core.ID()))
}
