package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSignVerifyRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	msg := []byte("pledge core_pub_key|expiry")
	sig := kp.Sign(msg)

	assert.True(t, Verify(kp.Pub, msg, sig))
}

func TestVerifyRejectsWrongKeyOrTamperedMessage(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	msg := []byte("original message")
	sig := alice.Sign(msg)

	assert.False(t, Verify(bob.Pub, msg, sig), "a signature must not verify under an unrelated public key")
	assert.False(t, Verify(alice.Pub, []byte("tampered message"), sig), "a signature must not verify over a different message")
}

func TestFromHexRoundTripsThroughSecretHexAndID(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	reloaded, err := FromHex(kp.SecretHex())
	require.NoError(t, err)
	assert.Equal(t, kp.ID(), reloaded.ID())
}

func TestParsePublicKeyRoundTripsWithID(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	pub, err := ParsePublicKey(kp.ID())
	require.NoError(t, err)
	assert.Equal(t, kp.ID(), PublicKeyID(pub))
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	_, err := FromHex("abcd")
	assert.Error(t, err)
}

func TestRandomSecretIsNonDeterministic(t *testing.T) {
	a, err := RandomSecret()
	require.NoError(t, err)
	b, err := RandomSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
