package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	t.Parallel()

	h, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", h)

	assert.True(t, CheckPassword(h, "s3cret"))
	assert.False(t, CheckPassword(h, "wrong"))
	assert.False(t, CheckPassword("not-a-hash", "s3cret"))
}

func TestProofVerification(t *testing.T) {
	t.Parallel()

	key := []byte("shared-edge-key")
	proof := Proof(key, "some.access.token")

	assert.True(t, VerifyProof(key, "some.access.token", proof))
	assert.False(t, VerifyProof(key, "another.token", proof))
	assert.False(t, VerifyProof([]byte("other-key"), "some.access.token", proof))
	assert.False(t, VerifyProof(key, "some.access.token", "not-hex!"))
	assert.False(t, VerifyProof(key, "some.access.token", ""))
}

func TestProofIsDeterministic(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	assert.Equal(t, Proof(key, "m"), Proof(key, "m"))
	assert.NotEqual(t, Proof(key, "m"), Proof(key, "n"))
}
