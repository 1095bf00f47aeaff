package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	keys := NewKeyRegistry()
	keys.Register(AudienceUser, []byte("test-user-secret"))
	keys.Register(AudienceInterService, []byte("test-service-secret"))
	return NewCodec(keys, "socialnet-session")
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCodec()
	token, err := c.Issue("alice", RoleUser, AudienceUser, 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := c.Verify(token, AudienceUser)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, RoleUser, claims.Role)
	assert.Equal(t, "socialnet-session", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, 2*time.Second)
}

func TestCodec_IssuedTokensAreUnique(t *testing.T) {
	t.Parallel()

	c := newTestCodec()
	a, err := c.Issue("alice", RoleUser, AudienceUser, time.Minute)
	require.NoError(t, err)
	b, err := c.Issue("alice", RoleUser, AudienceUser, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCodec_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	c := newTestCodec()
	// Zero TTL: expiresAt == now at verification time, which must already
	// count as expired.
	token, err := c.Issue("alice", RoleUser, AudienceUser, 0)
	require.NoError(t, err)

	_, err = c.Verify(token, AudienceUser)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCodec_FailureTaxonomy(t *testing.T) {
	t.Parallel()

	c := newTestCodec()

	_, err := c.Verify("not-a-token", AudienceUser)
	assert.ErrorIs(t, err, ErrMalformed)

	other := NewCodec(func() *KeyRegistry {
		r := NewKeyRegistry()
		r.Register(AudienceUser, []byte("some-other-secret"))
		return r
	}(), "socialnet-session")
	forged, err := other.Issue("alice", RoleUser, AudienceUser, time.Minute)
	require.NoError(t, err)
	_, err = c.Verify(forged, AudienceUser)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestCodec_AudiencesNeverCrossValidate(t *testing.T) {
	t.Parallel()

	c := newTestCodec()

	userToken, err := c.Issue("alice", RoleUser, AudienceUser, time.Minute)
	require.NoError(t, err)
	_, err = c.Verify(userToken, AudienceInterService)
	require.Error(t, err)

	svcToken, err := c.IssueService("feed-service", time.Minute)
	require.NoError(t, err)
	_, err = c.Verify(svcToken, AudienceUser)
	require.Error(t, err)

	claims, err := c.Verify(svcToken, AudienceInterService)
	require.NoError(t, err)
	assert.Equal(t, RoleService, claims.Role)
	assert.Equal(t, "feed-service", claims.Subject)
}

func TestCodec_DecodeExpired(t *testing.T) {
	t.Parallel()

	c := newTestCodec()
	token, err := c.Issue("alice", RoleAdmin, AudienceUser, -time.Minute)
	require.NoError(t, err)

	_, err = c.Verify(token, AudienceUser)
	require.ErrorIs(t, err, ErrExpired)

	claims, err := c.DecodeExpired(token, AudienceUser)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)

	// Expired or not, a token from another family stays rejected.
	svcToken, err := c.IssueService("feed-service", -time.Minute)
	require.NoError(t, err)
	_, err = c.DecodeExpired(svcToken, AudienceUser)
	require.Error(t, err)
}

func TestClaims_NearExpiry(t *testing.T) {
	t.Parallel()

	c := newTestCodec()

	token, err := c.Issue("alice", RoleUser, AudienceUser, 10*time.Minute)
	require.NoError(t, err)
	claims, err := c.Verify(token, AudienceUser)
	require.NoError(t, err)

	assert.False(t, claims.NearExpiry(5*time.Minute))
	assert.True(t, claims.NearExpiry(15*time.Minute))
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"user", "admin", "service"} {
		r, err := ParseRole(ok)
		require.NoError(t, err)
		assert.Equal(t, Role(ok), r)
	}

	_, err := ParseRole("superuser")
	require.Error(t, err)
	_, err = ParseRole("")
	require.Error(t, err)
}
