package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	pkg_hash "github.com/dkoroteev/socialnet/pkg/hash"
	"github.com/dkoroteev/socialnet/pkg/tokens"
	"github.com/dkoroteev/socialnet/services/session/internal/models"
	"github.com/dkoroteev/socialnet/services/session/internal/repo"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) Notify(_ context.Context, operatorEmail, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, operatorEmail+": "+message)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAudit struct {
	mu     sync.Mutex
	events int
}

func (f *fakeAudit) IndexBlockEvent(_ context.Context, _ uint, _ string, _ []string, _ string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events++
}

type testEnv struct {
	DB       *gorm.DB
	Svc      *SessionService
	Notifier *fakeNotifier
	Audit    *fakeAudit
	Alice    models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Session{}))

	keys := tokens.NewKeyRegistry()
	keys.Register(tokens.AudienceUser, []byte("test-jwt-secret"))
	keys.Register(tokens.AudienceInterService, []byte("test-service-secret"))

	notifier := &fakeNotifier{}
	auditSink := &fakeAudit{}

	svc := &SessionService{
		Sessions:   &repo.SessionRepo{DB: db},
		Users:      &repo.UserRepo{DB: db},
		Codec:      tokens.NewCodec(keys, "socialnet-session"),
		Notifier:   notifier,
		Audit:      auditSink,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ProofKey:   []byte("test-proof-secret"),
	}

	alice := models.User{Username: "alice", PasswordHash: "x", Role: "user"}
	require.NoError(t, db.Create(&alice).Error)
	operator := models.User{Username: "ops", PasswordHash: "x", Role: "admin", Email: "ops@example.com"}
	require.NoError(t, db.Create(&operator).Error)

	return &testEnv{DB: db, Svc: svc, Notifier: notifier, Audit: auditSink, Alice: alice}
}

func (env *testEnv) sessionByID(t *testing.T, id string) *models.Session {
	t.Helper()
	var s models.Session
	require.NoError(t, env.DB.Where("id = ?", id).First(&s).Error)
	return &s
}

func (env *testEnv) soleSession(t *testing.T) *models.Session {
	t.Helper()
	var out []models.Session
	require.NoError(t, env.DB.Find(&out).Error)
	require.Len(t, out, 1)
	return &out[0]
}

func TestCreateSession_Success(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	s := env.soleSession(t)
	assert.Equal(t, models.StatusActive, s.Status)
	assert.Equal(t, env.Alice.ID, s.UserID)
	assert.Equal(t, pair.AccessToken, s.AccessToken)
	assert.True(t, s.RefreshExpiresAt.After(s.AccessExpiresAt))
}

func TestCreateSession_SecondLoginBlocksFirst(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)
	first := env.soleSession(t)

	_, err = env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.ErrorIs(t, err, ErrConcurrentSession)

	assert.Equal(t, models.StatusBlocked, env.sessionByID(t, first.ID).Status)
	assert.Equal(t, 1, env.Notifier.count())
	assert.Equal(t, 1, env.Audit.events)
}

func TestCreateSession_ConcurrentLoginsLeaveAtMostOneActive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	// One in-memory database for both goroutines.
	sqlDB, err := env.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	var wg sync.WaitGroup
	pairs := make([]*TokenPair, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			pairs[i], errs[i] = env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
		}()
	}
	wg.Wait()

	countActive := func() int64 {
		var n int64
		require.NoError(t, env.DB.Model(&models.Session{}).
			Where("status = ?", models.StatusActive).Count(&n).Error)
		return n
	}

	// Racing logins may interleave past each other's checks. Whatever the
	// interleaving, the system must not settle with two honored sessions:
	// either at most one row is ACTIVE now, or the very next refresh
	// detects the anomaly and blocks everything.
	if active := countActive(); active > 1 {
		var refresh string
		for i := range pairs {
			if errs[i] == nil {
				refresh = pairs[i].RefreshToken
				break
			}
		}
		require.NotEmpty(t, refresh)
		_, err := env.Svc.RefreshTokens(ctx, refresh)
		require.ErrorIs(t, err, ErrConcurrentSession)
		assert.Zero(t, countActive())
	} else {
		assert.LessOrEqual(t, active, int64(1))
	}
}

func TestCreateSession_BlockedUserCannotLogin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)
	s := env.soleSession(t)
	require.NoError(t, env.DB.Model(&models.Session{}).Where("id = ?", s.ID).
		Update("status", models.StatusBlocked).Error)

	_, err = env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	assert.ErrorIs(t, err, ErrSessionsBlocked)
}

func TestRefreshTokens_RotatesAccessKeepsRefresh(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)

	refreshed, err := env.Svc.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)
	assert.Equal(t, pair.RefreshToken, refreshed.RefreshToken)

	s := env.soleSession(t)
	assert.Equal(t, models.StatusActive, s.Status)
	assert.Equal(t, refreshed.AccessToken, s.AccessToken)
	// The replaced access token must never validate again.
	assert.False(t, env.Svc.IsSessionActive(ctx, pair.AccessToken))
	assert.True(t, env.Svc.IsSessionActive(ctx, refreshed.AccessToken))
}

func TestRefreshTokens_ExpiredRefreshRotatesBoth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)
	s := env.soleSession(t)
	require.NoError(t, env.DB.Model(&models.Session{}).Where("id = ?", s.ID).
		Update("refresh_expires_at", time.Now().UTC().Add(-time.Hour)).Error)

	refreshed, err := env.Svc.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, refreshed.RefreshToken)
	assert.True(t, refreshed.RefreshExpiresAt.After(time.Now().UTC()))
	assert.True(t, refreshed.AccessExpiresAt.After(time.Now().UTC()))
	assert.Equal(t, models.StatusActive, env.sessionByID(t, s.ID).Status)
}

func TestRefreshTokens_ValidationErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.Svc.RefreshTokens(ctx, "unknown-token")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)
	require.NoError(t, env.Svc.Deactivate(ctx, pair.AccessToken))

	_, err = env.Svc.RefreshTokens(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestRefreshTokens_HijackBlocksEverything(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)
	legit := env.soleSession(t)

	// A second ACTIVE row for the same user: the state a race or a stolen
	// refresh token leaves behind.
	now := time.Now().UTC()
	intruder := models.Session{
		ID:               "intruder-session",
		UserID:           env.Alice.ID,
		AccessToken:      "intruder-access",
		RefreshToken:     "intruder-refresh",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshExpiresAt: now.Add(24 * time.Hour),
		CreatedAt:        now,
		LastActivityAt:   now,
		Status:           models.StatusActive,
		StatusChangedAt:  now,
	}
	require.NoError(t, env.DB.Create(&intruder).Error)

	_, err = env.Svc.RefreshTokens(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrConcurrentSession)

	// The conservative policy: both sessions go, the legitimate one included.
	assert.Equal(t, models.StatusBlocked, env.sessionByID(t, legit.ID).Status)
	assert.Equal(t, models.StatusBlocked, env.sessionByID(t, intruder.ID).Status)
	assert.Equal(t, 1, env.Notifier.count())
}

func TestDeactivate_Idempotence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)

	require.NoError(t, env.Svc.Deactivate(ctx, pair.AccessToken))
	s := env.soleSession(t)
	require.Equal(t, models.StatusInactive, s.Status)

	err = env.Svc.Deactivate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrAlreadyInactive)
	assert.Equal(t, models.StatusInactive, env.sessionByID(t, s.ID).Status)

	err = env.Svc.Deactivate(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIsSessionActive_NeverErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	assert.False(t, env.Svc.IsSessionActive(ctx, "no-such-token"))

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)
	assert.True(t, env.Svc.IsSessionActive(ctx, pair.AccessToken))

	require.NoError(t, env.Svc.Deactivate(ctx, pair.AccessToken))
	assert.False(t, env.Svc.IsSessionActive(ctx, pair.AccessToken))
}

func TestTouchActivity(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	err := env.Svc.TouchActivity(ctx, env.Alice.ID)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)
	before := env.soleSession(t).LastActivityAt

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, env.Svc.TouchActivity(ctx, env.Alice.ID))
	after := env.soleSession(t).LastActivityAt
	assert.True(t, after.After(before))
}

func TestRefreshAccessTokenOnly(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)

	proof := pkg_hash.Proof(env.Svc.ProofKey, pair.AccessToken)
	fresh, err := env.Svc.RefreshAccessTokenOnly(ctx, pair.AccessToken, proof)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)
	assert.NotEqual(t, pair.AccessToken, fresh)

	// The row follows the rotation: old token dead, new one honored.
	assert.False(t, env.Svc.IsSessionActive(ctx, pair.AccessToken))
	assert.True(t, env.Svc.IsSessionActive(ctx, fresh))
}

func TestRefreshAccessTokenOnly_Unauthorized(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.Svc.CreateSession(ctx, env.Alice.ID, "alice", tokens.RoleUser)
	require.NoError(t, err)

	tests := []struct {
		name  string
		setup func(t *testing.T)
		token string
		proof string
	}{
		{
			name:  "wrong proof",
			token: pair.AccessToken,
			proof: pkg_hash.Proof([]byte("not-the-edge-key"), pair.AccessToken),
		},
		{
			name:  "proof for another token",
			token: pair.AccessToken,
			proof: pkg_hash.Proof(env.Svc.ProofKey, "some-other-token"),
		},
		{
			name:  "forged token",
			token: "forged.token.value",
			proof: pkg_hash.Proof(env.Svc.ProofKey, "forged.token.value"),
		},
		{
			name: "blocked user",
			setup: func(t *testing.T) {
				require.NoError(t, env.DB.Model(&models.Session{}).
					Where("user_id = ?", env.Alice.ID).
					Update("status", models.StatusBlocked).Error)
			},
			token: pair.AccessToken,
			proof: pkg_hash.Proof(env.Svc.ProofKey, pair.AccessToken),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(t)
			}
			_, err := env.Svc.RefreshAccessTokenOnly(ctx, tt.token, tt.proof)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}
