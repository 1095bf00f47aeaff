package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkg_hash "github.com/dkoroteev/socialnet/pkg/hash"
	"github.com/dkoroteev/socialnet/pkg/logging"
	"github.com/dkoroteev/socialnet/pkg/tokens"
	"github.com/dkoroteev/socialnet/services/session/internal/models"
	"github.com/dkoroteev/socialnet/services/session/internal/repo"
)

// Notifier is the operator notification sink. Fire-and-forget: the service
// logs failures and moves on.
type Notifier interface {
	Notify(ctx context.Context, operatorEmail, message string) error
}

// AuditSink receives security events for out-of-band investigation.
type AuditSink interface {
	IndexBlockEvent(ctx context.Context, userID uint, username string, sessionIDs []string, reason string, at time.Time)
}

// TokenPair is what a successful login or refresh hands back to the edge.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionService owns the session state machine: it is the only writer of
// session rows outside the janitor. Safe for concurrent use; the single
// ACTIVE-session invariant is enforced after the fact (block-on-detection)
// rather than with locks, so two racing logins both end blocked instead of
// one silently winning.
type SessionService struct {
	Sessions *repo.SessionRepo
	Users    *repo.UserRepo
	Codec    *tokens.Codec
	Notifier Notifier
	Audit    AuditSink

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ProofKey is shared with edge filters; it keys the possession proof on
	// the access-only refresh path.
	ProofKey []byte

	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateSession logs a user in. Any pre-existing ACTIVE session is itself the
// anomaly: everything active gets blocked, operators are notified, and the
// login fails. A user with a BLOCKED session cannot log in at all.
func (s *SessionService) CreateSession(ctx context.Context, userID uint, username string, role tokens.Role) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "session.create", "user_id", userID)

	blocked, err := s.Sessions.ByUserAndStatus(ctx, userID, models.StatusBlocked)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(blocked) > 0 {
		l.Warn("login_rejected", "reason", "blocked sessions exist")
		return nil, ErrSessionsBlocked
	}

	active, err := s.Sessions.ByUserAndStatus(ctx, userID, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(active) > 0 {
		s.blockAll(ctx, userID, username, active, "second login while a session is active")
		return nil, ErrConcurrentSession
	}

	now := s.now()
	pair, err := s.issuePair(username, role, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	session := models.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		CreatedAt:        now,
		LastActivityAt:   now,
		Status:           models.StatusActive,
		StatusChangedAt:  now,
	}
	if err := s.Sessions.Create(ctx, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	l.Info("session_created", "session_id", session.ID)
	return pair, nil
}

// RefreshTokens is the full refresh-token exchange. The access token is
// always rotated; the refresh token only when it has outlived its own
// expiry. A stolen refresh token used alongside the legitimate one surfaces
// here as >1 ACTIVE session and blocks them all.
func (s *SessionService) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "session.refresh")

	session, err := s.Sessions.ByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if session.Status != models.StatusActive {
		return nil, ErrSessionNotActive
	}

	active, err := s.Sessions.ByUserAndStatus(ctx, session.UserID, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(active) > 1 {
		user, _ := s.Users.ByID(ctx, session.UserID)
		username := ""
		if user != nil {
			username = user.Username
		}
		s.blockAll(ctx, session.UserID, username, active, "refresh observed more than one active session")
		return nil, ErrConcurrentSession
	}

	user, err := s.Users.ByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	role, err := tokens.ParseRole(user.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now()
	newAccess, err := s.Codec.Issue(user.Username, role, tokens.AudienceUser, s.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	changes := map[string]any{
		"access_token":      newAccess,
		"access_expires_at": now.Add(s.AccessTTL),
		"last_activity_at":  now,
	}
	pair := &TokenPair{
		AccessToken:      newAccess,
		AccessExpiresAt:  now.Add(s.AccessTTL),
		RefreshToken:     session.RefreshToken,
		RefreshExpiresAt: session.RefreshExpiresAt,
	}

	if !now.Before(session.RefreshExpiresAt) {
		newRefresh, err := s.Codec.Issue(user.Username, role, tokens.AudienceUser, s.RefreshTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		changes["refresh_token"] = newRefresh
		changes["refresh_expires_at"] = now.Add(s.RefreshTTL)
		pair.RefreshToken = newRefresh
		pair.RefreshExpiresAt = now.Add(s.RefreshTTL)
		l.Info("refresh_token_rotated", "session_id", session.ID)
	}

	ok, err := s.Sessions.UpdateIfStatus(ctx, session.ID, models.StatusActive, changes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		// Blocked or deactivated mid-refresh; the old tokens stay dead.
		return nil, ErrSessionNotActive
	}

	l.Info("access_token_rotated", "session_id", session.ID)
	return pair, nil
}

// RefreshAccessTokenOnly is the narrow edge path: a dying access token plus
// a possession proof buys a fresh access token, with only an identity and
// block-status check. Every failure collapses to ErrUnauthorized; callers
// learn nothing about which check tripped.
func (s *SessionService) RefreshAccessTokenOnly(ctx context.Context, expiredAccess, proof string) (string, error) {
	l := logging.FromContext(ctx).With("svc", "session.refresh_access")

	if !pkg_hash.VerifyProof(s.ProofKey, expiredAccess, proof) {
		l.Warn("refresh_rejected", "reason", "bad proof")
		return "", ErrUnauthorized
	}

	claims, err := s.Codec.DecodeExpired(expiredAccess, tokens.AudienceUser)
	if err != nil {
		l.Warn("refresh_rejected", "reason", "token not authentic")
		return "", ErrUnauthorized
	}

	user, err := s.Users.FindUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user.IsBlocked {
		return "", ErrUnauthorized
	}
	blocked, err := s.Sessions.ByUserAndStatus(ctx, user.ID, models.StatusBlocked)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(blocked) > 0 {
		return "", ErrUnauthorized
	}

	now := s.now()
	newAccess, err := s.Codec.Issue(claims.Subject, claims.Role, tokens.AudienceUser, s.AccessTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Keep the stored row in step when one matches, so the active check and
	// token uniqueness hold for the replacement. Best effort: the path stays
	// valid even without a row.
	if session, err := s.Sessions.ByAccessToken(ctx, expiredAccess); err == nil {
		_, uerr := s.Sessions.UpdateIfStatus(ctx, session.ID, models.StatusActive, map[string]any{
			"access_token":      newAccess,
			"access_expires_at": now.Add(s.AccessTTL),
			"last_activity_at":  now,
		})
		if uerr != nil {
			l.Warn("session_row_update_failed", "session_id", session.ID, "error", uerr)
		}
	}

	l.Info("access_token_reissued", "username", claims.Subject)
	return newAccess, nil
}

// IsSessionActive is the read-only gate edge services consult on every
// request. It never fails outward: anything but a clean ACTIVE row is false.
func (s *SessionService) IsSessionActive(ctx context.Context, accessToken string) bool {
	session, err := s.Sessions.ByAccessToken(ctx, accessToken)
	if err != nil {
		return false
	}
	return session.Status == models.StatusActive
}

// Deactivate is explicit logout by access token.
func (s *SessionService) Deactivate(ctx context.Context, accessToken string) error {
	l := logging.FromContext(ctx).With("svc", "session.deactivate")

	session, err := s.Sessions.ByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if session.Status != models.StatusActive {
		return ErrAlreadyInactive
	}

	now := s.now()
	ok, err := s.Sessions.UpdateIfStatus(ctx, session.ID, models.StatusActive, map[string]any{
		"status":            models.StatusInactive,
		"status_changed_at": now,
		"last_activity_at":  now,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return ErrAlreadyInactive
	}

	l.Info("session_deactivated", "session_id", session.ID)
	return nil
}

// TouchActivity bumps the activity timestamp of the user's ACTIVE session.
// Called by anything that proves the user is alive; the NoActiveSession
// failure is expected and non-fatal to the caller's own operation.
func (s *SessionService) TouchActivity(ctx context.Context, userID uint) error {
	active, err := s.Sessions.ByUserAndStatus(ctx, userID, models.StatusActive)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(active) == 0 {
		return ErrNoActiveSession
	}

	now := s.now()
	for _, session := range active {
		if _, err := s.Sessions.UpdateIfStatus(ctx, session.ID, models.StatusActive, map[string]any{
			"last_activity_at": now,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (s *SessionService) issuePair(username string, role tokens.Role, now time.Time) (*TokenPair, error) {
	access, err := s.Codec.Issue(username, role, tokens.AudienceUser, s.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Codec.Issue(username, role, tokens.AudienceUser, s.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.AccessTTL),
		RefreshExpiresAt: now.Add(s.RefreshTTL),
	}, nil
}

// blockAll transitions every given session to BLOCKED, then notifies the
// operator accounts and indexes the audit event. The transitions happen
// before the caller ever sees ErrConcurrentSession, so the side effect holds
// even if the error is swallowed. No attempt is made to keep a "legitimate"
// session: on anomaly everything goes.
func (s *SessionService) blockAll(ctx context.Context, userID uint, username string, sessions []models.Session, reason string) {
	l := logging.FromContext(ctx).With("svc", "session.block", "user_id", userID)
	now := s.now()

	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		ok, err := s.Sessions.UpdateIfStatus(ctx, session.ID, models.StatusActive, map[string]any{
			"status":            models.StatusBlocked,
			"status_changed_at": now,
		})
		if err != nil {
			l.Error("block_failed", "session_id", session.ID, "error", err)
			continue
		}
		if ok {
			ids = append(ids, session.ID)
		}
	}
	l.Warn("sessions_blocked", "reason", reason, "count", len(ids))

	msg := fmt.Sprintf("concurrent session anomaly for user %q (id %d): %s; %d session(s) blocked", username, userID, reason, len(ids))
	s.notifyOperators(ctx, msg)
	if s.Audit != nil {
		s.Audit.IndexBlockEvent(ctx, userID, username, ids, reason, now)
	}
}

func (s *SessionService) notifyOperators(ctx context.Context, message string) {
	l := logging.FromContext(ctx).With("svc", "session.notify")
	if s.Notifier == nil {
		return
	}
	operators, err := s.Users.Operators(ctx)
	if err != nil {
		l.Error("operator_lookup_failed", "error", err)
		return
	}
	for _, op := range operators {
		if op.Email == "" {
			continue
		}
		if err := s.Notifier.Notify(ctx, op.Email, message); err != nil {
			l.Error("notify_failed", "operator", op.Email, "error", err)
		}
	}
}
