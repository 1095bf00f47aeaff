package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/dkoroteev/socialnet/services/session/internal/models"
)

var ErrNotFound = errors.New("record not found")

// SessionRepo is the persistence port for sessions: CRUD plus the three
// query shapes the lifecycle manager needs. No business logic lives here.
type SessionRepo struct {
	DB *gorm.DB
}

func (r *SessionRepo) Create(ctx context.Context, s *models.Session) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

func (r *SessionRepo) ByAccessToken(ctx context.Context, token string) (*models.Session, error) {
	var s models.Session
	if err := r.DB.WithContext(ctx).Where("access_token = ?", token).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepo) ByRefreshToken(ctx context.Context, token string) (*models.Session, error) {
	var s models.Session
	if err := r.DB.WithContext(ctx).Where("refresh_token = ?", token).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepo) ByUserAndStatus(ctx context.Context, userID uint, status models.SessionStatus) ([]models.Session, error) {
	var out []models.Session
	if err := r.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, status).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateIfStatus applies changes to the session only while its status is
// still expect. Returns false when a concurrent transition got there first;
// callers decide whether that is an error or just a lost race.
func (r *SessionRepo) UpdateIfStatus(ctx context.Context, id string, expect models.SessionStatus, changes map[string]any) (bool, error) {
	res := r.DB.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status = ?", id, expect).
		Updates(changes)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Janitor candidate queries. Each sweep selects its rows and then transitions
// them one by one through UpdateIfStatus / DeleteIfRevoked, so a row that
// fails or races away never aborts the batch.

func (r *SessionRepo) ListIdleActive(ctx context.Context, idleBefore time.Time) ([]models.Session, error) {
	var out []models.Session
	if err := r.DB.WithContext(ctx).
		Where("status = ? AND last_activity_at < ?", models.StatusActive, idleBefore).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SessionRepo) ListInactiveBefore(ctx context.Context, changedBefore time.Time) ([]models.Session, error) {
	var out []models.Session
	if err := r.DB.WithContext(ctx).
		Where("status = ? AND status_changed_at < ?", models.StatusInactive, changedBefore).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SessionRepo) ListRevokedBefore(ctx context.Context, changedBefore time.Time) ([]models.Session, error) {
	var out []models.Session
	if err := r.DB.WithContext(ctx).
		Where("status = ? AND status_changed_at < ?", models.StatusRevoked, changedBefore).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteIfRevoked physically removes the session, but only while it is still
// REVOKED. Returns false if the row is gone or changed state meanwhile.
func (r *SessionRepo) DeleteIfRevoked(ctx context.Context, id string) (bool, error) {
	res := r.DB.WithContext(ctx).
		Where("id = ? AND status = ?", id, models.StatusRevoked).
		Delete(&models.Session{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
