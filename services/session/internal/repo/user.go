package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dkoroteev/socialnet/services/session/internal/models"
)

var ErrUserAlreadyExist = errors.New("user already exist")

// UserRepo is the user-directory collaborator: lookups only, plus the
// registration write the async consumer needs.
type UserRepo struct {
	DB *gorm.DB
}

func (r *UserRepo) FindUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) ByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) CreateIfNotExists(ctx context.Context, u *models.User) error {
	tx := r.DB.WithContext(ctx).Where("username = ?", u.Username).FirstOrCreate(u)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrUserAlreadyExist
	}
	return nil
}

// Operators returns the admin accounts that receive anomaly notifications.
func (r *UserRepo) Operators(ctx context.Context) ([]models.User, error) {
	var out []models.User
	if err := r.DB.WithContext(ctx).Where("role = ?", "admin").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
