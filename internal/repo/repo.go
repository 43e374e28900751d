package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/taskwheel/jobrouter/internal/models"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrNotFound          = errors.New("user not found")
	// ErrStaleRefreshHash means the conditional rotation matched no row: a
	// concurrent refresh or a logout replaced the stored hash first.
	ErrStaleRefreshHash = errors.New("stored refresh hash changed concurrently")
)

type GormRepo struct {
	DB *gorm.DB
}

func (r *GormRepo) Create(ctx context.Context, u *models.User) error {
	tx := r.DB.WithContext(ctx).Where("username = ?", u.Username).FirstOrCreate(u)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrUserAlreadyExists
	}
	return nil
}

func (r *GormRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateRefreshHash overwrites the stored refresh hash unconditionally.
// Login uses it (authenticated by password); logout passes nil to revoke.
func (r *GormRepo) UpdateRefreshHash(ctx context.Context, id uint, hash *string) error {
	tx := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("refresh_token_hash", hash)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateRefreshHash replaces oldHash with newHash only if oldHash is still the
// stored value. The WHERE clause is the compare-and-swap that makes a losing
// concurrent refresh fail instead of double-issuing.
func (r *GormRepo) RotateRefreshHash(ctx context.Context, id uint, oldHash, newHash string) error {
	tx := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_token_hash = ?", id, oldHash).
		Update("refresh_token_hash", newHash)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrStaleRefreshHash
	}
	return nil
}

func (r *GormRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := r.DB.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
