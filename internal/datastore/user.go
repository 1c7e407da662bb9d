package datastore

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tphakala/idconsensus/internal/datastore/entities"
)

// UserRepository provides access to users.
type UserRepository interface {
	Get(ctx context.Context, id uint) (*entities.User, error)
	Create(ctx context.Context, user *entities.User) error

	// FindByLogins returns the users whose login matches any of logins,
	// case-insensitively. Unknown logins are skipped.
	FindByLogins(ctx context.Context, logins []string) ([]entities.User, error)

	// AdjustIdentificationsCount adds delta to the counter cache, never going below zero.
	AdjustIdentificationsCount(ctx context.Context, userID uint, delta int) error
}

// NormalizeLogin case-folds a login for comparison. Logins are ASCII, so the
// result matches SQL LOWER on every supported database.
func NormalizeLogin(login string) string {
	return cases.Fold().String(login) // a Caser is stateful, never share it
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Get(ctx context.Context, id uint) (*entities.User, error) {
	var user entities.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, lookupError(err, "user", id)
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *entities.User) error {
	if strings.TrimSpace(user.Login) == "" {
		return validationError("login is required", "login", user.Login)
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return dbError(err, "create_user", "", "login", user.Login)
	}
	return nil
}

func (r *userRepository) FindByLogins(ctx context.Context, logins []string) ([]entities.User, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(logins))
	for _, l := range logins {
		lowered = append(lowered, NormalizeLogin(l))
	}
	var users []entities.User
	err := r.db.WithContext(ctx).
		Where("LOWER(login) IN ?", lowered).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, dbError(err, "find_users_by_login", "")
	}
	return users, nil
}

func (r *userRepository) AdjustIdentificationsCount(ctx context.Context, userID uint, delta int) error {
	expr := gorm.Expr("identifications_count + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("CASE WHEN identifications_count + ? < 0 THEN 0 ELSE identifications_count + ? END", delta, delta)
	}
	result := r.db.WithContext(ctx).Model(&entities.User{}).
		Where("id = ?", userID).
		UpdateColumn("identifications_count", expr)
	if result.Error != nil {
		return dbError(result.Error, "adjust_identifications_count", "", "user_id", userID)
	}
	if result.RowsAffected == 0 {
		return notFoundError("user", userID)
	}
	return nil
}
