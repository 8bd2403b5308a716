package repositories

import (
	"github.com/soclab/notification-service/internal/models"
	"gorm.io/gorm"
)

// DeviceTokenRepository defines the interface for FCM device token storage.
type DeviceTokenRepository interface {
	RegisterToken(userID uint, token, platform string) error
	GetTokensByUserID(userID uint) ([]string, error)
	DeleteToken(userID uint, token string) error
	// PruneToken removes a token regardless of owner, used when FCM reports
	// the registration token is no longer valid.
	PruneToken(token string) error
}

type postgresDeviceTokenRepository struct {
	db *gorm.DB
}

func NewPostgresDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &postgresDeviceTokenRepository{db: db}
}

func (r *postgresDeviceTokenRepository) RegisterToken(userID uint, token, platform string) error {
	// A token may move between accounts on shared devices; re-point it.
	var existing models.DeviceToken
	err := r.db.Where("token = ?", token).First(&existing).Error
	if err == nil {
		return r.db.Model(&existing).
			Updates(map[string]any{"user_id": userID, "platform": platform}).Error
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return r.db.Create(&models.DeviceToken{
		UserID:   userID,
		Token:    token,
		Platform: platform,
	}).Error
}

func (r *postgresDeviceTokenRepository) GetTokensByUserID(userID uint) ([]string, error) {
	var tokens []string
	err := r.db.Model(&models.DeviceToken{}).
		Where("user_id = ?", userID).
		Pluck("token", &tokens).Error
	return tokens, err
}

func (r *postgresDeviceTokenRepository) DeleteToken(userID uint, token string) error {
	return r.db.Where("user_id = ? AND token = ?", userID, token).
		Delete(&models.DeviceToken{}).Error
}

func (r *postgresDeviceTokenRepository) PruneToken(token string) error {
	return r.db.Where("token = ?", token).
		Delete(&models.DeviceToken{}).Error
}
