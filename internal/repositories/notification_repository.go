package repositories

import (
	"github.com/soclab/notification-service/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when an operation targets a notification that does
// not exist or belongs to a different user.
var ErrNotFound = gorm.ErrRecordNotFound

// NotificationRepository defines the interface for notification persistence.
// All read/update/delete operations are scoped to the owning recipient so a
// user can never touch another user's notifications.
type NotificationRepository interface {
	CreateNotification(notification *models.Notification) error
	GetByID(notificationID, recipientID uint) (*models.Notification, error)
	GetByRecipientID(recipientID uint, page, limit int, typeFilter models.NotificationType, isRead *bool) ([]models.Notification, int64, error)
	GetUnreadCount(recipientID uint) (int64, error)
	GetTotalCount(recipientID uint) (int64, error)
	SetRead(notificationID, recipientID uint, isRead bool) error
	MarkAllAsRead(recipientID uint) (int64, error)
	BatchSetRead(notificationIDs []uint, recipientID uint, isRead bool) (int64, error)
	DeleteNotification(notificationID, recipientID uint) error
	DeleteAllByRecipient(recipientID uint) error
}

type postgresNotificationRepository struct {
	db *gorm.DB
}

func NewPostgresNotificationRepository(db *gorm.DB) NotificationRepository {
	return &postgresNotificationRepository{db: db}
}

func (r *postgresNotificationRepository) CreateNotification(notification *models.Notification) error {
	return r.db.Create(notification).Error
}

func (r *postgresNotificationRepository) GetByID(notificationID, recipientID uint) (*models.Notification, error) {
	var notification models.Notification
	err := r.db.Where("id = ? AND recipient_id = ?", notificationID, recipientID).
		First(&notification).Error
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

func (r *postgresNotificationRepository) GetByRecipientID(recipientID uint, page, limit int, typeFilter models.NotificationType, isRead *bool) ([]models.Notification, int64, error) {
	var notifications []models.Notification
	var total int64

	query := r.db.Model(&models.Notification{}).Where("recipient_id = ?", recipientID)
	if typeFilter != "" {
		query = query.Where("type = ?", typeFilter)
	}
	if isRead != nil {
		query = query.Where("is_read = ?", *isRead)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&notifications).Error

	return notifications, total, err
}

func (r *postgresNotificationRepository) GetUnreadCount(recipientID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = false", recipientID).
		Count(&count).Error
	return count, err
}

func (r *postgresNotificationRepository) GetTotalCount(recipientID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Notification{}).
		Where("recipient_id = ?", recipientID).
		Count(&count).Error
	return count, err
}

func (r *postgresNotificationRepository) SetRead(notificationID, recipientID uint, isRead bool) error {
	result := r.db.Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", notificationID, recipientID).
		Update("is_read", isRead)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *postgresNotificationRepository) MarkAllAsRead(recipientID uint) (int64, error) {
	result := r.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = false", recipientID).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

func (r *postgresNotificationRepository) BatchSetRead(notificationIDs []uint, recipientID uint, isRead bool) (int64, error) {
	result := r.db.Model(&models.Notification{}).
		Where("id IN ? AND recipient_id = ?", notificationIDs, recipientID).
		Update("is_read", isRead)
	return result.RowsAffected, result.Error
}

func (r *postgresNotificationRepository) DeleteNotification(notificationID, recipientID uint) error {
	result := r.db.Where("id = ? AND recipient_id = ?", notificationID, recipientID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *postgresNotificationRepository) DeleteAllByRecipient(recipientID uint) error {
	return r.db.Where("recipient_id = ?", recipientID).
		Delete(&models.Notification{}).Error
}
