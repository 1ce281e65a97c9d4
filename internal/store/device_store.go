package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlsrelay/internal/domain"
)

type DeviceStore struct{ db *gorm.DB }

func (s *Store) Devices() *DeviceStore { return &DeviceStore{db: s.DB} }

func (d *DeviceStore) Upsert(ctx context.Context, device domain.Device) error {
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"user_id": device.UserID}),
		}).
		Create(&device).Error
}

func (d *DeviceStore) Get(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	var device domain.Device
	if err := d.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &device, nil
}

// GetActive returns the device only if it exists and has not been revoked.
func (d *DeviceStore) GetActive(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	var device domain.Device
	err := d.db.WithContext(ctx).
		First(&device, "id = ? AND revoked_at IS NULL", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &device, nil
}

func (d *DeviceStore) ActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Device, error) {
	var devices []domain.Device
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Order("created_at ASC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (d *DeviceStore) ActiveByUsers(ctx context.Context, userIDs []uuid.UUID) ([]domain.Device, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var devices []domain.Device
	err := d.db.WithContext(ctx).
		Where("user_id IN ? AND revoked_at IS NULL", userIDs).
		Order("created_at ASC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (d *DeviceStore) Revoke(ctx context.Context, deviceID uuid.UUID, at time.Time) (int64, error) {
	tx := d.db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("id = ? AND revoked_at IS NULL", deviceID).
		Update("revoked_at", at)
	return tx.RowsAffected, tx.Error
}
