package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlsrelay/internal/domain"
)

type KeyPackageStore struct{ db *gorm.DB }

func (s *Store) KeyPackages() *KeyPackageStore { return &KeyPackageStore{db: s.DB} }

// AddBatch is idempotent by content hash: re-publishing an already stored
// package is a no-op.
func (k *KeyPackageStore) AddBatch(ctx context.Context, packages []domain.KeyPackage) error {
	if len(packages) == 0 {
		return nil
	}
	return k.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "hash"}}, DoNothing: true}).
		Create(&packages).Error
}

// ConsumeNext claims one single-use package from any of the given devices.
// The SELECT skips rows locked by concurrent claimants and the guarded UPDATE
// re-checks consumed_at, so two callers never receive the same package even
// on backends that ignore row locks. Returns nil when the pool is empty.
func (k *KeyPackageStore) ConsumeNext(ctx context.Context, deviceIDs []uuid.UUID, now time.Time) (*domain.KeyPackage, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	for {
		var key domain.KeyPackage
		err := k.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("device_id IN ? AND consumed_at IS NULL AND last_resort = ? AND not_before <= ? AND not_after > ?",
				deviceIDs, false, now, now).
			Order("created_at ASC, id ASC").
			First(&key).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil
			}
			return nil, err
		}
		res := k.db.WithContext(ctx).
			Model(&domain.KeyPackage{}).
			Where("id = ? AND consumed_at IS NULL", key.ID).
			Update("consumed_at", now)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			consumed := now
			key.ConsumedAt = &consumed
			return &key, nil
		}
		// Lost the race for this row; try the next candidate.
	}
}

// LastResort returns a reusable fallback package without consuming it.
func (k *KeyPackageStore) LastResort(ctx context.Context, deviceIDs []uuid.UUID, now time.Time) (*domain.KeyPackage, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	var key domain.KeyPackage
	err := k.db.WithContext(ctx).
		Where("device_id IN ? AND last_resort = ? AND not_before <= ? AND not_after > ?",
			deviceIDs, true, now, now).
		Order("created_at DESC, id ASC").
		First(&key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// CountAvailable reports unconsumed single-use packages per device.
func (k *KeyPackageStore) CountAvailable(ctx context.Context, deviceIDs []uuid.UUID, now time.Time) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return counts, nil
	}
	type row struct {
		DeviceID uuid.UUID
		Total    int64
	}
	var rows []row
	err := k.db.WithContext(ctx).
		Model(&domain.KeyPackage{}).
		Select("device_id, COUNT(*) AS total").
		Where("device_id IN ? AND consumed_at IS NULL AND last_resort = ? AND not_before <= ? AND not_after > ?",
			deviceIDs, false, now, now).
		Group("device_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.DeviceID] = r.Total
	}
	return counts, nil
}
