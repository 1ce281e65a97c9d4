package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlsrelay/internal/domain"
)

type InboxStore struct{ db *gorm.DB }

func (s *Store) Inbox() *InboxStore { return &InboxStore{db: s.DB} }

// AddEntries fans a queued message out to delivery records, one per device.
// Re-fan-out (welcome rehydration) upserts over an existing entry and clears
// its ack state so the device sees the message again.
func (i *InboxStore) AddEntries(ctx context.Context, entries []domain.InboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return i.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "device_id"}},
			DoUpdates: clause.Assignments(map[string]any{"acked_at": nil}),
		}).
		Create(&entries).Error
}

// PendingMessage joins an undelivered inbox entry with its message row.
type PendingMessage struct {
	MessageID      uint64
	DeviceID       uuid.UUID
	GroupID        string
	SenderDeviceID uuid.UUID
	Kind           domain.MessageKind
	Epoch          *uint64
	Data           []byte
	CreatedAt      time.Time
}

func (i *InboxStore) PendingForDevices(ctx context.Context, deviceIDs []uuid.UUID, kind *domain.MessageKind) ([]PendingMessage, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	tx := i.db.WithContext(ctx).
		Table("inbox_entries").
		Select(`inbox_entries.message_id, inbox_entries.device_id,
			queued_messages.group_id, queued_messages.sender_device_id,
			queued_messages.kind, queued_messages.epoch,
			queued_messages.data, queued_messages.created_at`).
		Joins("JOIN queued_messages ON queued_messages.id = inbox_entries.message_id").
		Where("inbox_entries.device_id IN ? AND inbox_entries.acked_at IS NULL", deviceIDs).
		Order("inbox_entries.message_id ASC")
	if kind != nil {
		tx = tx.Where("queued_messages.kind = ?", *kind)
	}
	var rows []PendingMessage
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Ack is idempotent: already-acked or unknown ids match no rows and that is
// fine.
func (i *InboxStore) Ack(ctx context.Context, deviceIDs []uuid.UUID, messageIDs []uint64, at time.Time) (int64, error) {
	if len(deviceIDs) == 0 || len(messageIDs) == 0 {
		return 0, nil
	}
	tx := i.db.WithContext(ctx).
		Model(&domain.InboxEntry{}).
		Where("device_id IN ? AND message_id IN ? AND acked_at IS NULL", deviceIDs, messageIDs).
		Update("acked_at", at)
	return tx.RowsAffected, tx.Error
}
