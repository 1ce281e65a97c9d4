package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlsrelay/internal/domain"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.QueuedMessage) error {
	return m.db.WithContext(ctx).Create(msg).Error
}

// ReserveCommitSlot performs the epoch-fence: a conditional insert on the
// unique (group, epoch) pair. A second commit attempt for an occupied epoch
// fails with ErrDuplicateKey instead of queueing a duplicate.
func (m *MessageStore) ReserveCommitSlot(ctx context.Context, groupID string, epoch uint64, messageID uint64) error {
	slot := domain.CommitSlot{GroupID: groupID, Epoch: epoch, MessageID: messageID}
	res := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&slot)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// Since returns group messages with an ordinal strictly greater than afterID,
// in insertion order.
func (m *MessageStore) Since(ctx context.Context, groupID string, afterID uint64, limit int) ([]domain.QueuedMessage, error) {
	var msgs []domain.QueuedMessage
	tx := m.db.WithContext(ctx).
		Where("group_id = ? AND id > ?", groupID, afterID).
		Order("id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// LatestWelcome returns the most recent welcome stored for the receiver in
// the given group.
func (m *MessageStore) LatestWelcome(ctx context.Context, groupID string, receiverID uuid.UUID) (*domain.QueuedMessage, error) {
	var msg domain.QueuedMessage
	err := m.db.WithContext(ctx).
		Where("group_id = ? AND receiver_user_id = ? AND kind = ?", groupID, receiverID, domain.KindWelcome).
		Order("id DESC").
		First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &msg, nil
}
