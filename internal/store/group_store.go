package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlsrelay/internal/domain"
)

type GroupStore struct{ db *gorm.DB }

func (s *Store) Groups() *GroupStore { return &GroupStore{db: s.DB} }

// Create inserts the group and fails with ErrDuplicateKey when the
// client-chosen id is already taken.
func (g *GroupStore) Create(ctx context.Context, group domain.Group) error {
	res := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&group)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateKey
	}
	return nil
}

func (g *GroupStore) Get(ctx context.Context, id string) (*domain.Group, error) {
	var group domain.Group
	if err := g.db.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &group, nil
}

func (g *GroupStore) AddMember(ctx context.Context, groupID string, userID uuid.UUID) error {
	member := domain.GroupMember{GroupID: groupID, UserID: userID}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&member).Error
}

func (g *GroupStore) IsMember(ctx context.Context, groupID string, userID uuid.UUID) (bool, error) {
	var total int64
	err := g.db.WithContext(ctx).
		Model(&domain.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&total).Error
	if err != nil {
		return false, err
	}
	return total > 0, nil
}

func (g *GroupStore) Members(ctx context.Context, groupID string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := g.db.WithContext(ctx).
		Model(&domain.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReplaceMembers reconciles the roster to exactly the given set. Membership
// truth lives in the clients' cryptographic group state, so the stored roster
// is replaced rather than patched.
func (g *GroupStore) ReplaceMembers(ctx context.Context, groupID string, memberIDs []uuid.UUID) error {
	if err := g.db.WithContext(ctx).
		Where("group_id = ? AND user_id NOT IN ?", groupID, memberIDs).
		Delete(&domain.GroupMember{}).Error; err != nil {
		return err
	}
	members := make([]domain.GroupMember, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, domain.GroupMember{GroupID: groupID, UserID: id})
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&members).Error
}

// FindDirect returns the direct-message group joining the two users, oldest
// first when more than one exists.
func (g *GroupStore) FindDirect(ctx context.Context, a, b uuid.UUID) (*domain.Group, error) {
	var group domain.Group
	err := g.db.WithContext(ctx).
		Raw(`SELECT g.* FROM mls_groups g
			JOIN mls_group_members ma ON ma.group_id = g.id AND ma.user_id = ?
			JOIN mls_group_members mb ON mb.group_id = g.id AND mb.user_id = ?
			WHERE g.direct = ?
			ORDER BY g.created_at ASC LIMIT 1`, a, b, true).
		Scan(&group).Error
	if err != nil {
		return nil, err
	}
	if group.ID == "" {
		return nil, ErrRecordNotFound
	}
	return &group, nil
}
