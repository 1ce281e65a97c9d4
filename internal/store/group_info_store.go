package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlsrelay/internal/domain"
)

type GroupInfoStore struct{ db *gorm.DB }

func (s *Store) GroupInfos() *GroupInfoStore { return &GroupInfoStore{db: s.DB} }

// Upsert keeps only the latest published blob per group.
func (g *GroupInfoStore) Upsert(ctx context.Context, info domain.GroupInfo) error {
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "group_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"data":   info.Data,
				"epoch":  info.Epoch,
				"public": info.Public,
			}),
		}).
		Create(&info).Error
}

func (g *GroupInfoStore) Get(ctx context.Context, groupID string) (*domain.GroupInfo, error) {
	var info domain.GroupInfo
	if err := g.db.WithContext(ctx).First(&info, "group_id = ?", groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &info, nil
}
