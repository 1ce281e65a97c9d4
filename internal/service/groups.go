package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
	"mlsrelay/internal/store"
)

const maxGroupIDLength = 128

// CreateGroup registers a client-chosen group id. Duplicate ids are a
// Conflict so callers with idempotent-create semantics can detect the race.
func (s *Service) CreateGroup(ctx context.Context, creatorID uuid.UUID, req dto.CreateGroupRequest) (dto.GroupResponse, error) {
	if req.GroupID == "" || len(req.GroupID) > maxGroupIDLength {
		return dto.GroupResponse{}, domainErrf(domain.ErrValidation, "invalid groupId")
	}
	if req.Name == "" {
		return dto.GroupResponse{}, domainErrf(domain.ErrValidation, "missing name")
	}

	group := domain.Group{ID: req.GroupID, Name: req.Name, CreatorID: creatorID}
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, creatorID); err != nil {
			return err
		}
		if err := tx.Groups().Create(ctx, group); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				return domainErrf(domain.ErrConflict, "group %q already exists", req.GroupID)
			}
			return err
		}
		return tx.Groups().AddMember(ctx, group.ID, creatorID)
	})
	if err != nil {
		return dto.GroupResponse{}, err
	}

	return dto.GroupResponse{
		GroupID:   group.ID,
		Name:      group.Name,
		CreatorID: creatorID.String(),
		Members:   []string{creatorID.String()},
		CreatedAt: s.now().UTC(),
	}, nil
}

// SyncMembers reconciles the roster to exactly the submitted set. The caller
// must be part of the set it submits; the clients' MLS view is authoritative,
// so the stored roster is replaced, not patched.
func (s *Service) SyncMembers(ctx context.Context, callerID uuid.UUID, groupID string, req dto.SyncMembersRequest) (dto.SyncMembersResponse, error) {
	if len(req.MemberIDs) == 0 {
		return dto.SyncMembersResponse{}, domainErrf(domain.ErrValidation, "memberIds must not be empty")
	}
	memberIDs, err := parseUUIDs(req.MemberIDs, "memberId")
	if err != nil {
		return dto.SyncMembersResponse{}, err
	}
	callerListed := false
	for _, id := range memberIDs {
		if id == callerID {
			callerListed = true
			break
		}
	}
	if !callerListed {
		return dto.SyncMembersResponse{}, domainErrf(domain.ErrForbidden, "caller is not in the submitted member set")
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Groups().Get(ctx, groupID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return domainErrf(domain.ErrNotFound, "unknown group")
			}
			return err
		}
		for _, id := range memberIDs {
			if err := tx.Users().Ensure(ctx, id); err != nil {
				return err
			}
		}
		return tx.Groups().ReplaceMembers(ctx, groupID, memberIDs)
	})
	if err != nil {
		return dto.SyncMembersResponse{}, err
	}

	resp := dto.SyncMembersResponse{GroupID: groupID}
	for _, id := range memberIDs {
		resp.Members = append(resp.Members, id.String())
	}
	return resp, nil
}

// PublishGroupInfo stores the latest epoch-tagged join metadata for a group.
func (s *Service) PublishGroupInfo(ctx context.Context, actorID uuid.UUID, groupID string, req dto.PublishGroupInfoRequest) (dto.GroupInfoResponse, error) {
	if len(req.Data) == 0 {
		return dto.GroupInfoResponse{}, domainErrf(domain.ErrValidation, "missing group info data")
	}
	if _, err := s.store.Groups().Get(ctx, groupID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.GroupInfoResponse{}, domainErrf(domain.ErrNotFound, "unknown group")
		}
		return dto.GroupInfoResponse{}, err
	}
	member, err := s.store.Groups().IsMember(ctx, groupID, actorID)
	if err != nil {
		return dto.GroupInfoResponse{}, err
	}
	if !member {
		return dto.GroupInfoResponse{}, domainErrf(domain.ErrForbidden, "not a group member")
	}
	info := domain.GroupInfo{GroupID: groupID, Data: req.Data, Epoch: req.Epoch, Public: req.Public}
	if err := s.store.GroupInfos().Upsert(ctx, info); err != nil {
		return dto.GroupInfoResponse{}, err
	}
	return dto.GroupInfoResponse{
		GroupID:   groupID,
		Data:      req.Data,
		Epoch:     req.Epoch,
		Public:    req.Public,
		UpdatedAt: s.now().UTC(),
	}, nil
}

// GetGroupInfo returns the latest published blob, gated on visibility.
func (s *Service) GetGroupInfo(ctx context.Context, requesterID uuid.UUID, groupID string) (dto.GroupInfoResponse, error) {
	if _, err := s.store.Groups().Get(ctx, groupID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.GroupInfoResponse{}, domainErrf(domain.ErrNotFound, "unknown group")
		}
		return dto.GroupInfoResponse{}, err
	}
	info, err := s.store.GroupInfos().Get(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.GroupInfoResponse{}, domainErrf(domain.ErrNotFound, "group info not published")
		}
		return dto.GroupInfoResponse{}, err
	}
	if !info.Public {
		member, err := s.store.Groups().IsMember(ctx, groupID, requesterID)
		if err != nil {
			return dto.GroupInfoResponse{}, err
		}
		if !member {
			return dto.GroupInfoResponse{}, domainErrf(domain.ErrForbidden, "group info is not public")
		}
	}
	return dto.GroupInfoResponse{
		GroupID:   info.GroupID,
		Data:      info.Data,
		Epoch:     info.Epoch,
		Public:    info.Public,
		UpdatedAt: info.UpdatedAt,
	}, nil
}
