package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
	"mlsrelay/internal/store"
)

// GetOrCreateDirectMessage finds the direct-message group joining the caller
// and the peer, creating it with a relay-generated id when none exists.
// Created reports which case happened so the transport can answer 200 or 201.
func (s *Service) GetOrCreateDirectMessage(ctx context.Context, userID, peerID uuid.UUID) (dto.DirectMessageResponse, error) {
	if userID == peerID {
		return dto.DirectMessageResponse{}, domainErrf(domain.ErrValidation, "cannot open a direct message with yourself")
	}

	existing, err := s.store.Groups().FindDirect(ctx, userID, peerID)
	if err == nil {
		return dto.DirectMessageResponse{GroupID: existing.ID, PeerID: peerID.String()}, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return dto.DirectMessageResponse{}, err
	}

	group := domain.Group{
		ID:        uuid.New().String(),
		Name:      "dm",
		CreatorID: userID,
		Direct:    true,
	}
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, userID); err != nil {
			return err
		}
		if err := tx.Users().Ensure(ctx, peerID); err != nil {
			return err
		}
		if err := tx.Groups().Create(ctx, group); err != nil {
			return err
		}
		if err := tx.Groups().AddMember(ctx, group.ID, userID); err != nil {
			return err
		}
		return tx.Groups().AddMember(ctx, group.ID, peerID)
	})
	if err != nil {
		return dto.DirectMessageResponse{}, err
	}
	return dto.DirectMessageResponse{GroupID: group.ID, PeerID: peerID.String(), Created: true}, nil
}

// RehydrateDirectMessages re-issues the stored welcome for a direct-message
// group whose join material the requester has lost, instead of fabricating
// new group state. The welcome is fanned out again to the requester's active
// devices with any previous ack cleared.
func (s *Service) RehydrateDirectMessages(ctx context.Context, requesterID, peerID uuid.UUID) (dto.RehydrateResponse, error) {
	group, err := s.store.Groups().FindDirect(ctx, requesterID, peerID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.RehydrateResponse{}, domainErrf(domain.ErrNotFound, "no direct message with this user")
		}
		return dto.RehydrateResponse{}, err
	}
	for _, id := range []uuid.UUID{requesterID, peerID} {
		member, err := s.store.Groups().IsMember(ctx, group.ID, id)
		if err != nil {
			return dto.RehydrateResponse{}, err
		}
		if !member {
			return dto.RehydrateResponse{}, domainErrf(domain.ErrForbidden, "not part of this direct message")
		}
	}

	welcome, err := s.store.Messages().LatestWelcome(ctx, group.ID, requesterID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.RehydrateResponse{}, domainErrf(domain.ErrNotFound, "no welcome stored for this group")
		}
		return dto.RehydrateResponse{}, err
	}

	devices, err := s.store.Devices().ActiveByUser(ctx, requesterID)
	if err != nil {
		return dto.RehydrateResponse{}, err
	}
	if len(devices) == 0 {
		return dto.RehydrateResponse{}, domainErrf(domain.ErrNotFound, "no devices")
	}
	entries := make([]domain.InboxEntry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, domain.InboxEntry{
			MessageID: welcome.ID,
			DeviceID:  d.ID,
			UserID:    d.UserID,
		})
	}
	if err := s.store.Inbox().AddEntries(ctx, entries); err != nil {
		return dto.RehydrateResponse{}, err
	}
	return dto.RehydrateResponse{
		GroupID:   group.ID,
		MessageID: welcome.ID,
		Devices:   len(entries),
	}, nil
}

// RevokeDevice marks the caller's device revoked; fan-out skips it from then
// on. Revoking an already-revoked device is a no-op.
func (s *Service) RevokeDevice(ctx context.Context, userID, deviceID uuid.UUID) error {
	device, err := s.store.Devices().Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return domainErrf(domain.ErrNotFound, "unknown device")
		}
		return err
	}
	if device.UserID != userID {
		return domainErrf(domain.ErrForbidden, "device belongs to another user")
	}
	_, err = s.store.Devices().Revoke(ctx, deviceID, s.now().UTC())
	return err
}
