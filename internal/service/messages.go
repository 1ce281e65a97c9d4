package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
	"mlsrelay/internal/relayjson"
	"mlsrelay/internal/store"
)

// SendWelcome stores a group-join payload addressed to one recipient user and
// fans it out to all of the recipient's active devices. Welcomes are never
// deduplicated: a re-send is a legitimate recovery mechanism.
func (s *Service) SendWelcome(ctx context.Context, senderID, senderDeviceID uuid.UUID, req dto.SendWelcomeRequest) (dto.QueuedMessageResponse, error) {
	if req.GroupID == "" || len(req.Data) == 0 {
		return dto.QueuedMessageResponse{}, domainErrf(domain.ErrValidation, "missing groupId or data")
	}
	receiverID, err := parseUUID(req.ReceiverID, "receiverId")
	if err != nil {
		return dto.QueuedMessageResponse{}, err
	}

	var msg domain.QueuedMessage
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := s.senderDevice(ctx, tx, senderID, senderDeviceID); err != nil {
			return err
		}
		if _, err := tx.Groups().Get(ctx, req.GroupID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return domainErrf(domain.ErrNotFound, "unknown group")
			}
			return err
		}
		if err := tx.Users().Ensure(ctx, receiverID); err != nil {
			return err
		}

		msg = domain.QueuedMessage{
			GroupID:        req.GroupID,
			SenderDeviceID: senderDeviceID,
			ReceiverUserID: &receiverID,
			Kind:           domain.KindWelcome,
			Data:           req.Data,
		}
		if err := tx.Messages().Create(ctx, &msg); err != nil {
			return err
		}
		if err := s.fanOut(ctx, tx, &msg, []uuid.UUID{receiverID}, senderDeviceID); err != nil {
			return err
		}

		if req.GroupInfo != nil {
			member, err := tx.Groups().IsMember(ctx, req.GroupID, senderID)
			if err != nil {
				return err
			}
			if !member {
				return domainErrf(domain.ErrForbidden, "not a group member")
			}
			return tx.GroupInfos().Upsert(ctx, domain.GroupInfo{
				GroupID: req.GroupID,
				Data:    req.GroupInfo.Data,
				Epoch:   req.GroupInfo.Epoch,
				Public:  req.GroupInfo.Public,
			})
		}
		return nil
	})
	if err != nil {
		return dto.QueuedMessageResponse{}, err
	}
	return queuedMessageResponse(msg), nil
}

// SendGroupMessage queues a commit or application ciphertext for a group.
// Commits are epoch-fenced: the epoch is mandatory and only one commit may
// occupy a (group, epoch) slot, so two members cannot race the same epoch
// forward into divergent histories.
func (s *Service) SendGroupMessage(ctx context.Context, senderID, senderDeviceID uuid.UUID, req dto.SendGroupMessageRequest) (dto.QueuedMessageResponse, error) {
	kind := domain.MessageKind(req.MessageType)
	switch kind {
	case domain.KindCommit, domain.KindApplication:
	default:
		return dto.QueuedMessageResponse{}, domainErrf(domain.ErrValidation, "unsupported messageType %q", req.MessageType)
	}
	if req.GroupID == "" || len(req.Data) == 0 {
		return dto.QueuedMessageResponse{}, domainErrf(domain.ErrValidation, "missing groupId or data")
	}
	if kind == domain.KindCommit && req.Epoch == nil {
		return dto.QueuedMessageResponse{}, ErrCommitEpochRequired
	}
	exclude, err := parseUUIDs(req.ExcludeUserIDs, "excludeUserId")
	if err != nil {
		return dto.QueuedMessageResponse{}, err
	}

	var msg domain.QueuedMessage
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := s.senderDevice(ctx, tx, senderID, senderDeviceID); err != nil {
			return err
		}
		if _, err := tx.Groups().Get(ctx, req.GroupID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return domainErrf(domain.ErrNotFound, "unknown group")
			}
			return err
		}
		member, err := tx.Groups().IsMember(ctx, req.GroupID, senderID)
		if err != nil {
			return err
		}
		if !member {
			return domainErrf(domain.ErrForbidden, "not a group member")
		}

		msg = domain.QueuedMessage{
			GroupID:        req.GroupID,
			SenderDeviceID: senderDeviceID,
			Kind:           kind,
			Epoch:          req.Epoch,
			Data:           req.Data,
			Exclude:        relayjson.UUIDSet(exclude),
		}
		if err := tx.Messages().Create(ctx, &msg); err != nil {
			return err
		}
		if kind == domain.KindCommit {
			if err := tx.Messages().ReserveCommitSlot(ctx, req.GroupID, *req.Epoch, msg.ID); err != nil {
				if errors.Is(err, store.ErrDuplicateKey) {
					return ErrCommitConflict
				}
				return err
			}
		}

		members, err := tx.Groups().Members(ctx, req.GroupID)
		if err != nil {
			return err
		}
		recipients := make([]uuid.UUID, 0, len(members))
		for _, m := range members {
			if msg.Exclude.Contains(m) {
				continue
			}
			recipients = append(recipients, m)
		}
		return s.fanOut(ctx, tx, &msg, recipients, senderDeviceID)
	})
	if err != nil {
		return dto.QueuedMessageResponse{}, err
	}

	// Out-of-band federation is strictly after the durable write: an enqueue
	// failure is logged and must never undo the stored message.
	if s.federate && kind == domain.KindApplication {
		s.enqueueFederation(ctx, msg)
	}
	return queuedMessageResponse(msg), nil
}

// fanOut creates one inbox entry per active device of each recipient user.
// Revoked devices and the sender's own device receive nothing.
func (s *Service) fanOut(ctx context.Context, tx *store.Store, msg *domain.QueuedMessage, recipients []uuid.UUID, senderDeviceID uuid.UUID) error {
	devices, err := tx.Devices().ActiveByUsers(ctx, recipients)
	if err != nil {
		return err
	}
	entries := make([]domain.InboxEntry, 0, len(devices))
	for _, d := range devices {
		if d.ID == senderDeviceID {
			continue
		}
		entries = append(entries, domain.InboxEntry{
			MessageID: msg.ID,
			DeviceID:  d.ID,
			UserID:    d.UserID,
		})
	}
	return tx.Inbox().AddEntries(ctx, entries)
}

func (s *Service) enqueueFederation(ctx context.Context, msg domain.QueuedMessage) {
	payload, err := json.Marshal(map[string]any{
		"groupId":   msg.GroupID,
		"messageId": msg.ID,
		"kind":      msg.Kind,
	})
	if err != nil {
		slog.Warn("federation payload marshal failed", "error", err, "message_id", msg.ID)
		return
	}
	task := domain.DeliveryTask{
		Kind:          "message.federate",
		Payload:       relayjson.JSON(payload),
		NextAttemptAt: s.now().UTC(),
	}
	if err := s.store.DeliveryTasks().Enqueue(ctx, &task); err != nil {
		slog.Warn("federation enqueue failed", "error", err, "message_id", msg.ID)
	}
}

// FetchSince returns group messages with an ordinal greater than afterID, in
// insertion order. Insertion order is the relay's only ordering guarantee.
func (s *Service) FetchSince(ctx context.Context, requesterID uuid.UUID, groupID string, afterID uint64, limit int) ([]dto.QueuedMessageResponse, error) {
	if _, err := s.store.Groups().Get(ctx, groupID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, domainErrf(domain.ErrNotFound, "unknown group")
		}
		return nil, err
	}
	member, err := s.store.Groups().IsMember(ctx, groupID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, domainErrf(domain.ErrForbidden, "not a group member")
	}
	msgs, err := s.store.Messages().Since(ctx, groupID, afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.QueuedMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, queuedMessageResponse(m))
	}
	return out, nil
}

// Pending returns all undelivered entries for the caller's device, or for all
// of the caller's active devices when no device is given.
func (s *Service) Pending(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID) (dto.PendingMessagesResponse, error) {
	deviceIDs, err := s.resolveDevices(ctx, userID, deviceID)
	if err != nil {
		return dto.PendingMessagesResponse{}, err
	}
	rows, err := s.store.Inbox().PendingForDevices(ctx, deviceIDs, nil)
	if err != nil {
		return dto.PendingMessagesResponse{}, err
	}
	return pendingResponse(rows), nil
}

// PendingWelcomes lists undelivered welcomes across all of the user's active
// devices.
func (s *Service) PendingWelcomes(ctx context.Context, userID uuid.UUID) (dto.PendingMessagesResponse, error) {
	deviceIDs, err := s.resolveDevices(ctx, userID, nil)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return dto.PendingMessagesResponse{Messages: []dto.PendingMessage{}}, nil
		}
		return dto.PendingMessagesResponse{}, err
	}
	kind := domain.KindWelcome
	rows, err := s.store.Inbox().PendingForDevices(ctx, deviceIDs, &kind)
	if err != nil {
		return dto.PendingMessagesResponse{}, err
	}
	return pendingResponse(rows), nil
}

// Ack removes delivered entries. Idempotent: unknown or already-acked ids are
// no-ops, never errors.
func (s *Service) Ack(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID, req dto.AckRequest) (dto.AckResponse, error) {
	deviceIDs, err := s.resolveDevices(ctx, userID, deviceID)
	if err != nil {
		return dto.AckResponse{}, err
	}
	acked, err := s.store.Inbox().Ack(ctx, deviceIDs, req.MessageIDs, s.now().UTC())
	if err != nil {
		return dto.AckResponse{}, err
	}
	return dto.AckResponse{Acked: acked}, nil
}

func queuedMessageResponse(m domain.QueuedMessage) dto.QueuedMessageResponse {
	return dto.QueuedMessageResponse{
		ID:             m.ID,
		GroupID:        m.GroupID,
		SenderDeviceID: m.SenderDeviceID.String(),
		MessageType:    string(m.Kind),
		Epoch:          m.Epoch,
		Data:           m.Data,
		CreatedAt:      m.CreatedAt,
	}
}

func pendingResponse(rows []store.PendingMessage) dto.PendingMessagesResponse {
	resp := dto.PendingMessagesResponse{Messages: make([]dto.PendingMessage, 0, len(rows))}
	for _, r := range rows {
		resp.Messages = append(resp.Messages, dto.PendingMessage{
			ID:             r.MessageID,
			DeviceID:       r.DeviceID.String(),
			GroupID:        r.GroupID,
			SenderDeviceID: r.SenderDeviceID.String(),
			MessageType:    string(r.Kind),
			Epoch:          r.Epoch,
			Data:           r.Data,
			CreatedAt:      r.CreatedAt,
		})
	}
	return resp
}
