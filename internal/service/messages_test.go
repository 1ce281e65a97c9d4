package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
)

func epoch(n uint64) *uint64 { return &n }

func TestCommitEpochFencing(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	aliceDevice := registerDevice(t, st, alice)
	bobDevice := registerDevice(t, st, bob)

	if _, err := svc.CreateGroup(ctx, alice, dto.CreateGroupRequest{GroupID: "g", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.SyncMembers(ctx, alice, "g", dto.SyncMembersRequest{
		MemberIDs: []string{alice.String(), bob.String()},
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Commit without an epoch is rejected outright.
	_, err := svc.SendGroupMessage(ctx, alice, aliceDevice, dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "commit", Data: []byte("c"),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected Validation for missing epoch, got %v", err)
	}

	// Alice takes the epoch-1 slot.
	if _, err := svc.SendGroupMessage(ctx, alice, aliceDevice, dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "commit", Data: []byte("c1"), Epoch: epoch(1),
	}); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// Bob races the same epoch and loses.
	_, err = svc.SendGroupMessage(ctx, bob, bobDevice, dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "commit", Data: []byte("c1b"), Epoch: epoch(1),
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected Conflict for epoch race, got %v", err)
	}

	// The next epoch is free.
	if _, err := svc.SendGroupMessage(ctx, bob, bobDevice, dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "commit", Data: []byte("c2"), Epoch: epoch(2),
	}); err != nil {
		t.Fatalf("next epoch commit: %v", err)
	}
}

func TestGroupSendRejections(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	alice := uuid.New()
	outsider := uuid.New()
	aliceDevice := registerDevice(t, st, alice)
	outsiderDevice := registerDevice(t, st, outsider)

	if _, err := svc.CreateGroup(ctx, alice, dto.CreateGroupRequest{GroupID: "g", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := svc.SendGroupMessage(ctx, alice, uuid.New(), dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "application", Data: []byte("m"),
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound for unregistered device, got %v", err)
	}

	_, err = svc.SendGroupMessage(ctx, outsider, outsiderDevice, dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "application", Data: []byte("m"),
	})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected Forbidden for non-member, got %v", err)
	}

	_, err = svc.SendGroupMessage(ctx, alice, aliceDevice, dto.SendGroupMessageRequest{
		GroupID: "missing", MessageType: "application", Data: []byte("m"),
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound for unknown group, got %v", err)
	}

	_, err = svc.SendGroupMessage(ctx, alice, aliceDevice, dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "welcome", Data: []byte("m"),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected Validation for welcome on group endpoint, got %v", err)
	}
}

func TestFanOutSkipsRevokedAndExcluded(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()
	aliceDevice := registerDevice(t, st, alice)
	bobDevice1 := registerDevice(t, st, bob)
	bobDevice2 := registerDevice(t, st, bob)
	bobRevoked := registerDevice(t, st, bob)
	carolDevice := registerDevice(t, st, carol)

	if _, err := st.Devices().Revoke(ctx, bobRevoked, time.Now().UTC()); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := svc.CreateGroup(ctx, alice, dto.CreateGroupRequest{GroupID: "g", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.SyncMembers(ctx, alice, "g", dto.SyncMembersRequest{
		MemberIDs: []string{alice.String(), bob.String(), carol.String()},
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	_, err := svc.SendGroupMessage(ctx, alice, aliceDevice, dto.SendGroupMessageRequest{
		GroupID:        "g",
		MessageType:    "application",
		Data:           []byte("m"),
		ExcludeUserIDs: []string{carol.String()},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Bob's two active devices each get an independent delivery record.
	for _, d := range []uuid.UUID{bobDevice1, bobDevice2} {
		res, err := svc.Pending(ctx, bob, &d)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(res.Messages) != 1 {
			t.Fatalf("expected 1 pending message for device %s, got %d", d, len(res.Messages))
		}
	}

	// Revoked device, excluded user and the sender's own device get nothing.
	all, err := svc.Pending(ctx, bob, nil)
	if err != nil {
		t.Fatalf("pending all: %v", err)
	}
	if len(all.Messages) != 2 {
		t.Fatalf("expected 2 entries across bob's active devices, got %d", len(all.Messages))
	}
	carolPending, err := svc.Pending(ctx, carol, &carolDevice)
	if err != nil {
		t.Fatalf("carol pending: %v", err)
	}
	if len(carolPending.Messages) != 0 {
		t.Fatalf("excluded user received the message")
	}
	alicePending, err := svc.Pending(ctx, alice, &aliceDevice)
	if err != nil {
		t.Fatalf("alice pending: %v", err)
	}
	if len(alicePending.Messages) != 0 {
		t.Fatalf("sender device received its own message")
	}
}

func TestAckIsIdempotent(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	aliceDevice := registerDevice(t, st, alice)
	bobDevice := registerDevice(t, st, bob)

	if _, err := svc.CreateGroup(ctx, alice, dto.CreateGroupRequest{GroupID: "g", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.SyncMembers(ctx, alice, "g", dto.SyncMembersRequest{
		MemberIDs: []string{alice.String(), bob.String()},
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	sent, err := svc.SendGroupMessage(ctx, alice, aliceDevice, dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "application", Data: []byte("m"),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	first, err := svc.Ack(ctx, bob, &bobDevice, dto.AckRequest{MessageIDs: []uint64{sent.ID}})
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if first.Acked != 1 {
		t.Fatalf("expected 1 acked, got %d", first.Acked)
	}

	// Second ack of the same id, and an ack of a nonexistent id, are no-ops.
	second, err := svc.Ack(ctx, bob, &bobDevice, dto.AckRequest{MessageIDs: []uint64{sent.ID, 999999}})
	if err != nil {
		t.Fatalf("repeat ack: %v", err)
	}
	if second.Acked != 0 {
		t.Fatalf("expected 0 acked on repeat, got %d", second.Acked)
	}

	pending, err := svc.Pending(ctx, bob, &bobDevice)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending.Messages) != 0 {
		t.Fatalf("acked message still pending")
	}
}

func TestFetchSinceOrdering(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	alice := uuid.New()
	aliceDevice := registerDevice(t, st, alice)

	if _, err := svc.CreateGroup(ctx, alice, dto.CreateGroupRequest{GroupID: "g", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var ids []uint64
	for _, body := range []string{"m1", "m2", "m3"} {
		sent, err := svc.SendGroupMessage(ctx, alice, aliceDevice, dto.SendGroupMessageRequest{
			GroupID: "g", MessageType: "application", Data: []byte(body),
		})
		if err != nil {
			t.Fatalf("send %s: %v", body, err)
		}
		ids = append(ids, sent.ID)
	}

	msgs, err := svc.FetchSince(ctx, alice, "g", ids[0], 0)
	if err != nil {
		t.Fatalf("fetch since: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after first id, got %d", len(msgs))
	}
	if msgs[0].ID != ids[1] || msgs[1].ID != ids[2] {
		t.Fatalf("messages out of insertion order: %v", msgs)
	}

	_, err = svc.FetchSince(ctx, uuid.New(), "g", 0, 0)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected Forbidden for non-member, got %v", err)
	}
}

func TestWelcomeFanOutAndResend(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	aliceDevice := registerDevice(t, st, alice)
	registerDevice(t, st, bob)
	registerDevice(t, st, bob)

	if _, err := svc.CreateGroup(ctx, alice, dto.CreateGroupRequest{GroupID: "g", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	send := func() {
		t.Helper()
		_, err := svc.SendWelcome(ctx, alice, aliceDevice, dto.SendWelcomeRequest{
			GroupID: "g", ReceiverID: bob.String(), Data: []byte("welcome"),
		})
		if err != nil {
			t.Fatalf("send welcome: %v", err)
		}
	}

	send()
	res, err := svc.PendingWelcomes(ctx, bob)
	if err != nil {
		t.Fatalf("pending welcomes: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected one welcome per active device, got %d", len(res.Messages))
	}

	// Welcomes are not deduplicated: a re-send produces fresh entries.
	send()
	res, err = svc.PendingWelcomes(ctx, bob)
	if err != nil {
		t.Fatalf("pending welcomes after resend: %v", err)
	}
	if len(res.Messages) != 4 {
		t.Fatalf("expected resent welcome to be retained, got %d entries", len(res.Messages))
	}
}
