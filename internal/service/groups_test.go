package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
)

func TestCreateGroupDuplicateID(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	creator := uuid.New()
	req := dto.CreateGroupRequest{GroupID: "team-chat", Name: "Team Chat"}

	if _, err := svc.CreateGroup(ctx, creator, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.CreateGroup(ctx, uuid.New(), req)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected Conflict on duplicate group id, got %v", err)
	}
}

func TestSyncMembersReconcilesRoster(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	creator := uuid.New()
	other := uuid.New()
	replacement := uuid.New()

	if _, err := svc.CreateGroup(ctx, creator, dto.CreateGroupRequest{GroupID: "g1", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.SyncMembers(ctx, creator, "g1", dto.SyncMembersRequest{
		MemberIDs: []string{creator.String(), other.String()},
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Reconcile, not append: other drops out, replacement comes in.
	_, err = svc.SyncMembers(ctx, creator, "g1", dto.SyncMembersRequest{
		MemberIDs: []string{creator.String(), replacement.String()},
	})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}

	members, err := st.Groups().Members(ctx, "g1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected exactly 2 members, got %d", len(members))
	}
	for _, m := range members {
		if m == other {
			t.Fatalf("removed member still in roster")
		}
	}
}

func TestSyncMembersRejections(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	creator := uuid.New()
	if _, err := svc.CreateGroup(ctx, creator, dto.CreateGroupRequest{GroupID: "g2", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := svc.SyncMembers(ctx, creator, "g2", dto.SyncMembersRequest{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected Validation on empty set, got %v", err)
	}

	_, err = svc.SyncMembers(ctx, creator, "g2", dto.SyncMembersRequest{MemberIDs: []string{"not-a-uuid"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected Validation on malformed id, got %v", err)
	}

	_, err = svc.SyncMembers(ctx, creator, "g2", dto.SyncMembersRequest{MemberIDs: []string{uuid.New().String()}})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected Forbidden when caller not listed, got %v", err)
	}

	_, err = svc.SyncMembers(ctx, creator, "missing", dto.SyncMembersRequest{MemberIDs: []string{creator.String()}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound on unknown group, got %v", err)
	}
}

func TestGroupInfoVisibility(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	member := uuid.New()
	outsider := uuid.New()

	if _, err := svc.CreateGroup(ctx, member, dto.CreateGroupRequest{GroupID: "g3", Name: "g"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := svc.GetGroupInfo(ctx, member, "g3")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound before publish, got %v", err)
	}

	_, err = svc.PublishGroupInfo(ctx, outsider, "g3", dto.PublishGroupInfoRequest{Data: []byte("gi"), Epoch: 1})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected Forbidden for non-member publish, got %v", err)
	}

	if _, err := svc.PublishGroupInfo(ctx, member, "g3", dto.PublishGroupInfoRequest{Data: []byte("gi"), Epoch: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, err = svc.GetGroupInfo(ctx, outsider, "g3")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected Forbidden for private info, got %v", err)
	}

	// Republishing as public opens it up; latest wins.
	if _, err := svc.PublishGroupInfo(ctx, member, "g3", dto.PublishGroupInfoRequest{Data: []byte("gi2"), Epoch: 2, Public: true}); err != nil {
		t.Fatalf("republish: %v", err)
	}
	info, err := svc.GetGroupInfo(ctx, outsider, "g3")
	if err != nil {
		t.Fatalf("get public: %v", err)
	}
	if info.Epoch != 2 || string(info.Data) != "gi2" {
		t.Fatalf("expected latest blob, got %+v", info)
	}

	_, err = svc.GetGroupInfo(ctx, member, "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound for unknown group, got %v", err)
	}
}
