package dto

import "time"

type CreateGroupRequest struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
}

type GroupResponse struct {
	GroupID   string    `json:"groupId"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creatorId"`
	Direct    bool      `json:"direct"`
	Members   []string  `json:"members,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type SyncMembersRequest struct {
	MemberIDs []string `json:"memberIds"`
}

type SyncMembersResponse struct {
	GroupID string   `json:"groupId"`
	Members []string `json:"members"`
}

type PublishGroupInfoRequest struct {
	Data   []byte `json:"data"`
	Epoch  uint64 `json:"epoch"`
	Public bool   `json:"public"`
}

type GroupInfoResponse struct {
	GroupID   string    `json:"groupId"`
	Data      []byte    `json:"data"`
	Epoch     uint64    `json:"epoch"`
	Public    bool      `json:"public"`
	UpdatedAt time.Time `json:"updatedAt"`
}
