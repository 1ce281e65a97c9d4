package dto

import "time"

type SendWelcomeRequest struct {
	GroupID    string                   `json:"groupId"`
	ReceiverID string                   `json:"receiverId"`
	Data       []byte                   `json:"data"`
	GroupInfo  *PublishGroupInfoRequest `json:"groupInfo,omitempty"`
}

type SendGroupMessageRequest struct {
	GroupID        string   `json:"groupId"`
	MessageType    string   `json:"messageType"`
	Data           []byte   `json:"data"`
	ExcludeUserIDs []string `json:"excludeUserIds,omitempty"`
	Epoch          *uint64  `json:"epoch,omitempty"`
}

type QueuedMessageResponse struct {
	ID             uint64    `json:"id"`
	GroupID        string    `json:"groupId"`
	SenderDeviceID string    `json:"senderDeviceId"`
	MessageType    string    `json:"messageType"`
	Epoch          *uint64   `json:"epoch,omitempty"`
	Data           []byte    `json:"data"`
	CreatedAt      time.Time `json:"createdAt"`
}

type PendingMessage struct {
	ID             uint64    `json:"id"`
	DeviceID       string    `json:"deviceId"`
	GroupID        string    `json:"groupId"`
	SenderDeviceID string    `json:"senderDeviceId"`
	MessageType    string    `json:"messageType"`
	Epoch          *uint64   `json:"epoch,omitempty"`
	Data           []byte    `json:"data"`
	CreatedAt      time.Time `json:"createdAt"`
}

type PendingMessagesResponse struct {
	Messages []PendingMessage `json:"messages"`
}

type AckRequest struct {
	MessageIDs []uint64 `json:"messageIds"`
}

type AckResponse struct {
	Acked int64 `json:"acked"`
}

type DirectMessageResponse struct {
	GroupID string `json:"groupId"`
	PeerID  string `json:"peerId"`
	Created bool   `json:"created"`
}

type RehydrateResponse struct {
	GroupID   string `json:"groupId"`
	MessageID uint64 `json:"messageId"`
	Devices   int    `json:"devices"`
}
