package domain

import (
	"time"

	"github.com/google/uuid"

	"mlsrelay/internal/relayjson"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// Device belongs to exactly one user. A nil RevokedAt means the device is
// active; revoked devices stop receiving inbox fan-out but their history is
// kept.
type Device struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	RevokedAt *time.Time
}

// KeyPackage is a pre-published one-time credential bundle. The relay never
// parses Data; it only hands the blob out at most once (last-resort packages
// excepted).
type KeyPackage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeviceID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Hash       string    `gorm:"type:text;not null;uniqueIndex"`
	Data       []byte    `gorm:"type:bytea;not null"`
	NotBefore  time.Time `gorm:"not null"`
	NotAfter   time.Time `gorm:"not null"`
	LastResort bool      `gorm:"not null;default:false"`
	ConsumedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// Group ids are client-chosen, so they are stored as opaque text rather than
// relay-generated uuids. Direct-message groups are relay-generated and marked
// with Direct.
type Group struct {
	ID        string    `gorm:"type:text;primaryKey"`
	Name      string    `gorm:"type:text;not null"`
	CreatorID uuid.UUID `gorm:"type:uuid;not null"`
	Direct    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

func (Group) TableName() string { return "mls_groups" }

type GroupMember struct {
	GroupID   string    `gorm:"type:text;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

func (GroupMember) TableName() string { return "mls_group_members" }

// GroupInfo is the latest published join metadata for a group, epoch-tagged
// and visibility-scoped. Latest-wins: one row per group.
type GroupInfo struct {
	GroupID   string    `gorm:"type:text;primaryKey"`
	Data      []byte    `gorm:"type:bytea;not null"`
	Epoch     uint64    `gorm:"not null"`
	Public    bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

func (GroupInfo) TableName() string { return "mls_group_infos" }

type MessageKind string

const (
	KindWelcome     MessageKind = "welcome"
	KindCommit      MessageKind = "commit"
	KindApplication MessageKind = "application"
)

// QueuedMessage is an opaque ciphertext awaiting delivery. The
// auto-incremented ID doubles as the per-group ordinal: visibility order is
// insertion order and nothing else.
type QueuedMessage struct {
	ID             uint64      `gorm:"primaryKey;autoIncrement"`
	GroupID        string      `gorm:"type:text;not null;index"`
	SenderDeviceID uuid.UUID   `gorm:"type:uuid;not null"`
	ReceiverUserID *uuid.UUID  `gorm:"type:uuid;index"`
	Kind           MessageKind `gorm:"type:text;not null"`
	Epoch          *uint64
	Data           []byte            `gorm:"type:bytea;not null"`
	Exclude        relayjson.UUIDSet `gorm:"not null"`
	CreatedAt      time.Time         `gorm:"not null;autoCreateTime"`
}

// CommitSlot enforces epoch-fencing: the unique (group, epoch) pair makes the
// second commit insert for the same epoch fail instead of queueing a
// duplicate.
type CommitSlot struct {
	GroupID   string    `gorm:"type:text;primaryKey"`
	Epoch     uint64    `gorm:"primaryKey;autoIncrement:false"`
	MessageID uint64    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// InboxEntry is the per-device projection of a QueuedMessage. It is never
// mutated after insert except for AckedAt.
type InboxEntry struct {
	MessageID uint64    `gorm:"primaryKey;autoIncrement:false"`
	DeviceID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	AckedAt   *time.Time
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskDelivered TaskStatus = "delivered"
	TaskDead      TaskStatus = "dead"
)

// DeliveryTask is an outbound job for the reliable delivery worker. Shape
// follows the usual outbox table: status, attempt counter, next-attempt
// schedule and the last error seen.
type DeliveryTask struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Kind          string         `gorm:"type:text;not null"`
	Payload       relayjson.JSON `gorm:"not null"`
	Status        TaskStatus     `gorm:"type:text;not null;default:pending;index:idx_delivery_tasks_due,priority:1"`
	Attempts      int            `gorm:"not null;default:0"`
	NextAttemptAt time.Time      `gorm:"not null;index:idx_delivery_tasks_due,priority:2"`
	LockedUntil   *time.Time
	LastError     *string   `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime"`
}

// Models lists every relay table for AutoMigrate, leaves first.
func Models() []any {
	return []any{
		&User{}, &Device{}, &KeyPackage{},
		&Group{}, &GroupMember{}, &GroupInfo{},
		&QueuedMessage{}, &CommitSlot{}, &InboxEntry{},
		&DeliveryTask{},
	}
}
