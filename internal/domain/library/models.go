package library

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Library groups library items and decides whether they may be mutated.
type Library struct {
	Name       string    `gorm:"primaryKey;column:name" json:"name"`
	IsEditable bool      `gorm:"not null;column:is_editable" json:"is_editable"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Library) TableName() string { return "mdr_library" }

// VersionRoot is the stable identity of one versioned item. Revision advances on
// every committed save and guards optimistic writes.
type VersionRoot struct {
	UID              string    `gorm:"primaryKey;column:uid" json:"uid"`
	Family           string    `gorm:"not null;column:family;index:idx_mdr_root_family_identity,priority:1;index:idx_mdr_root_family_library,priority:1" json:"family"`
	LibraryName      string    `gorm:"not null;column:library_name;index:idx_mdr_root_family_library,priority:2" json:"library_name"`
	IdentityKey      string    `gorm:"column:identity_key;index:idx_mdr_root_family_identity,priority:2" json:"identity_key"`
	Revision         int64     `gorm:"not null;default:1;column:revision" json:"revision"`
	LatestSeq        int       `gorm:"not null;default:0;column:latest_seq" json:"latest_seq"`
	LatestDraftSeq   int       `gorm:"not null;default:0;column:latest_draft_seq" json:"latest_draft_seq"`
	LatestFinalSeq   int       `gorm:"not null;default:0;column:latest_final_seq" json:"latest_final_seq"`
	LatestRetiredSeq int       `gorm:"not null;default:0;column:latest_retired_seq" json:"latest_retired_seq"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (VersionRoot) TableName() string { return "mdr_version_root" }

// Version is one entry of an item's chain. Content lives in VersionValue.
type Version struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RootUID           string     `gorm:"not null;column:root_uid;uniqueIndex:idx_mdr_version_root_seq,priority:1" json:"root_uid"`
	Seq               int        `gorm:"not null;column:seq;uniqueIndex:idx_mdr_version_root_seq,priority:2" json:"seq"`
	Major             int        `gorm:"not null;column:major" json:"major"`
	Minor             int        `gorm:"not null;column:minor" json:"minor"`
	Status            string     `gorm:"not null;column:status;index" json:"status"`
	StartDate         time.Time  `gorm:"not null;column:start_date;index" json:"start_date"`
	EndDate           *time.Time `gorm:"column:end_date" json:"end_date,omitempty"`
	AuthorID          string     `gorm:"column:author_id" json:"author_id"`
	ChangeDescription string     `gorm:"column:change_description" json:"change_description"`
	ValueHash         string     `gorm:"not null;column:value_hash;index" json:"value_hash"`
}

func (Version) TableName() string { return "mdr_version" }

// VersionValue is a content record shared by every version with the same payload.
type VersionValue struct {
	Hash    string         `gorm:"primaryKey;column:hash" json:"hash"`
	Family  string         `gorm:"not null;column:family;index" json:"family"`
	Payload datatypes.JSON `gorm:"not null;column:payload" json:"payload"`
}

func (VersionValue) TableName() string { return "mdr_version_value" }

// VersionRelation is an outgoing reference of an item's current content.
type VersionRelation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RootUID   string    `gorm:"not null;column:root_uid;uniqueIndex:idx_mdr_relation_unique,priority:1" json:"root_uid"`
	Type      string    `gorm:"not null;column:type;uniqueIndex:idx_mdr_relation_unique,priority:2" json:"type"`
	TargetUID string    `gorm:"not null;column:target_uid;uniqueIndex:idx_mdr_relation_unique,priority:3;index" json:"target_uid"`
}

func (VersionRelation) TableName() string { return "mdr_version_relation" }
