package domain

import "time"

// Collection groups the artifacts produced by one clinical order
// (study-analogue). Created at most once per order; subject identity is
// snapshotted at creation time so later subject-record edits cannot
// retroactively alter historical imaging metadata.
type Collection struct {
	CollectionUID string    `gorm:"column:collection_uid;primaryKey" json:"collection_uid"`
	OwnerID       int64     `gorm:"column:owner_id;uniqueIndex" json:"owner_id"`
	Date          time.Time `gorm:"column:date" json:"date"`
	Description   string    `gorm:"column:description" json:"description"`
	Modality      string    `gorm:"column:modality" json:"modality"`

	SubjectName      string `gorm:"column:subject_name" json:"subject_name"`
	SubjectBirthDate string `gorm:"column:subject_birth_date" json:"subject_birth_date"`
	SubjectRef       string `gorm:"column:subject_ref" json:"subject_ref"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Collection) TableName() string { return "collections" }

// Group is a subdivision of a Collection (series-analogue).
type Group struct {
	GroupUID      string    `gorm:"column:group_uid;primaryKey" json:"group_uid"`
	CollectionUID string    `gorm:"column:collection_uid;index" json:"collection_uid"`
	Number        int       `gorm:"column:number" json:"number"`
	Description   string    `gorm:"column:description" json:"description"`
	Modality      string    `gorm:"column:modality" json:"modality"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Group) TableName() string { return "groups" }

// Artifact is one stored binary payload. Rows are immutable and append-only:
// there is no update path for binary content. A row may only be created after
// the payload is durably written and its checksum verified.
//
// OwnerID is denormalized from the Collection so the dedup guarantee lives in
// a storage-layer unique constraint instead of an application check.
type Artifact struct {
	ArtifactUID string    `gorm:"column:artifact_uid;primaryKey" json:"artifact_uid"`
	GroupUID    string    `gorm:"column:group_uid;index" json:"group_uid"`
	OwnerID     int64     `gorm:"column:owner_id;uniqueIndex:idx_artifact_owner_checksum" json:"owner_id"`
	StorageKey  string    `gorm:"column:storage_key;uniqueIndex" json:"storage_key"`
	Filename    string    `gorm:"column:filename" json:"filename"`
	Size        int64     `gorm:"column:size" json:"size"`
	MimeType    string    `gorm:"column:mime_type" json:"mime_type"`
	Checksum    string    `gorm:"column:checksum;uniqueIndex:idx_artifact_owner_checksum" json:"checksum"`
	Metadata    string    `gorm:"column:metadata" json:"metadata,omitempty"`
	StoredBy    string    `gorm:"column:stored_by" json:"stored_by"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Artifact) TableName() string { return "artifacts" }
