package sync

import (
	"time"

	"medisync/internal/domain"
)

type MetadataRequest struct {
	SessionID    string `json:"session_id"`
	ArtifactID   string `json:"artifact_id" binding:"required"`
	OwnerID      int64  `json:"owner_id" binding:"required"`
	Filename     string `json:"filename" binding:"required"`
	DeclaredSize int64  `json:"declared_size" binding:"required"`
	MimeType     string `json:"mime_type"`
	Checksum     string `json:"checksum" binding:"required"`
	Metadata     string `json:"metadata"`
	StoredBy     string `json:"stored_by"`
}

// ArtifactDescriptor is the free-form metadata blob the capture device sends
// alongside a payload. Subject identity is snapshotted into the Collection at
// creation time from these fields.
type ArtifactDescriptor struct {
	GroupUID         string `json:"group_uid,omitempty"`
	GroupDescription string `json:"group_description,omitempty"`
	Description      string `json:"description,omitempty"`
	Modality         string `json:"modality,omitempty"`
	SubjectName      string `json:"subject_name,omitempty"`
	SubjectBirthDate string `json:"subject_birth_date,omitempty"`
	SubjectRef       string `json:"subject_ref,omitempty"`
}

type MetadataResult struct {
	SessionID         string               `json:"session_id"`
	Status            domain.SessionStatus `json:"status"`
	ServerArtifactRef string               `json:"server_artifact_ref,omitempty"`
}

type BinaryResult struct {
	SessionID         string               `json:"session_id"`
	Status            domain.SessionStatus `json:"status"`
	BytesReceived     int64                `json:"bytes_received"`
	ServerArtifactRef string               `json:"server_artifact_ref,omitempty"`
}

type AckResult struct {
	SessionID      string               `json:"session_id"`
	Status         domain.SessionStatus `json:"status"`
	AcknowledgedAt time.Time            `json:"acknowledged_at"`
}
