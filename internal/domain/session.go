package domain

import "time"

// SessionStatus is the sync progress of one uploaded artifact. Transitions
// are closed: only the edges listed in sessionTransitions are legal, so an
// illegal jump is rejected at the call site instead of silently persisted.
type SessionStatus string

const (
	SessionQueued            SessionStatus = "queued"
	SessionMetadataUploading SessionStatus = "metadata_uploading"
	SessionMetadataUploaded  SessionStatus = "metadata_uploaded"
	SessionBinaryUploading   SessionStatus = "binary_uploading"
	SessionSynced            SessionStatus = "synced"
	SessionAckReceived       SessionStatus = "ack_received"
	SessionFailed            SessionStatus = "failed"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionQueued:            {SessionMetadataUploading, SessionFailed},
	SessionMetadataUploading: {SessionMetadataUploaded, SessionFailed},
	SessionMetadataUploaded:  {SessionBinaryUploading, SessionAckReceived, SessionFailed},
	SessionBinaryUploading:   {SessionSynced, SessionFailed},
	SessionSynced:            {SessionAckReceived, SessionFailed},
	SessionAckReceived:       {},
	// failed -> queued is the only retry edge
	SessionFailed: {SessionQueued},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the session can never advance again.
func (s SessionStatus) Terminal() bool {
	return s == SessionAckReceived
}

// UploadSession is the server-side record of one sync attempt. Rows are
// append-only: sessions are never hard-deleted, they form the audit trail
// of everything a capture device ever pushed.
type UploadSession struct {
	SessionID      string        `gorm:"column:session_id;primaryKey" json:"session_id"`
	ArtifactID     string        `gorm:"column:artifact_id;index" json:"artifact_id"`
	OwnerID        int64         `gorm:"column:owner_id;index:idx_session_owner_checksum" json:"owner_id"`
	Filename       string        `gorm:"column:filename" json:"filename"`
	DeclaredSize   int64         `gorm:"column:declared_size" json:"declared_size"`
	MimeType       string        `gorm:"column:mime_type" json:"mime_type"`
	Checksum       string        `gorm:"column:checksum;index:idx_session_owner_checksum" json:"checksum"`
	Metadata       string        `gorm:"column:metadata" json:"metadata,omitempty"`
	Status         SessionStatus `gorm:"column:status" json:"status"`
	BytesReceived  int64         `gorm:"column:bytes_received" json:"bytes_received"`
	ArtifactUID    string        `gorm:"column:artifact_uid" json:"server_artifact_ref,omitempty"`
	LastError      string        `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time     `gorm:"column:created_at" json:"created_at"`
	MetadataAt     *time.Time    `gorm:"column:metadata_at" json:"metadata_at,omitempty"`
	SyncedAt       *time.Time    `gorm:"column:synced_at" json:"synced_at,omitempty"`
	AcknowledgedAt *time.Time    `gorm:"column:acknowledged_at" json:"acknowledged_at,omitempty"`
}

func (UploadSession) TableName() string { return "upload_sessions" }
