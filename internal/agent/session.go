// Package agent is the capture-device half of the sync protocol: a local
// queue of captured files, an HTTP transport to the server, and a
// retry/backoff scheduler that drives every session to ack_received without
// operator intervention. The local file is deleted only after the server's
// ACK, never earlier.
package agent

import (
	"time"

	"medisync/internal/domain"
)

// LocalSession is one queued sync attempt on the capture device. The row
// stays after completion as the local half of the audit trail.
type LocalSession struct {
	SessionID  string `gorm:"column:session_id;primaryKey"`
	ArtifactID string `gorm:"column:artifact_id"`
	OwnerID    int64  `gorm:"column:owner_id"`

	// RemoteSessionID is what the server knows this session as; it differs
	// from SessionID when the server folded us into an earlier session for
	// the same (owner, checksum).
	RemoteSessionID string `gorm:"column:remote_session_id"`

	LocalPath string `gorm:"column:local_path"`
	Filename  string `gorm:"column:filename"`
	Size      int64  `gorm:"column:size"`
	MimeType  string `gorm:"column:mime_type"`
	Checksum  string `gorm:"column:checksum"`
	Metadata  string `gorm:"column:metadata"`

	Status            domain.SessionStatus `gorm:"column:status"`
	RetryCount        int                  `gorm:"column:retry_count"`
	NextAttemptAt     time.Time            `gorm:"column:next_attempt_at;index"`
	BytesSent         int64                `gorm:"column:bytes_sent"`
	ServerArtifactRef string               `gorm:"column:server_artifact_ref"`
	LastError         string               `gorm:"column:last_error"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (LocalSession) TableName() string { return "local_sessions" }
