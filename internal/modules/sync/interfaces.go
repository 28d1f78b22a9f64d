package sync

import (
	"context"

	"medisync/internal/domain"
)

// SessionRepository persists the append-only upload session audit trail.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.UploadSession) error
	GetByID(ctx context.Context, sessionID string) (*domain.UploadSession, error)
	FindByOwnerChecksum(ctx context.Context, ownerID int64, checksum string) (*domain.UploadSession, error)
	Save(ctx context.Context, s *domain.UploadSession) error
	UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus, lastError string) error
	UpdateBytesReceived(ctx context.Context, sessionID string, n int64) error
}

// CollectionRepository owns the Collection/Group half of the content store.
type CollectionRepository interface {
	GetOrCreate(ctx context.Context, c *domain.Collection) (*domain.Collection, error)
	GetOrCreateGroup(ctx context.Context, g *domain.Group) (*domain.Group, error)
}

// ArtifactRepository owns artifact rows and the (owner_id, checksum) dedup
// constraint.
type ArtifactRepository interface {
	Create(ctx context.Context, a *domain.Artifact) error
	FindByOwnerChecksum(ctx context.Context, ownerID int64, checksum string) (*domain.Artifact, error)
}
