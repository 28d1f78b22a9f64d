package repository

import (
	"context"
	"errors"
	"time"

	"medisync/internal/domain"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("upload session not found")

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.UploadSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.UploadSession, error) {
	var s domain.UploadSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindByOwnerChecksum returns the most recent session for one logical upload.
// Two sessions with the same (owner_id, checksum) refer to the same content.
func (r *SessionRepository) FindByOwnerChecksum(ctx context.Context, ownerID int64, checksum string) (*domain.UploadSession, error) {
	var s domain.UploadSession
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND checksum = ?", ownerID, checksum).
		Order("created_at DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) Save(ctx context.Context, s *domain.UploadSession) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// UpdateStatus persists a status change with its phase timestamp.
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus, lastError string) error {
	updates := map[string]interface{}{
		"status":     status,
		"last_error": lastError,
	}
	now := time.Now()
	switch status {
	case domain.SessionMetadataUploaded:
		updates["metadata_at"] = &now
	case domain.SessionSynced:
		updates["synced_at"] = &now
	case domain.SessionAckReceived:
		updates["acknowledged_at"] = &now
	}
	return r.db.WithContext(ctx).Model(&domain.UploadSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
}

func (r *SessionRepository) UpdateBytesReceived(ctx context.Context, sessionID string, n int64) error {
	return r.db.WithContext(ctx).Model(&domain.UploadSession{}).
		Where("session_id = ?", sessionID).
		Update("bytes_received", n).Error
}
