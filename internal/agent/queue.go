package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"medisync/internal/domain"
	"medisync/internal/pkg/checksum"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrLocalSessionNotFound = errors.New("local session not found")

// Queue is the agent's persistent session store (SQLite on the device).
type Queue struct {
	db *gorm.DB
}

func NewQueue(db *gorm.DB) (*Queue, error) {
	if err := db.AutoMigrate(&LocalSession{}); err != nil {
		return nil, err
	}
	return &Queue{db: db}, nil
}

// Enqueue registers a captured file for sync. The checksum is computed here,
// once, and becomes the immutable identity of the content for the session's
// whole life.
func (q *Queue) Enqueue(ctx context.Context, ownerID int64, localPath, mimeType, metadata string) (*LocalSession, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat capture: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("capture %s is empty", localPath)
	}

	digest, err := checksum.SumFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("checksum capture: %w", err)
	}

	sessionID := uuid.NewString()
	s := &LocalSession{
		SessionID:       sessionID,
		ArtifactID:      uuid.NewString(),
		OwnerID:         ownerID,
		RemoteSessionID: sessionID,
		LocalPath:       localPath,
		Filename:        info.Name(),
		Size:            info.Size(),
		MimeType:        mimeType,
		Checksum:        digest,
		Metadata:        metadata,
		Status:          domain.SessionQueued,
		NextAttemptAt:   time.Now(),
		CreatedAt:       time.Now(),
	}
	if err := q.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// Due returns sessions eligible for work: not yet acknowledged and past
// their per-session backoff deadline.
func (q *Queue) Due(ctx context.Context, now time.Time) ([]LocalSession, error) {
	var sessions []LocalSession
	err := q.db.WithContext(ctx).
		Where("status <> ? AND next_attempt_at <= ?", domain.SessionAckReceived, now).
		Order("next_attempt_at ASC").
		Find(&sessions).Error
	return sessions, err
}

func (q *Queue) Save(ctx context.Context, s *LocalSession) error {
	s.UpdatedAt = time.Now()
	return q.db.WithContext(ctx).Save(s).Error
}

func (q *Queue) GetByID(ctx context.Context, sessionID string) (*LocalSession, error) {
	var s LocalSession
	err := q.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLocalSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListPending returns sessions still moving through the pipeline.
func (q *Queue) ListPending(ctx context.Context) ([]LocalSession, error) {
	var sessions []LocalSession
	err := q.db.WithContext(ctx).
		Where("status NOT IN ?", []domain.SessionStatus{domain.SessionAckReceived, domain.SessionFailed}).
		Order("created_at ASC").
		Find(&sessions).Error
	return sessions, err
}

// ListFailed returns sessions waiting on a retry or on an operator.
func (q *Queue) ListFailed(ctx context.Context) ([]LocalSession, error) {
	var sessions []LocalSession
	err := q.db.WithContext(ctx).
		Where("status = ?", domain.SessionFailed).
		Order("created_at ASC").
		Find(&sessions).Error
	return sessions, err
}
