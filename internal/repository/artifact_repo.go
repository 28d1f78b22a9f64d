package repository

import (
	"context"
	"errors"
	"strings"

	"medisync/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"modernc.org/sqlite"
)

var (
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrDuplicateArtifact = errors.New("artifact with this checksum already exists for owner")
)

type ArtifactRepository struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Create inserts an artifact row. The unique constraint on
// (owner_id, checksum) is the authoritative dedup guarantee: under true
// concurrency exactly one of two racing inserts commits, the other gets
// ErrDuplicateArtifact and must adopt the winner's row.
func (r *ArtifactRepository) Create(ctx context.Context, a *domain.Artifact) error {
	err := r.db.WithContext(ctx).Create(a).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ErrDuplicateArtifact
	}
	return err
}

// isUniqueViolation recognizes a unique-constraint violation on either
// backend. The modernc sqlite driver is not covered by gorm's TranslateError,
// so its error type and message are matched directly.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// SQLITE_CONSTRAINT_PRIMARYKEY (1555), SQLITE_CONSTRAINT_UNIQUE (2067)
		code := sqliteErr.Code()
		return code == 1555 || code == 2067
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *ArtifactRepository) GetByUID(ctx context.Context, uid string) (*domain.Artifact, error) {
	var a domain.Artifact
	err := r.db.WithContext(ctx).Where("artifact_uid = ?", uid).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByOwnerChecksum is the dedup fast path checked at metadata submission.
func (r *ArtifactRepository) FindByOwnerChecksum(ctx context.Context, ownerID int64, checksum string) (*domain.Artifact, error) {
	var a domain.Artifact
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND checksum = ?", ownerID, checksum).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ArtifactRepository) ListByGroup(ctx context.Context, groupUID string) ([]domain.Artifact, error) {
	var artifacts []domain.Artifact
	err := r.db.WithContext(ctx).
		Where("group_uid = ?", groupUID).
		Order("created_at ASC").
		Find(&artifacts).Error
	return artifacts, err
}
