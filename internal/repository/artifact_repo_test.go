package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"medisync/internal/database"
	"medisync/internal/domain"
)

func newArtifactTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Artifact{}))
	return db
}

func testArtifact(uid string, ownerID int64, checksum string) *domain.Artifact {
	return &domain.Artifact{
		ArtifactUID: uid,
		GroupUID:    "group-1",
		OwnerID:     ownerID,
		StorageKey:  "collections/c/g/" + uid + "/scan.dcm",
		Filename:    "scan.dcm",
		Size:        128,
		MimeType:    "application/dicom",
		Checksum:    checksum,
		CreatedAt:   time.Now(),
	}
}

func TestCreateDuplicateOwnerChecksumReturnsSentinel(t *testing.T) {
	repo := NewArtifactRepository(newArtifactTestDB(t))
	sum := "aaaabbbbccccddddeeeeffff0000111122223333444455556666777788889999"

	require.NoError(t, repo.Create(context.Background(), testArtifact("art-1", 7, sum)))

	err := repo.Create(context.Background(), testArtifact("art-2", 7, sum))
	assert.ErrorIs(t, err, ErrDuplicateArtifact)

	// exactly one row survives; the loser adopts it
	winner, err := repo.FindByOwnerChecksum(context.Background(), 7, sum)
	require.NoError(t, err)
	assert.Equal(t, "art-1", winner.ArtifactUID)
}

func TestCreateSameChecksumDifferentOwner(t *testing.T) {
	repo := NewArtifactRepository(newArtifactTestDB(t))
	sum := "aaaabbbbccccddddeeeeffff0000111122223333444455556666777788889999"

	require.NoError(t, repo.Create(context.Background(), testArtifact("art-1", 7, sum)))
	assert.NoError(t, repo.Create(context.Background(), testArtifact("art-2", 8, sum)),
		"dedup is scoped per owner")
}
