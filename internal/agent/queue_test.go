package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medisync/internal/database"
	"medisync/internal/domain"
	"medisync/internal/pkg/checksum"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	q, err := NewQueue(db)
	require.NoError(t, err)
	return q
}

func writeCapture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.dcm")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEnqueueComputesChecksumOnce(t *testing.T) {
	q := newTestQueue(t)
	path := writeCapture(t, "slice data")

	s, err := q.Enqueue(context.Background(), 42, path, "application/dicom", "")
	require.NoError(t, err)

	want, err := checksum.SumFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, s.Checksum)
	assert.Equal(t, int64(len("slice data")), s.Size)
	assert.Equal(t, domain.SessionQueued, s.Status)
	assert.NotEmpty(t, s.SessionID)
	assert.NotEmpty(t, s.ArtifactID)

	// identity stays fixed even if the file changes afterwards
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o600))
	got, err := q.GetByID(context.Background(), s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, want, got.Checksum)
}

func TestEnqueueRejectsEmptyFile(t *testing.T) {
	q := newTestQueue(t)
	path := writeCapture(t, "")

	_, err := q.Enqueue(context.Background(), 42, path, "application/dicom", "")
	assert.Error(t, err)
}

func TestDueHonorsBackoffDeadline(t *testing.T) {
	q := newTestQueue(t)
	path := writeCapture(t, "payload")

	s, err := q.Enqueue(context.Background(), 1, path, "application/dicom", "")
	require.NoError(t, err)

	s.NextAttemptAt = time.Now().Add(time.Hour)
	require.NoError(t, q.Save(context.Background(), s))

	due, err := q.Due(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = q.Due(context.Background(), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestDueExcludesAcknowledged(t *testing.T) {
	q := newTestQueue(t)
	path := writeCapture(t, "payload")

	s, err := q.Enqueue(context.Background(), 1, path, "application/dicom", "")
	require.NoError(t, err)

	s.Status = domain.SessionAckReceived
	require.NoError(t, q.Save(context.Background(), s))

	due, err := q.Due(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListFailedSeparatesFromPending(t *testing.T) {
	q := newTestQueue(t)

	a, err := q.Enqueue(context.Background(), 1, writeCapture(t, "one"), "application/dicom", "")
	require.NoError(t, err)
	b, err := q.Enqueue(context.Background(), 1, writeCapture(t, "two"), "application/dicom", "")
	require.NoError(t, err)

	b.Status = domain.SessionFailed
	b.LastError = "connection refused"
	require.NoError(t, q.Save(context.Background(), b))

	pending, err := q.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.SessionID, pending[0].SessionID)

	failed, err := q.ListFailed(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, b.SessionID, failed[0].SessionID)
}
