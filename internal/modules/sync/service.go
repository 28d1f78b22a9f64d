package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"medisync/internal/domain"
	"medisync/internal/pkg/checksum"
	"medisync/internal/repository"
	"medisync/internal/store"

	"github.com/google/uuid"
)

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrSessionNotFound) || errors.Is(err, repository.ErrArtifactNotFound)
}

// Service implements the server side of the sync protocol: metadata phase
// with dedup, spooled resumable binary phase, and idempotent acknowledgment.
type Service struct {
	sessions    SessionRepository
	collections CollectionRepository
	artifacts   ArtifactRepository
	blobs       store.BlobStore
	spoolDir    string

	mu     stdsync.Mutex
	spools map[string]*stdsync.Mutex
}

func NewService(sessions SessionRepository, collections CollectionRepository, artifacts ArtifactRepository, blobs store.BlobStore, spoolDir string) (*Service, error) {
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}
	return &Service{
		sessions:    sessions,
		collections: collections,
		artifacts:   artifacts,
		blobs:       blobs,
		spoolDir:    spoolDir,
		spools:      make(map[string]*stdsync.Mutex),
	}, nil
}

// sessionLock serializes spool writes per session. Different sessions stay
// fully parallel; the dedup critical section itself lives in the database
// unique constraint, not here.
func (s *Service) sessionLock(sessionID string) *stdsync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.spools[sessionID]
	if !ok {
		l = &stdsync.Mutex{}
		s.spools[sessionID] = l
	}
	return l
}

// releaseLock drops the per-session mutex once the session can no longer
// accept spool writes, so the map does not grow for the server's lifetime.
func (s *Service) releaseLock(sessionID string) {
	s.mu.Lock()
	delete(s.spools, sessionID)
	s.mu.Unlock()
}

func (s *Service) spoolPath(sessionID string) string {
	return filepath.Join(s.spoolDir, sessionID+".part")
}

// SubmitMetadata is operation 1. It is idempotent per (owner_id, checksum):
// a repeat submission reuses the existing session, and if the content is
// already stored the session short-circuits straight to ack_received so no
// binary transfer happens twice for the same bytes.
func (s *Service) SubmitMetadata(ctx context.Context, req MetadataRequest) (*MetadataResult, error) {
	if req.OwnerID <= 0 || req.Filename == "" || req.DeclaredSize <= 0 || req.ArtifactID == "" {
		return nil, ErrValidation
	}
	if !checksum.Valid(req.Checksum) {
		return nil, ErrValidation
	}

	existing, err := s.sessions.FindByOwnerChecksum(ctx, req.OwnerID, req.Checksum)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	// dedup fast path: content already stored for this owner
	if art, aerr := s.artifacts.FindByOwnerChecksum(ctx, req.OwnerID, req.Checksum); aerr == nil {
		if existing != nil && existing.Status == domain.SessionAckReceived {
			return &MetadataResult{SessionID: existing.SessionID, Status: existing.Status, ServerArtifactRef: art.ArtifactUID}, nil
		}
		sess := existing
		if sess == nil {
			sess = s.newSession(req)
			if err := s.sessions.Create(ctx, sess); err != nil {
				return nil, err
			}
		}
		if err := advance(sess, ackPath(sess.Status)...); err != nil {
			return nil, err
		}
		now := time.Now()
		sess.ArtifactUID = art.ArtifactUID
		sess.AcknowledgedAt = &now
		if err := s.sessions.Save(ctx, sess); err != nil {
			return nil, err
		}
		return &MetadataResult{SessionID: sess.SessionID, Status: sess.Status, ServerArtifactRef: art.ArtifactUID}, nil
	} else if !isNotFound(aerr) {
		return nil, aerr
	}

	if existing != nil {
		// failed sessions are reset so the retry edge restarts the binary
		// phase cleanly; live sessions are simply echoed back
		if existing.Status == domain.SessionFailed {
			// the retry edge plus the metadata phase this resubmission covers
			if err := advance(existing,
				domain.SessionQueued,
				domain.SessionMetadataUploading,
				domain.SessionMetadataUploaded,
			); err != nil {
				return nil, err
			}
			existing.BytesReceived = 0
			existing.LastError = ""
			now := time.Now()
			existing.MetadataAt = &now
			_ = os.Remove(s.spoolPath(existing.SessionID))
			if err := s.sessions.Save(ctx, existing); err != nil {
				return nil, err
			}
		}
		return &MetadataResult{SessionID: existing.SessionID, Status: existing.Status, ServerArtifactRef: existing.ArtifactUID}, nil
	}

	sess := s.newSession(req)
	now := time.Now()
	sess.Status = domain.SessionMetadataUploaded
	sess.MetadataAt = &now
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return &MetadataResult{SessionID: sess.SessionID, Status: sess.Status}, nil
}

// advance walks a session through steps, validating every edge against the
// transition table before applying it.
func advance(sess *domain.UploadSession, steps ...domain.SessionStatus) error {
	for _, next := range steps {
		if !sess.Status.CanTransition(next) {
			return ErrIllegalTransition
		}
		sess.Status = next
	}
	return nil
}

// ackPath lists the legal edges from a status to ack_received. The dedup
// short circuit folds the phases a session skips when its content is already
// stored; every hop still has to exist in the transition table.
func ackPath(from domain.SessionStatus) []domain.SessionStatus {
	switch from {
	case domain.SessionQueued:
		return []domain.SessionStatus{domain.SessionMetadataUploading, domain.SessionMetadataUploaded, domain.SessionAckReceived}
	case domain.SessionMetadataUploading:
		return []domain.SessionStatus{domain.SessionMetadataUploaded, domain.SessionAckReceived}
	case domain.SessionBinaryUploading:
		return []domain.SessionStatus{domain.SessionSynced, domain.SessionAckReceived}
	case domain.SessionFailed:
		return []domain.SessionStatus{domain.SessionQueued, domain.SessionMetadataUploading, domain.SessionMetadataUploaded, domain.SessionAckReceived}
	default:
		return []domain.SessionStatus{domain.SessionAckReceived}
	}
}

func (s *Service) newSession(req MetadataRequest) *domain.UploadSession {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &domain.UploadSession{
		SessionID:    sessionID,
		ArtifactID:   req.ArtifactID,
		OwnerID:      req.OwnerID,
		Filename:     req.Filename,
		DeclaredSize: req.DeclaredSize,
		MimeType:     req.MimeType,
		Checksum:     req.Checksum,
		Metadata:     req.Metadata,
		Status:       domain.SessionQueued,
		CreatedAt:    time.Now(),
	}
}

// AppendBinary is operation 2. Chunks spool to a per-session staging file;
// nothing touches the content store until the final byte has arrived and the
// checksum verified, so a timed-out transfer leaves zero artifact rows.
func (s *Service) AppendBinary(ctx context.Context, sessionID string, offset int64, r io.Reader) (*BinaryResult, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case domain.SessionSynced, domain.SessionAckReceived:
		// the client lost our earlier response; repeat it
		s.releaseLock(sess.SessionID)
		return &BinaryResult{SessionID: sess.SessionID, Status: sess.Status, BytesReceived: sess.BytesReceived, ServerArtifactRef: sess.ArtifactUID}, nil
	case domain.SessionMetadataUploaded:
		if !sess.Status.CanTransition(domain.SessionBinaryUploading) {
			return nil, ErrIllegalTransition
		}
		sess.Status = domain.SessionBinaryUploading
		if err := s.sessions.UpdateStatus(ctx, sess.SessionID, sess.Status, ""); err != nil {
			return nil, err
		}
	case domain.SessionBinaryUploading:
	default:
		return nil, fmt.Errorf("%w: session is %s, binary phase not open", ErrValidation, sess.Status)
	}

	if offset != sess.BytesReceived {
		return nil, &OffsetMismatchError{Expected: sess.BytesReceived}
	}

	written, err := s.appendToSpool(sess, offset, r)
	if err != nil {
		return nil, err
	}

	total := offset + written
	if total > sess.DeclaredSize {
		s.failSession(ctx, sess, "SIZE_MISMATCH: received more bytes than declared")
		_ = os.Remove(s.spoolPath(sess.SessionID))
		return nil, ErrSizeMismatch
	}

	sess.BytesReceived = total
	if err := s.sessions.UpdateBytesReceived(ctx, sess.SessionID, total); err != nil {
		return nil, err
	}

	if total < sess.DeclaredSize {
		return &BinaryResult{SessionID: sess.SessionID, Status: sess.Status, BytesReceived: total}, nil
	}

	return s.finalize(ctx, sess)
}

func (s *Service) appendToSpool(sess *domain.UploadSession, offset int64, r io.Reader) (int64, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.spoolPath(sess.SessionID), flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("spool open: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("spool seek: %w", err)
	}

	// read one byte past the declared remainder so an oversized payload is
	// detected instead of silently truncated
	remaining := sess.DeclaredSize - offset
	written, err := io.Copy(f, io.LimitReader(r, remaining+1))
	if err != nil {
		return 0, fmt.Errorf("spool write: %w", err)
	}
	return written, nil
}

// finalize verifies the spooled payload and, only then, materializes the
// Collection/Group/Artifact hierarchy. Blob write success and row creation
// are coupled: a storage failure creates no row.
func (s *Service) finalize(ctx context.Context, sess *domain.UploadSession) (*BinaryResult, error) {
	spool := s.spoolPath(sess.SessionID)

	digest, err := checksum.SumFile(spool)
	if err != nil {
		return nil, fmt.Errorf("spool digest: %w", err)
	}
	if digest != sess.Checksum {
		// the declared checksum is the identity of the content and is never
		// altered here; the client must re-send matching bytes or enqueue a
		// new logical artifact
		s.failSession(ctx, sess, "CHECKSUM_MISMATCH: stored payload does not match declared checksum")
		_ = os.Remove(spool)
		return nil, ErrChecksumMismatch
	}

	// a racing session for the same content may have finished first
	if art, aerr := s.artifacts.FindByOwnerChecksum(ctx, sess.OwnerID, sess.Checksum); aerr == nil {
		return s.markSynced(ctx, sess, art.ArtifactUID, spool)
	} else if !isNotFound(aerr) {
		return nil, aerr
	}

	var desc ArtifactDescriptor
	if sess.Metadata != "" {
		_ = json.Unmarshal([]byte(sess.Metadata), &desc)
	}

	coll, err := s.collections.GetOrCreate(ctx, &domain.Collection{
		OwnerID:          sess.OwnerID,
		Date:             time.Now(),
		Description:      desc.Description,
		Modality:         desc.Modality,
		SubjectName:      desc.SubjectName,
		SubjectBirthDate: desc.SubjectBirthDate,
		SubjectRef:       desc.SubjectRef,
	})
	if err != nil {
		return nil, err
	}

	group, err := s.collections.GetOrCreateGroup(ctx, &domain.Group{
		GroupUID:      desc.GroupUID,
		CollectionUID: coll.CollectionUID,
		Description:   desc.GroupDescription,
		Modality:      desc.Modality,
	})
	if err != nil {
		return nil, err
	}

	artifactUID := uuid.NewString()
	key := store.Key(coll.CollectionUID, group.GroupUID, artifactUID, sess.Filename)

	f, err := os.Open(spool)
	if err != nil {
		return nil, fmt.Errorf("spool reopen: %w", err)
	}
	putErr := s.blobs.Put(ctx, key, f, sess.DeclaredSize)
	f.Close()
	if putErr != nil {
		// recoverable: the session fails without a row and the client's
		// retry edge restarts the binary phase
		s.failSession(ctx, sess, "STORAGE_UNAVAILABLE: "+putErr.Error())
		return nil, ErrStorageUnavailable
	}

	art := &domain.Artifact{
		ArtifactUID: artifactUID,
		GroupUID:    group.GroupUID,
		OwnerID:     sess.OwnerID,
		StorageKey:  key,
		Filename:    sess.Filename,
		Size:        sess.DeclaredSize,
		MimeType:    sess.MimeType,
		Checksum:    sess.Checksum,
		Metadata:    sess.Metadata,
		StoredBy:    sess.ArtifactID,
		CreatedAt:   time.Now(),
	}
	if err := s.artifacts.Create(ctx, art); err != nil {
		if errors.Is(err, repository.ErrDuplicateArtifact) {
			// lost the check-then-insert race: adopt the winner's row. The
			// bytes under our key are identical content; with no deletion
			// path in the store they simply remain unreferenced.
			winner, werr := s.artifacts.FindByOwnerChecksum(ctx, sess.OwnerID, sess.Checksum)
			if werr != nil {
				return nil, werr
			}
			return s.markSynced(ctx, sess, winner.ArtifactUID, spool)
		}
		return nil, err
	}

	return s.markSynced(ctx, sess, artifactUID, spool)
}

func (s *Service) markSynced(ctx context.Context, sess *domain.UploadSession, artifactUID, spool string) (*BinaryResult, error) {
	if !sess.Status.CanTransition(domain.SessionSynced) {
		return nil, ErrIllegalTransition
	}
	now := time.Now()
	sess.Status = domain.SessionSynced
	sess.ArtifactUID = artifactUID
	sess.SyncedAt = &now
	sess.LastError = ""
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	_ = os.Remove(spool)
	s.releaseLock(sess.SessionID)
	return &BinaryResult{SessionID: sess.SessionID, Status: sess.Status, BytesReceived: sess.BytesReceived, ServerArtifactRef: artifactUID}, nil
}

// Acknowledge is operation 3. The ACK is the only authorization for the
// capture device to delete its local copy, and reissuing it is always safe.
func (s *Service) Acknowledge(ctx context.Context, sessionID string) (*AckResult, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Status == domain.SessionAckReceived {
		ackedAt := time.Now()
		if sess.AcknowledgedAt != nil {
			ackedAt = *sess.AcknowledgedAt
		}
		return &AckResult{SessionID: sess.SessionID, Status: sess.Status, AcknowledgedAt: ackedAt}, nil
	}

	if sess.Status != domain.SessionSynced {
		return nil, ErrNotSynced
	}
	if !sess.Status.CanTransition(domain.SessionAckReceived) {
		return nil, ErrIllegalTransition
	}

	now := time.Now()
	sess.Status = domain.SessionAckReceived
	sess.AcknowledgedAt = &now
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &AckResult{SessionID: sess.SessionID, Status: sess.Status, AcknowledgedAt: now}, nil
}

func (s *Service) failSession(ctx context.Context, sess *domain.UploadSession, reason string) {
	if !sess.Status.CanTransition(domain.SessionFailed) {
		return
	}
	sess.Status = domain.SessionFailed
	sess.LastError = reason
	_ = s.sessions.UpdateStatus(ctx, sess.SessionID, domain.SessionFailed, reason)
}
