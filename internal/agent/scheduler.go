package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"medisync/internal/domain"
	syncmod "medisync/internal/modules/sync"
)

// SchedulerConfig tunes the retry loop.
type SchedulerConfig struct {
	MaxRetries   int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	ChunkSize    int64
	PollInterval time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxRetries:   5,
		BaseBackoff:  2 * time.Second,
		MaxBackoff:   5 * time.Minute,
		ChunkSize:    1 << 20,
		PollInterval: 3 * time.Second,
	}
}

// Scheduler walks the local queue and drives every session forward from its
// exact current phase. Backoff is exponential with a ceiling and keyed per
// session, so one stalled session never starves the rest.
type Scheduler struct {
	queue     *Queue
	transport Transport
	cfg       SchedulerConfig
	now       func() time.Time
}

func NewScheduler(queue *Queue, transport Transport, cfg SchedulerConfig) *Scheduler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1 << 20
	}
	return &Scheduler{queue: queue, transport: transport, cfg: cfg, now: time.Now}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			log.Printf("scheduler tick error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick processes every due session once.
func (s *Scheduler) Tick(ctx context.Context) error {
	due, err := s.queue.Due(ctx, s.now())
	if err != nil {
		return err
	}
	for i := range due {
		sess := &due[i]
		if err := s.process(ctx, sess); err != nil {
			log.Printf("session %s: %v", sess.SessionID, err)
		}
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, sess *LocalSession) error {
	switch sess.Status {
	case domain.SessionFailed:
		return s.retry(ctx, sess)
	case domain.SessionQueued:
		return s.submitMetadata(ctx, sess)
	case domain.SessionMetadataUploading:
		// crashed mid-phase; the metadata call is idempotent, redo it
		return s.submitMetadata(ctx, sess)
	case domain.SessionMetadataUploaded, domain.SessionBinaryUploading:
		return s.submitBinary(ctx, sess)
	case domain.SessionSynced:
		return s.requestAck(ctx, sess)
	default:
		return nil
	}
}

// retry is the single failed -> queued edge, gated by the retry budget.
func (s *Scheduler) retry(ctx context.Context, sess *LocalSession) error {
	if sess.RetryCount >= s.cfg.MaxRetries {
		// RETRY_EXHAUSTED: surfaced via ListFailed for an operator; the
		// local file stays untouched
		return nil
	}
	if !sess.Status.CanTransition(domain.SessionQueued) {
		return fmt.Errorf("illegal transition %s -> %s", sess.Status, domain.SessionQueued)
	}
	sess.Status = domain.SessionQueued
	sess.RetryCount++
	sess.NextAttemptAt = s.now().Add(s.backoff(sess.RetryCount))
	return s.queue.Save(ctx, sess)
}

func (s *Scheduler) submitMetadata(ctx context.Context, sess *LocalSession) error {
	if sess.Status == domain.SessionQueued {
		sess.Status = domain.SessionMetadataUploading
		if err := s.queue.Save(ctx, sess); err != nil {
			return err
		}
	}

	result, err := s.transport.SubmitMetadata(ctx, syncmod.MetadataRequest{
		SessionID:    sess.SessionID,
		ArtifactID:   sess.ArtifactID,
		OwnerID:      sess.OwnerID,
		Filename:     sess.Filename,
		DeclaredSize: sess.Size,
		MimeType:     sess.MimeType,
		Checksum:     sess.Checksum,
		Metadata:     sess.Metadata,
	})
	if err != nil {
		return s.fail(ctx, sess, err)
	}

	sess.RemoteSessionID = result.SessionID

	if result.Status == domain.SessionAckReceived {
		// dedup hit: the content is already stored and acknowledged
		sess.ServerArtifactRef = result.ServerArtifactRef
		return s.acknowledgeLocally(ctx, sess)
	}

	sess.Status = domain.SessionMetadataUploaded
	sess.BytesSent = 0
	sess.LastError = ""
	return s.queue.Save(ctx, sess)
}

func (s *Scheduler) submitBinary(ctx context.Context, sess *LocalSession) error {
	f, err := os.Open(sess.LocalPath)
	if err != nil {
		return s.fail(ctx, sess, fmt.Errorf("open capture: %w", err))
	}
	defer f.Close()

	if sess.Status == domain.SessionMetadataUploaded {
		sess.Status = domain.SessionBinaryUploading
		if err := s.queue.Save(ctx, sess); err != nil {
			return err
		}
	}

	chunk := make([]byte, s.cfg.ChunkSize)
	for sess.BytesSent < sess.Size {
		n, rerr := f.ReadAt(chunk, sess.BytesSent)
		if n == 0 {
			if rerr != nil && !errors.Is(rerr, io.EOF) {
				return s.fail(ctx, sess, fmt.Errorf("read capture: %w", rerr))
			}
			return s.fail(ctx, sess, fmt.Errorf("capture shrank below declared size"))
		}

		result, err := s.transport.SubmitBinary(ctx, sess.RemoteSessionID, sess.BytesSent, chunk[:n])
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Code == "OFFSET_MISMATCH" {
				// the server's byte count is authoritative; adopt and go on
				sess.BytesSent = apiErr.ExpectedOffset
				if err := s.queue.Save(ctx, sess); err != nil {
					return err
				}
				continue
			}
			return s.fail(ctx, sess, err)
		}

		sess.BytesSent = result.BytesReceived
		if result.Status == domain.SessionSynced || result.Status == domain.SessionAckReceived {
			return s.markSyncedAndAck(ctx, sess, result.ServerArtifactRef)
		}
		if err := s.queue.Save(ctx, sess); err != nil {
			return err
		}
	}

	// Every declared byte is on the server but the session is not synced,
	// which happens when the server counted the final chunk and then went
	// down before finalizing. An empty chunk at the full offset makes it
	// re-verify the spool and finalize.
	result, err := s.transport.SubmitBinary(ctx, sess.RemoteSessionID, sess.BytesSent, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "OFFSET_MISMATCH" {
			sess.BytesSent = apiErr.ExpectedOffset
			return s.queue.Save(ctx, sess)
		}
		return s.fail(ctx, sess, err)
	}
	if result.Status == domain.SessionSynced || result.Status == domain.SessionAckReceived {
		sess.BytesSent = result.BytesReceived
		return s.markSyncedAndAck(ctx, sess, result.ServerArtifactRef)
	}
	return s.fail(ctx, sess, fmt.Errorf("server holds %d of %d bytes but reports %s", result.BytesReceived, sess.Size, result.Status))
}

func (s *Scheduler) markSyncedAndAck(ctx context.Context, sess *LocalSession, artifactRef string) error {
	sess.Status = domain.SessionSynced
	sess.ServerArtifactRef = artifactRef
	sess.LastError = ""
	if err := s.queue.Save(ctx, sess); err != nil {
		return err
	}
	return s.requestAck(ctx, sess)
}

func (s *Scheduler) requestAck(ctx context.Context, sess *LocalSession) error {
	result, err := s.transport.RequestAck(ctx, sess.RemoteSessionID)
	if err != nil {
		return s.fail(ctx, sess, err)
	}
	if result.Status != domain.SessionAckReceived {
		return s.fail(ctx, sess, fmt.Errorf("unexpected ack status %s", result.Status))
	}
	return s.acknowledgeLocally(ctx, sess)
}

// acknowledgeLocally records the ACK and deletes the local copy. This is the
// only place in the agent that ever removes a captured file.
func (s *Scheduler) acknowledgeLocally(ctx context.Context, sess *LocalSession) error {
	sess.Status = domain.SessionAckReceived
	sess.LastError = ""
	if err := s.queue.Save(ctx, sess); err != nil {
		return err
	}
	if err := os.Remove(sess.LocalPath); err != nil && !os.IsNotExist(err) {
		log.Printf("session %s: acknowledged but local delete failed: %v", sess.SessionID, err)
	}
	return nil
}

func (s *Scheduler) fail(ctx context.Context, sess *LocalSession, cause error) error {
	if !sess.Status.CanTransition(domain.SessionFailed) {
		return cause
	}
	sess.Status = domain.SessionFailed
	sess.LastError = cause.Error()
	sess.NextAttemptAt = s.now().Add(s.backoff(sess.RetryCount + 1))
	if err := s.queue.Save(ctx, sess); err != nil {
		return err
	}
	return cause
}

// backoff doubles per attempt from the base up to the ceiling.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if d > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return d
}
