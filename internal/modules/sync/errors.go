package sync

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrChecksumMismatch   = errors.New("payload checksum does not match declared checksum")
	ErrSizeMismatch       = errors.New("payload size does not match declared size")
	ErrNotSynced          = errors.New("session has not completed the binary phase")
	ErrStorageUnavailable = errors.New("blob backend unavailable")
	ErrIllegalTransition  = errors.New("illegal session status transition")
)

// OffsetMismatchError rejects a binary chunk whose offset disagrees with the
// server's authoritative byte count. The client resumes from Expected.
type OffsetMismatchError struct {
	Expected int64
}

func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("offset mismatch: server expects offset %d", e.Expected)
}
