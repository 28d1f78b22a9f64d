// Package checksum is the integrity verifier: sha256 content digests as
// fixed-length hex. The digest is computed once on the capture device at
// enqueue time and once on the server after the payload is durably written;
// the two must match before an artifact row may exist.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// HexLength is the length of an encoded digest.
const HexLength = sha256.Size * 2

// Sum returns the hex-encoded sha256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumReader returns the hex-encoded sha256 digest of everything read from r.
func SumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumFile returns the hex-encoded sha256 digest of the file at path.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return SumReader(f)
}

// Valid reports whether s looks like a hex-encoded sha256 digest.
func Valid(s string) bool {
	if len(s) != HexLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
