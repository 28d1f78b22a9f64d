package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_KnownVector(t *testing.T) {
	// sha256("") and sha256("abc") from FIPS 180-2 test vectors
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum(nil))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Sum([]byte("abc")))
}

func TestSum_Deterministic(t *testing.T) {
	payload := []byte("same bytes, same digest")
	assert.Equal(t, Sum(payload), Sum(payload))
	assert.NotEqual(t, Sum(payload), Sum([]byte("different bytes")))
}

func TestSumReader_MatchesSum(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 1<<16)
	got, err := SumReader(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, Sum(payload), got)
}

func TestSumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	payload := []byte("scan payload")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	got, err := SumFile(path)
	require.NoError(t, err)
	assert.Equal(t, Sum(payload), got)

	_, err = SumFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(Sum([]byte("x"))))
	assert.False(t, Valid(""))
	assert.False(t, Valid("abc123"))
	assert.False(t, Valid("zz7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"))
}
