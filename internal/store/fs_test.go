package store

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGet(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	payload := []byte("dicom-ish bytes")
	key := Key("c1", "g1", "a1", "scan.dcm")

	require.NoError(t, s.Put(context.Background(), key, bytes.NewReader(payload), int64(len(payload))))

	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFSStore_GetMissing(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "collections/none/none/none/x")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingReader struct {
	data []byte
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestFSStore_FailedPutLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	require.NoError(t, err)

	key := Key("c1", "g1", "a1", "scan.dcm")
	err = s.Put(context.Background(), key, &failingReader{data: []byte("partial")}, 1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	// no destination file and no leftover temp files
	_, err = s.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)

	var leftovers []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasPrefix(d.Name(), ".put-") {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	assert.Empty(t, leftovers)
}

func TestFSStore_SizeMismatchRejected(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	key := Key("c1", "g1", "a1", "scan.dcm")
	err = s.Put(context.Background(), key, strings.NewReader("abc"), 99)
	require.Error(t, err)

	_, err = s.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_PutOverwriteIsAtomicSwap(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	key := Key("c1", "g1", "a1", "scan.dcm")
	require.NoError(t, s.Put(context.Background(), key, strings.NewReader("v1"), 2))
	require.NoError(t, s.Put(context.Background(), key, strings.NewReader("v2"), 2))

	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "v2", string(got))
}
