package local_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/domain"
	"docpipe/internal/storage/local"
)

func TestLocalStorage_PutGetStatDelete(t *testing.T) {
	ctx := context.Background()
	s, err := local.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "ab/cdef", []byte("hello")))

	data, err := s.Get(ctx, "ab/cdef")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	info, err := s.Stat(ctx, "ab/cdef")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.ModTime.IsZero())

	rc, err := s.Open(ctx, "ab/cdef")
	require.NoError(t, err)
	_, isSeeker := rc.(io.ReadSeeker)
	assert.True(t, isSeeker)
	require.NoError(t, rc.Close())

	require.NoError(t, s.Delete(ctx, "ab/cdef"))
	_, err = s.Get(ctx, "ab/cdef")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, s.Delete(ctx, "ab/cdef"))
}

func TestLocalStorage_MissingKey(t *testing.T) {
	s, err := local.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Stat(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s, err := local.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Put(context.Background(), "../escape", []byte("x")))
}
