package blobstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docpipe/internal/blobstore"
	"docpipe/internal/domain"
	"docpipe/internal/port"
	"docpipe/mocks"
)

func TestStore_PutSkipsExistingKey(t *testing.T) {
	backend := new(mocks.MockObjectStorage)
	s, err := blobstore.New(backend)
	require.NoError(t, err)

	backend.On("Stat", mock.Anything, "ab/cd").Return(&port.ObjectInfo{Size: 3, ModTime: time.Now()}, nil)

	require.NoError(t, s.Put(context.Background(), "abcd", domain.NSOriginal, []byte("abc")))
	backend.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
	backend.AssertExpectations(t)
}

func TestStore_PutBackendFailure(t *testing.T) {
	backend := new(mocks.MockObjectStorage)
	s, err := blobstore.New(backend)
	require.NoError(t, err)

	backend.On("Stat", mock.Anything, "pdf/ab/cd").Return(nil, domain.ErrNotFound)
	backend.On("Put", mock.Anything, "pdf/ab/cd", []byte("abc")).Return(errors.New("disk full"))

	err = s.Put(context.Background(), "abcd", domain.NSPDF, []byte("abc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	backend.AssertExpectations(t)
}

func TestStore_StatErrorIsNotMissing(t *testing.T) {
	backend := new(mocks.MockObjectStorage)
	s, err := blobstore.New(backend)
	require.NoError(t, err)

	backend.On("Stat", mock.Anything, "parse/ab/cd").Return(nil, errors.New("timeout"))

	ok, err := s.Exists(context.Background(), "abcd", domain.NSParse)
	require.Error(t, err)
	assert.False(t, ok)
}
