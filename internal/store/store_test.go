package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thakursameershetty/music-tutor-app/internal/capture"
	"github.com/thakursameershetty/music-tutor-app/internal/playback"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTokenLifecycle(t *testing.T) {
	s := openMem(t)
	assert.Empty(t, s.Token())

	require.NoError(t, s.SetToken("jwt-1"))
	assert.Equal(t, "jwt-1", s.Token())

	s.Invalidate()
	assert.Empty(t, s.Token())
	s.Invalidate()
}

func TestTokenPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, s.SetToken("jwt-2"))
	require.NoError(t, s.Close())

	s, err = Open(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "jwt-2", s.Token())
}

func TestPendingRoundTrip(t *testing.T) {
	s := openMem(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	blob := capture.RestoreBlob("", "audio/wav", []byte("RIFFdata"), created)

	p, err := s.SavePending(playback.Student, blob, errors.New("502 Bad Gateway"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, "student", p.Role)
	assert.Equal(t, 8, p.Size)
	assert.Equal(t, "502 Bad Gateway", p.LastError)

	got, b, err := s.LoadPending(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, []byte("RIFFdata"), b.Bytes())
	assert.Equal(t, "audio/wav", b.MimeType())
	assert.True(t, created.Equal(b.CreatedAt()))

	require.NoError(t, s.DeletePending(p.ID))
	_, _, err = s.LoadPending(p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.DeletePending(p.ID))
}

func TestListPendingOrdered(t *testing.T) {
	s := openMem(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 3; i >= 1; i-- {
		b := capture.RestoreBlob("take.wav", "audio/wav", []byte{byte(i)}, base.Add(time.Duration(i)*time.Minute))
		p, err := s.SavePending(playback.Teacher, b, nil)
		require.NoError(t, err)
		ids = append([]uuid.UUID{p.ID}, ids...)
	}

	list, err := s.ListPending()
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, p := range list {
		assert.Equal(t, ids[i], p.ID)
		assert.Equal(t, "take.wav", p.Name)
		assert.Empty(t, p.LastError)
	}
}

func TestLoadPendingUnknown(t *testing.T) {
	s := openMem(t)
	_, _, err := s.LoadPending(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
