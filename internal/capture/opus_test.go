package capture

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpusEncoderProducesOggPages(t *testing.T) {
	enc, err := NewOpusEncoder(monoFormat)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg; codecs=opus", enc.MimeType())

	// 1.5 frames: one full frame encoded now, the rest on Flush.
	first, err := enc.Encode(make([]int16, 1440))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(first, []byte("OggS")), "first fragment carries the stream headers")
	assert.True(t, bytes.Contains(first, []byte("OpusHead")))

	tail, err := enc.Flush()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(tail, []byte("OggS")))
}

func TestOpusEncoderBuffersPartialFrames(t *testing.T) {
	enc, err := NewOpusEncoder(monoFormat)
	require.NoError(t, err)

	_, err = enc.Encode(make([]int16, 100))
	require.NoError(t, err)
	frag, err := enc.Encode(make([]int16, 100))
	require.NoError(t, err)
	assert.Empty(t, frag, "no page until a full 20ms frame is available")
}
