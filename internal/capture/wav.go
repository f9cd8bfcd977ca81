package capture

import (
	"encoding/binary"
	"fmt"

	"github.com/thakursameershetty/music-tutor-app/internal/audio"
)

const (
	wavHeaderSize = 44
	wavPCMFormat  = 1 // WAV PCM format tag
	wavBitsPerSmp = 16
)

// WAVEncoder writes 16-bit PCM WAV. The RIFF sizes are zero until Finalize
// patches them into the concatenated output.
type WAVEncoder struct {
	format        Format
	headerWritten bool
}

// NewWAVEncoder is an EncoderFactory for WAV.
func NewWAVEncoder(f Format) (Encoder, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("wav: invalid format %+v", f)
	}
	return &WAVEncoder{format: f}, nil
}

func (e *WAVEncoder) MimeType() string { return "audio/wav" }

func (e *WAVEncoder) Encode(pcm []int16) ([]byte, error) {
	body := audio.SamplesToBytes(pcm)
	if e.headerWritten {
		return body, nil
	}
	e.headerWritten = true
	return append(e.header(), body...), nil
}

// Flush emits the header when no audio was ever encoded, so an empty
// recording is still a valid file.
func (e *WAVEncoder) Flush() ([]byte, error) {
	if e.headerWritten {
		return nil, nil
	}
	e.headerWritten = true
	return e.header(), nil
}

// Finalize fills in the RIFF and data chunk sizes.
func (e *WAVEncoder) Finalize(data []byte) error {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" {
		return fmt.Errorf("wav: output does not start with a RIFF header")
	}
	pcmLen := len(data) - wavHeaderSize
	binary.LittleEndian.PutUint32(data[4:8], uint32(36+pcmLen))
	binary.LittleEndian.PutUint32(data[40:44], uint32(pcmLen))
	return nil
}

func (e *WAVEncoder) header() []byte {
	blockAlign := e.format.Channels * wavBitsPerSmp / 8
	byteRate := e.format.SampleRate * blockAlign

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], wavPCMFormat)
	binary.LittleEndian.PutUint16(h[22:24], uint16(e.format.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(e.format.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], wavBitsPerSmp)
	copy(h[36:40], "data")
	return h
}
