package capture

import (
	"bytes"
	"fmt"
	"math/rand/v2"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

// opusClockRate is the Ogg Opus granule rate, fixed regardless of input rate.
const opusClockRate = 48000

// OpusEncoder encodes 20ms Opus frames into an Ogg stream. Every fragment is
// a run of complete Ogg pages; the first one carries the stream headers.
type OpusEncoder struct {
	enc       *opus.Encoder
	ogg       *oggwriter.OggWriter
	out       bytes.Buffer
	frameLen  int // interleaved samples per 20ms frame
	pending   []int16
	packet    []byte
	seq       uint16
	timestamp uint32
	ssrc      uint32
}

// NewOpusEncoder is an EncoderFactory for Ogg Opus.
func NewOpusEncoder(f Format) (Encoder, error) {
	enc, err := opus.NewEncoder(f.SampleRate, f.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(64000); err != nil {
		return nil, fmt.Errorf("opus bitrate: %w", err)
	}

	e := &OpusEncoder{
		enc:       enc,
		frameLen:  f.SampleRate / 50 * f.Channels,
		packet:    make([]byte, 4000),
		timestamp: 1,
		ssrc:      rand.Uint32(),
	}
	e.ogg, err = oggwriter.NewWith(&e.out, uint32(f.SampleRate), uint16(f.Channels))
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	return e, nil
}

func (e *OpusEncoder) MimeType() string { return "audio/ogg; codecs=opus" }

func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	e.pending = append(e.pending, pcm...)
	for len(e.pending) >= e.frameLen {
		if err := e.writeFrame(e.pending[:e.frameLen]); err != nil {
			return nil, err
		}
		e.pending = e.pending[e.frameLen:]
	}
	return e.drain(), nil
}

// Flush pads the trailing partial frame with silence and closes the stream.
func (e *OpusEncoder) Flush() ([]byte, error) {
	if len(e.pending) > 0 {
		frame := make([]int16, e.frameLen)
		copy(frame, e.pending)
		e.pending = nil
		if err := e.writeFrame(frame); err != nil {
			return nil, err
		}
	}
	if err := e.ogg.Close(); err != nil {
		return nil, fmt.Errorf("close ogg stream: %w", err)
	}
	return e.drain(), nil
}

func (e *OpusEncoder) writeFrame(frame []int16) error {
	n, err := e.enc.Encode(frame, e.packet)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	payload := make([]byte, n)
	copy(payload, e.packet[:n])

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: e.seq,
			Timestamp:      e.timestamp,
			SSRC:           e.ssrc,
		},
		Payload: payload,
	}
	e.seq++
	e.timestamp += opusClockRate / 50
	return e.ogg.WriteRTP(pkt)
}

func (e *OpusEncoder) drain() []byte {
	if e.out.Len() == 0 {
		return nil
	}
	frag := bytes.Clone(e.out.Bytes())
	e.out.Reset()
	return frag
}
