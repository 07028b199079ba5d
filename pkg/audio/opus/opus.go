// Package opus encodes finalized capture clips into Opus packets for
// transmission to the chatbot backend. The wire shape is a simple
// length-prefixed packet sequence so the backend can reassemble the stream
// without a container format.
package opus

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/susurrus-chat/susurrus/pkg/audio"
)

// Clip upload uses 48 kHz mono Opus at 20 ms frame size.
const (
	// SampleRate and Channels describe the format clips are converted to
	// before encoding; the backend needs them to decode the stream.
	SampleRate = 48000
	Channels   = 1

	frameSizeMs = 20
	// frameSize is the number of samples per channel per 20 ms frame.
	frameSize = SampleRate * frameSizeMs / 1000 // 960
)

// Encoder wraps a gopus Opus encoder for clip finalization. Each clip gets its
// own encoder to keep codec state isolated between recordings.
//
// An Encoder is not safe for concurrent use.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates an Opus encoder configured for clip upload.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// EncodeClip converts a finalized PCM clip into a length-prefixed Opus packet
// sequence. The clip is converted to 48 kHz mono first; a trailing partial
// frame is zero-padded to a full frame boundary.
func (e *Encoder) EncodeClip(clip audio.Clip) ([]byte, error) {
	if clip.Empty() {
		return nil, nil
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: SampleRate, Channels: Channels}}
	pcm := conv.Convert(audio.AudioFrame{
		Data:       clip.PCM,
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
	}).Data

	const frameBytes = frameSize * 2
	if rem := len(pcm) % frameBytes; rem != 0 {
		pcm = append(pcm, make([]byte, frameBytes-rem)...)
	}

	var out bytes.Buffer
	for off := 0; off < len(pcm); off += frameBytes {
		packet, err := e.enc.Encode(bytesToInt16s(pcm[off:off+frameBytes]), frameSize, frameBytes)
		if err != nil {
			return nil, fmt.Errorf("opus: encode frame at %d: %w", off, err)
		}
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(packet)))
		out.Write(hdr[:])
		out.Write(packet)
	}
	return out.Bytes(), nil
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
