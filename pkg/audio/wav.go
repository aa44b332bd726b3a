package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAVHeaderSize is the length of the canonical RIFF header written by
// EncodeWAV.
const WAVHeaderSize = 44

// ErrInvalidWAV is returned by DecodeWAV for data that is not 16-bit PCM WAV.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// EncodeWAV wraps 16-bit mono PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, WAVHeaderSize+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:], channels)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], bitsPerSample)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[WAVHeaderSize:], pcm)
	return out
}

// DecodeWAV extracts the PCM payload and format from a 16-bit PCM WAV file.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(wav []byte) (pcm []byte, f Format, err error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrInvalidWAV
	}
	var haveFmt bool
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(wav) {
			size = len(wav) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if tag := binary.LittleEndian.Uint16(wav[body:]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: format tag %d is not PCM", ErrInvalidWAV, tag)
			}
			if bits := binary.LittleEndian.Uint16(wav[body+14:]); bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: %d bits per sample", ErrInvalidWAV, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			return wav[body : body+size], f, nil
		}
		off = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// RMS returns the root mean square amplitude of 16-bit PCM, in sample units
// (0 to 32768).
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
