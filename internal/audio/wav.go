package audio

import (
	"encoding/binary"
	"fmt"
)

// PCM layout of every recorded track.
const (
	SampleRate    = 48000
	NumChannels   = 1
	BitsPerSample = 16
	BlockAlign    = NumChannels * BitsPerSample / 8
	ByteRate      = SampleRate * BlockAlign
	HeaderSize    = 44
)

// Header builds the canonical 44-byte RIFF/WAVE header for dataLen bytes of
// raw PCM. All integer fields are little-endian.
func Header(dataLen uint32) []byte {
	h := make([]byte, HeaderSize)
	le := binary.LittleEndian

	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], HeaderSize-8+dataLen)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], 16)
	le.PutUint16(h[20:22], 1) // PCM
	le.PutUint16(h[22:24], NumChannels)
	le.PutUint32(h[24:28], SampleRate)
	le.PutUint32(h[28:32], ByteRate)
	le.PutUint16(h[32:34], BlockAlign)
	le.PutUint16(h[34:36], BitsPerSample)

	copy(h[36:40], "data")
	le.PutUint32(h[40:44], dataLen)
	return h
}

// Wrap returns header+raw as one buffer.
func Wrap(raw []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(raw))
	out = append(out, Header(uint32(len(raw)))...)
	return append(out, raw...)
}

// HeaderInfo is the decoded content of a WAV header.
type HeaderInfo struct {
	ChunkSize     uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// ParseHeader decodes and sanity-checks the first 44 bytes of b.
func ParseHeader(b []byte) (HeaderInfo, error) {
	if len(b) < HeaderSize {
		return HeaderInfo{}, fmt.Errorf("audio: wav header: need %d bytes, have %d", HeaderSize, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return HeaderInfo{}, fmt.Errorf("audio: wav header: missing RIFF/WAVE magic")
	}
	if string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return HeaderInfo{}, fmt.Errorf("audio: wav header: unexpected subchunk layout")
	}
	le := binary.LittleEndian
	return HeaderInfo{
		ChunkSize:     le.Uint32(b[4:8]),
		AudioFormat:   le.Uint16(b[20:22]),
		NumChannels:   le.Uint16(b[22:24]),
		SampleRate:    le.Uint32(b[24:28]),
		ByteRate:      le.Uint32(b[28:32]),
		BlockAlign:    le.Uint16(b[32:34]),
		BitsPerSample: le.Uint16(b[34:36]),
		DataSize:      le.Uint32(b[40:44]),
	}, nil
}

// isWrapped reports whether b is exactly one of our headers followed by the
// data length it declares.
func isWrapped(b []byte) bool {
	h, err := ParseHeader(b)
	if err != nil {
		return false
	}
	return h.AudioFormat == 1 &&
		h.NumChannels == NumChannels &&
		h.SampleRate == SampleRate &&
		h.BitsPerSample == BitsPerSample &&
		int64(h.DataSize) == int64(len(b))-HeaderSize &&
		h.ChunkSize == HeaderSize-8+h.DataSize
}

// Duration returns the playback length in seconds of rawLen PCM bytes.
func Duration(rawLen int64) float64 {
	return float64(rawLen) / ByteRate
}
