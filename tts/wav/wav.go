// Package wav encodes synthesized sample buffers into playable PCM WAV
// containers and decodes them back for playback.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Container layout constants.
const (
	// HeaderSize is the fixed size of the canonical RIFF/WAVE header.
	HeaderSize = 44
	// Channels is the channel count written into the header. The engine
	// emits interleaved stereo even for mono speech.
	Channels = 2
	// BitDepth is the sample width written into the header.
	BitDepth = 16
	// BytesPerSample is the size of one encoded sample.
	BytesPerSample = BitDepth / 8
	// BlockAlign is the size of one interleaved frame.
	BlockAlign = Channels * BytesPerSample
)

// Common decode errors.
var (
	ErrTooShort     = errors.New("wav: data shorter than header")
	ErrNotRIFF      = errors.New("wav: missing RIFF/WAVE signature")
	ErrUnsupported  = errors.New("wav: unsupported format")
	ErrSizeMismatch = errors.New("wav: data chunk size does not match payload")
	ErrInvalidRate  = errors.New("wav: invalid sample rate")
)

// Info describes the format of a decoded container.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	ByteRate      int
	BlockAlign    int
	DataBytes     int
}

// Samples returns the number of encoded samples (not frames).
func (i Info) Samples() int {
	if i.BitsPerSample == 0 {
		return 0
	}
	return i.DataBytes / (i.BitsPerSample / 8)
}

// Duration returns the playback length of the container.
func (i Info) Duration() time.Duration {
	if i.ByteRate == 0 {
		return 0
	}
	return time.Duration(float64(i.DataBytes) / float64(i.ByteRate) * float64(time.Second))
}

// Encode converts normalized float samples into a PCM16 stereo WAV container.
// Samples are clipped to [-1, 1]; negative values scale by 0x8000 and
// non-negative values by 0x7FFF.
func Encode(samples []float32, sampleRate int) []byte {
	dataBytes := len(samples) * BytesPerSample
	buf := make([]byte, HeaderSize+dataBytes)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+dataBytes))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1) // PCM
	le.PutUint16(buf[22:24], Channels)
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(sampleRate*BlockAlign))
	le.PutUint16(buf[32:34], BlockAlign)
	le.PutUint16(buf[34:36], BitDepth)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataBytes))

	off := HeaderSize
	for _, s := range samples {
		le.PutUint16(buf[off:off+2], uint16(quantize(s)))
		off += BytesPerSample
	}
	return buf
}

func quantize(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// Decode validates a canonical PCM WAV container and returns its format and
// PCM payload. The payload aliases data.
func Decode(data []byte) (Info, []byte, error) {
	if len(data) < HeaderSize {
		return Info{}, nil, ErrTooShort
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, nil, ErrNotRIFF
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Info{}, nil, fmt.Errorf("%w: non-canonical chunk layout", ErrUnsupported)
	}

	le := binary.LittleEndian
	if format := le.Uint16(data[20:22]); format != 1 {
		return Info{}, nil, fmt.Errorf("%w: audio format %d", ErrUnsupported, format)
	}

	info := Info{
		Channels:      int(le.Uint16(data[22:24])),
		SampleRate:    int(le.Uint32(data[24:28])),
		ByteRate:      int(le.Uint32(data[28:32])),
		BlockAlign:    int(le.Uint16(data[32:34])),
		BitsPerSample: int(le.Uint16(data[34:36])),
		DataBytes:     int(le.Uint32(data[40:44])),
	}
	if info.SampleRate <= 0 {
		return Info{}, nil, ErrInvalidRate
	}
	if info.BitsPerSample != BitDepth {
		return Info{}, nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, info.BitsPerSample)
	}
	if info.DataBytes != len(data)-HeaderSize {
		return Info{}, nil, fmt.Errorf("%w: header says %d, have %d",
			ErrSizeMismatch, info.DataBytes, len(data)-HeaderSize)
	}

	return info, data[HeaderSize:], nil
}

// Concat joins the PCM payloads of several containers that share a format
// into a single container. Used when exporting a whole article.
func Concat(clips ...[]byte) ([]byte, error) {
	if len(clips) == 0 {
		return Encode(nil, 0), nil
	}

	var (
		first Info
		total int
	)
	payloads := make([][]byte, 0, len(clips))
	for i, clip := range clips {
		info, pcm, err := Decode(clip)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i, err)
		}
		if i == 0 {
			first = info
		} else if info.SampleRate != first.SampleRate || info.Channels != first.Channels {
			return nil, fmt.Errorf("clip %d: %w: format differs from first clip", i, ErrUnsupported)
		}
		payloads = append(payloads, pcm)
		total += len(pcm)
	}

	out := make([]byte, 0, HeaderSize+total)
	out = append(out, Encode(nil, first.SampleRate)...)
	for _, pcm := range payloads {
		out = append(out, pcm...)
	}
	le := binary.LittleEndian
	le.PutUint32(out[4:8], uint32(36+total))
	le.PutUint32(out[40:44], uint32(total))
	return out, nil
}
