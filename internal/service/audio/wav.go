package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
	wavHeaderSize       = 44
)

var errNotWAV = errors.New("not a RIFF/WAVE stream")

// wavHeader is the canonical 44 byte header written by WrapPCM.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WAVInfo describes the fmt chunk of a WAV stream.
type WAVInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// Duration returns the playback length in seconds.
func (i WAVInfo) Duration() float64 {
	frame := uint32(i.Channels) * uint32(i.BitsPerSample) / 8
	if frame == 0 || i.SampleRate == 0 {
		return 0
	}
	return float64(i.DataSize/frame) / float64(i.SampleRate)
}

// isTranscriptionReady reports whether the stream is already mono 16-bit PCM.
func (i WAVInfo) isTranscriptionReady() bool {
	return (i.AudioFormat == wavFormatPCM || i.AudioFormat == wavFormatExtensible) &&
		i.Channels == 1 && i.BitsPerSample == 16
}

// EncodeWAV encodes mono PCM-16 samples into a WAV stream.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return WrapPCM(pcm, sampleRate)
}

// WrapPCM prefixes little-endian mono PCM-16 data with a WAV header.
func WrapPCM(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("cannot encode empty audio samples")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm length %d is not a whole number of 16-bit samples", len(pcm))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	const channels, bits = 1, 16
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * channels * bits / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// ParseWAV walks the RIFF chunks of data and returns the format description
// and the raw sample bytes. Chunks other than fmt and data are skipped.
func ParseWAV(data []byte) (WAVInfo, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, nil, errNotWAV
	}

	var (
		info    WAVInfo
		pcm     []byte
		haveFmt bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if size < 0 || end > len(data) {
			if id == "data" && haveFmt {
				// Streaming writers leave the size unset; take what is there.
				end = len(data)
			} else {
				return WAVInfo{}, nil, fmt.Errorf("chunk %q overruns stream", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVInfo{}, nil, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			chunk := data[body:end]
			info.AudioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			info.Channels = binary.LittleEndian.Uint16(chunk[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, nil, errors.New("data chunk precedes fmt chunk")
			}
			pcm = data[body:end]
			info.DataSize = uint32(len(pcm))
		}
		if pcm != nil {
			break
		}

		// Chunks are word aligned.
		offset = end + size%2
	}

	if !haveFmt {
		return WAVInfo{}, nil, errors.New("missing fmt chunk")
	}
	if pcm == nil {
		return WAVInfo{}, nil, errors.New("missing data chunk")
	}
	if info.Channels == 0 || info.SampleRate == 0 || info.BitsPerSample == 0 {
		return WAVInfo{}, nil, fmt.Errorf("invalid fmt chunk: %d channels, %d Hz, %d bits", info.Channels, info.SampleRate, info.BitsPerSample)
	}
	return info, pcm, nil
}
