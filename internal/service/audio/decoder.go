package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Decode stages reported in DecodeError.
const (
	StageBase64    = "base64"
	StageDetect    = "detect"
	StageTranscode = "transcode"
	StageValidate  = "validate"
)

var (
	ErrEmptyPayload      = errors.New("empty audio payload")
	ErrUnsupportedFormat = errors.New("unsupported audio container")
	ErrNoSamples         = errors.New("decoded audio has no samples")
)

// DecodeError reports why a blob could not be turned into PCM.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode audio (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Format names an input container.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatWebM    Format = "webm"
	FormatOgg     Format = "ogg"
	FormatMP3     Format = "mp3"
	FormatMP4     Format = "mp4"
)

// Transcoder converts a compressed container into little-endian mono PCM-16
// at the sample rate it was built for.
type Transcoder interface {
	Transcode(ctx context.Context, input []byte, format Format) ([]byte, error)
}

// Decoder turns base64 audio blobs into transcription-ready WAV.
type Decoder struct {
	transcoder Transcoder
	sampleRate int
}

// NewDecoder returns a decoder that emits WAV at sampleRate for transcoded input.
func NewDecoder(transcoder Transcoder, sampleRate int) *Decoder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Decoder{transcoder: transcoder, sampleRate: sampleRate}
}

// Decode converts a transport-encoded blob into a mono 16-bit PCM WAV stream.
// All failures are *DecodeError.
func (d *Decoder) Decode(ctx context.Context, payload string) ([]byte, error) {
	raw, err := DecodeBase64(payload)
	if err != nil {
		return nil, &DecodeError{Stage: StageBase64, Err: err}
	}

	format := DetectFormat(raw)
	switch format {
	case FormatUnknown:
		return nil, &DecodeError{Stage: StageDetect, Err: ErrUnsupportedFormat}
	case FormatWAV:
		info, pcm, err := ParseWAV(raw)
		if err != nil {
			return nil, &DecodeError{Stage: StageValidate, Err: err}
		}
		if info.isTranscriptionReady() {
			if len(pcm) < 2 {
				return nil, &DecodeError{Stage: StageValidate, Err: ErrNoSamples}
			}
			out, err := WrapPCM(pcm[:len(pcm)-len(pcm)%2], int(info.SampleRate))
			if err != nil {
				return nil, &DecodeError{Stage: StageValidate, Err: err}
			}
			return out, nil
		}
	}

	if d.transcoder == nil {
		return nil, &DecodeError{Stage: StageTranscode, Err: fmt.Errorf("%w: no transcoder for %s", ErrUnsupportedFormat, format)}
	}

	pcm, err := d.transcoder.Transcode(ctx, raw, format)
	if err != nil {
		return nil, &DecodeError{Stage: StageTranscode, Err: err}
	}
	if len(pcm) < 2 {
		return nil, &DecodeError{Stage: StageValidate, Err: ErrNoSamples}
	}

	out, err := WrapPCM(pcm[:len(pcm)-len(pcm)%2], d.sampleRate)
	if err != nil {
		return nil, &DecodeError{Stage: StageValidate, Err: err}
	}
	return out, nil
}

// DecodeBase64 accepts standard or URL-safe base64, padded or not, with an
// optional data URL prefix such as "data:audio/webm;base64,".
func DecodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if _, rest, ok := strings.Cut(payload, ","); ok {
			payload = rest
		}
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		raw, err := enc.DecodeString(payload)
		if err == nil {
			if len(raw) == 0 {
				return nil, ErrEmptyPayload
			}
			return raw, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("invalid base64: %w", firstErr)
}

var (
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicOgg  = []byte("OggS")
	magicID3  = []byte("ID3")
)

// DetectFormat sniffs the container from its leading bytes.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case bytes.HasPrefix(data, magicEBML):
		return FormatWebM
	case bytes.HasPrefix(data, magicOgg):
		return FormatOgg
	case bytes.HasPrefix(data, magicID3):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return FormatMP4
	default:
		return FormatUnknown
	}
}
