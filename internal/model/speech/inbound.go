package speech

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types.
const (
	TypeAudioData      = "audio_data"
	TypeStartRecording = "start_recording"
	TypeStopRecording  = "stop_recording"
)

var (
	// ErrInvalidJSON marks a frame that is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON format")
	// ErrNoAudioData marks an audio_data message without a payload.
	ErrNoAudioData = errors.New("no audio data provided")
)

// UnknownTypeError reports a frame whose type tag is not recognized.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return "unknown message type: " + e.Type
}

// Inbound is the closed set of client messages. Only types in this package
// implement it.
type Inbound interface {
	inboundType() string
}

// StartRecording signals the client began capturing audio.
type StartRecording struct{}

// StopRecording signals the client stopped capturing audio.
type StopRecording struct{}

// AudioData carries one encoded audio blob.
type AudioData struct {
	Payload   string
	Timestamp json.RawMessage
}

func (StartRecording) inboundType() string { return TypeStartRecording }
func (StopRecording) inboundType() string  { return TypeStopRecording }
func (AudioData) inboundType() string      { return TypeAudioData }

// TypeOf returns the wire tag of an inbound message.
func TypeOf(msg Inbound) string {
	return msg.inboundType()
}

type envelope struct {
	Type      *json.RawMessage `json:"type"`
	AudioData *json.RawMessage `json:"audio_data"`
	Timestamp json.RawMessage  `json:"timestamp"`
}

// ParseInbound validates a raw frame and returns its variant.
//
// Errors are ErrInvalidJSON, *UnknownTypeError, or ErrNoAudioData. An
// audio_data message whose payload is present but not a string is reported as
// ErrInvalidJSON since it fails to parse as the expected structure.
func ParseInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	msgType, err := typeTag(env.Type)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case TypeStartRecording:
		return StartRecording{}, nil
	case TypeStopRecording:
		return StopRecording{}, nil
	case TypeAudioData:
		payload, err := audioPayload(env.AudioData)
		if err != nil {
			return nil, err
		}
		msg := AudioData{Payload: payload}
		if len(env.Timestamp) > 0 && string(env.Timestamp) != "null" {
			msg.Timestamp = append(json.RawMessage(nil), env.Timestamp...)
		}
		return msg, nil
	default:
		return nil, &UnknownTypeError{Type: msgType}
	}
}

func typeTag(raw *json.RawMessage) (string, error) {
	if raw == nil || string(*raw) == "null" {
		return "", &UnknownTypeError{Type: "(missing)"}
	}
	var tag string
	if err := json.Unmarshal(*raw, &tag); err != nil {
		return "", &UnknownTypeError{Type: string(*raw)}
	}
	return tag, nil
}

func audioPayload(raw *json.RawMessage) (string, error) {
	if raw == nil || string(*raw) == "null" {
		return "", ErrNoAudioData
	}
	var payload string
	if err := json.Unmarshal(*raw, &payload); err != nil {
		return "", fmt.Errorf("%w: audio_data must be a string", ErrInvalidJSON)
	}
	if payload == "" {
		return "", ErrNoAudioData
	}
	return payload, nil
}
