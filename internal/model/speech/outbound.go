package speech

import "encoding/json"

// Outbound message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeRecordingStarted      = "recording_started"
	TypeRecordingStopped      = "recording_stopped"
	TypeTranscription         = "transcription"
	TypeError                 = "error"
)

// Reply texts shared with existing clients.
const (
	MessageConnected        = "Connected to audio processing server"
	MessageRecordingStarted = "Recording started successfully"
	MessageRecordingStopped = "Recording stopped successfully"
	MessageNoSpeech         = "No speech detected in audio"
	MessageInvalidJSON      = "Invalid JSON format"
	MessageNoAudioData      = "No audio data provided"
)

// Pipeline stages reported on error replies.
const (
	StageDecode        = "decode"
	StageTranscription = "transcription"
	StageGeneration    = "generation"
	StagePersistence   = "persistence"
)

// UserInfo is the public part of the resolved identity.
type UserInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ConnectionEstablished acknowledges a successful handshake.
type ConnectionEstablished struct {
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	SessionID string   `json:"session_id"`
	User      UserInfo `json:"user"`
}

// RecordingAck confirms start_recording and stop_recording.
type RecordingAck struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Transcription is the reply to audio_data. Text and LLMResponse are always
// present, possibly empty.
type Transcription struct {
	Type        string          `json:"type"`
	Text        string          `json:"text"`
	LLMResponse string          `json:"llm_response"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Error reports a non-fatal fault.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// NewConnectionEstablished builds the handshake acknowledgment.
func NewConnectionEstablished(sessionID string, user UserInfo) ConnectionEstablished {
	return ConnectionEstablished{
		Type:      TypeConnectionEstablished,
		Message:   MessageConnected,
		SessionID: sessionID,
		User:      user,
	}
}

func NewRecordingStarted() RecordingAck {
	return RecordingAck{Type: TypeRecordingStarted, Message: MessageRecordingStarted}
}

func NewRecordingStopped() RecordingAck {
	return RecordingAck{Type: TypeRecordingStopped, Message: MessageRecordingStopped}
}

// NewTranscription builds a successful reply, echoing the client timestamp verbatim.
func NewTranscription(text, reply string, timestamp json.RawMessage) Transcription {
	return Transcription{
		Type:        TypeTranscription,
		Text:        text,
		LLMResponse: reply,
		Timestamp:   timestamp,
	}
}

// NewNoSpeech builds the reply for audio that transcribed to nothing.
func NewNoSpeech(timestamp json.RawMessage) Transcription {
	return Transcription{
		Type:      TypeTranscription,
		Timestamp: timestamp,
		Message:   MessageNoSpeech,
	}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// NewStageError reports a pipeline failure at the given stage.
func NewStageError(stage string) Error {
	return Error{
		Type:    TypeError,
		Message: "Error processing audio: " + stage + " failed",
		Stage:   stage,
	}
}

// NewUnknownTypeError reports a type tag no handler recognizes.
func NewUnknownTypeError(msgType string) Error {
	return NewError("Unknown message type: " + msgType)
}

// NewServerError reports an internal fault during message handling.
func NewServerError(err error) Error {
	return NewError("Server error: " + err.Error())
}
