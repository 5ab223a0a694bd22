package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Client-to-server event names
const (
	EventStartTranscription = "start_transcription"
	EventStopTranscription  = "stop_transcription"
	EventAudioData          = "audio_data"
	EventRetryAnalysis      = "retry_analysis"
	EventTestAnalysis       = "test_analysis"
)

// Server-to-client event names
const (
	EventStatus               = "status"
	EventError                = "error"
	EventTranscript           = "transcript"
	EventConversationAnalysis = "conversation_analysis"
	EventClearSession         = "clear_session"
)

// Status values carried in status payloads
const (
	StatusConnected        = "connected"
	StatusRecordingStarted = "recording_started"
	StatusRecordingStopped = "recording_stopped"
	StatusAnalyzing        = "analyzing"
)

// Error kinds carried in error payloads
const (
	ErrorKindCapability = "capability"
	ErrorKindTransport  = "transport"
	ErrorKindProtocol   = "protocol"
	ErrorKindAnalysis   = "analysis"
	ErrorKindCitation   = "citation-integrity"
)

// Validation limits
const (
	// MaxAudioChunkBytes bounds a single decoded audio chunk.
	MaxAudioChunkBytes = 1 << 20
	// MaxTranscriptChars bounds the total transcript length accepted for
	// analysis.
	MaxTranscriptChars = 100000
)

// Message is the JSON envelope for every WebSocket frame in both directions.
// The payload stays raw until the event name selects a concrete type.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AudioData carries one base64-encoded chunk of little-endian 16-bit PCM.
type AudioData struct {
	Audio string `json:"audio"`
}

// Status reports a session lifecycle change to the client. Purely
// informational notices carry a message with no status value.
type Status struct {
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Transcript carries one assembled transcript update to the client. Interim
// updates have ID 0 and are replaced in place; finals are numbered from 1
// and immutable.
type Transcript struct {
	ID         int      `json:"id,omitempty"`
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Timestamp  *float64 `json:"timestamp,omitempty"`
}

// ErrorPayload reports a failure to the client.
type ErrorPayload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// ParseMessage decodes one inbound frame into its envelope.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("message missing event name")
	}
	return &msg, nil
}

// NewMessage builds an envelope around an encodable payload. A nil payload
// produces an envelope with no data field.
func NewMessage(event string, payload interface{}) (*Message, error) {
	if payload == nil {
		return &Message{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return &Message{Event: event, Data: data}, nil
}

// Encode serializes the envelope for the wire
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeAudioData extracts and validates the PCM bytes from an audio_data
// payload. The audio must be non-empty standard base64, decode to an even
// byte count, and stay within the chunk size limit.
func DecodeAudioData(data json.RawMessage) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("audio_data missing payload")
	}

	var payload AudioData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed audio_data payload: %w", err)
	}
	if payload.Audio == "" {
		return nil, fmt.Errorf("audio_data payload is empty")
	}

	pcm, err := base64.StdEncoding.DecodeString(payload.Audio)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("decoded audio is empty")
	}
	if len(pcm) > MaxAudioChunkBytes {
		return nil, fmt.Errorf("audio chunk of %d bytes exceeds limit of %d", len(pcm), MaxAudioChunkBytes)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio length %d is not valid 16-bit PCM", len(pcm))
	}
	return pcm, nil
}

// EncodeAudioData wraps PCM bytes in an audio_data payload for sending.
func EncodeAudioData(pcm []byte) AudioData {
	return AudioData{Audio: base64.StdEncoding.EncodeToString(pcm)}
}

// IsClientEvent reports whether clients are allowed to send this event.
func IsClientEvent(event string) bool {
	switch event {
	case EventStartTranscription, EventStopTranscription, EventAudioData,
		EventRetryAnalysis, EventTestAnalysis:
		return true
	}
	return false
}
