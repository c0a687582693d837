package protocol

import "time"

// RecognitionResult is recognition output broadcast on the bus so
// other local processes can consume transcripts live.
type RecognitionResult struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionComplete signals that an upstream session finished.
type SessionComplete struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionError carries an upstream failure message.
type SessionError struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectRecognitionText     = "speech.recognition.text"
	SubjectRecognitionComplete = "speech.recognition.complete"
	SubjectRecognitionError    = "speech.recognition.error"
)
