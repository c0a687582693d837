// Package provider defines the contract between the speech engine and
// an upstream streaming speech provider. The engine only depends on
// these interfaces; concrete transports live in subpackages.
package provider

import "context"

// RecognitionHandler receives asynchronous events from an active
// recognition stream. Implementations must not block the stream's
// reader goroutine; enqueue and return.
type RecognitionHandler interface {
	OnResult(text string, final bool)
	OnComplete()
	OnError(err error)
}

// SynthesisHandler receives audio bytes and lifecycle events from a
// synthesis stream. Same non-blocking rule as RecognitionHandler.
type SynthesisHandler interface {
	OnOpen()
	OnData(audio []byte)
	OnError(err error)
	OnClose()
}

// RecognitionStream is one upstream recognition connection.
type RecognitionStream interface {
	// Start begins the upstream task and blocks until the provider
	// acknowledges it or ctx expires.
	Start(ctx context.Context) error
	// SendFrame forwards one raw PCM frame.
	SendFrame(pcm []byte) error
	// Stop requests end-of-input and tears the connection down.
	Stop() error
}

// SynthesisStream is one upstream synthesis connection. The stream
// becomes ready asynchronously; calls before readiness fail with
// ErrNotStarted.
type SynthesisStream interface {
	StreamText(text string) error
	Finish() error
	Close() error
}

// Dialer opens upstream streams. Credential resolution happens at dial
// time so a key saved after process start is picked up by the next
// session.
type Dialer interface {
	DialRecognition(ctx context.Context, h RecognitionHandler) (RecognitionStream, error)
	DialSynthesis(ctx context.Context, voice string, h SynthesisHandler) (SynthesisStream, error)
}
