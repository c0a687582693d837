// Package audio owns the physical capture and playback devices. The
// engine talks to the Gateway interface so tests can substitute a fake
// without touching hardware.
package audio

import "time"

// CaptureStream reads fixed-size PCM frames from an input device.
type CaptureStream interface {
	// ReadFrame blocks until one frame of little-endian 16-bit PCM is
	// available and returns it.
	ReadFrame() ([]byte, error)
	Close() error
}

// PlaybackStream writes little-endian 16-bit PCM to an output device.
type PlaybackStream interface {
	Write(pcm []byte) error
	Close() error
}

// Gateway opens device streams on demand. At most one capture stream
// should be open process-wide; playback streams are per synthesis
// session.
type Gateway interface {
	OpenCapture(sampleRate, channels int, frame time.Duration) (CaptureStream, error)
	OpenPlayback(sampleRate, channels int) (PlaybackStream, error)
}
