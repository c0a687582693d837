package speech

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/goldieapp/speechbridge/internal/audio"
	"github.com/goldieapp/speechbridge/internal/config"
	"github.com/goldieapp/speechbridge/internal/provider"
)

// Recognizer owns the single microphone-to-text session. At most one
// session records at a time; a second start returns a conflict until
// the first session stops.
type Recognizer struct {
	cfg     config.AudioConfig
	dialer  provider.Dialer
	gateway audio.Gateway
	results *ResultQueue
	logger  *slog.Logger
	clock   func() time.Time
	onEvent func(Event)

	dialTimeout time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopOnce sync.Once

	mu        sync.Mutex
	recording bool
	sessionID string
	stream    provider.RecognitionStream
	capture   audio.CaptureStream

	meter        metric.Meter
	sessionCount metric.Int64Counter
	frameCount   metric.Int64Counter
	frameErrors  metric.Int64Counter
}

// RecognizerOption customizes a Recognizer.
type RecognizerOption func(*Recognizer)

// WithRecognizerClock substitutes the time source used for generated
// session identifiers.
func WithRecognizerClock(clock func() time.Time) RecognizerOption {
	return func(r *Recognizer) { r.clock = clock }
}

// WithRecognizerSink registers a hook invoked for every enqueued Result
// Event, after it lands in the queue. Must not block.
func WithRecognizerSink(sink func(Event)) RecognizerOption {
	return func(r *Recognizer) { r.onEvent = sink }
}

func NewRecognizer(parent context.Context, cfg config.AudioConfig, dialTimeout time.Duration, dialer provider.Dialer, gateway audio.Gateway, logger *slog.Logger, opts ...RecognizerOption) *Recognizer {
	ctx, cancel := context.WithCancel(parent)
	r := &Recognizer{
		cfg:         cfg,
		dialer:      dialer,
		gateway:     gateway,
		results:     NewResultQueue(),
		logger:      logger.With(slog.String("component", "recognizer")),
		clock:       time.Now,
		dialTimeout: dialTimeout,
		ctx:         ctx,
		cancel:      cancel,
		meter:       otel.Meter("github.com/goldieapp/speechbridge/speech"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.initMetrics()
	return r
}

func (r *Recognizer) initMetrics() {
	var err error
	if r.sessionCount, err = r.meter.Int64Counter("speechbridge.recognition.sessions"); err != nil {
		r.logger.Warn("failed to initialize session counter", slogError(err))
	}
	if r.frameCount, err = r.meter.Int64Counter("speechbridge.recognition.frames"); err != nil {
		r.logger.Warn("failed to initialize frame counter", slogError(err))
	}
	if r.frameErrors, err = r.meter.Int64Counter("speechbridge.recognition.frame_errors"); err != nil {
		r.logger.Warn("failed to initialize frame error counter", slogError(err))
	}
}

// Start opens an upstream recognition connection and begins forwarding
// microphone frames to it. If sessionID is empty a timestamp-derived
// identifier is generated. Returns the effective session identifier.
func (r *Recognizer) Start(sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", Conflictf("recognition session %s already recording", r.sessionID)
	}
	if sessionID == "" {
		sessionID = fmt.Sprintf("session_%d", r.clock().UnixMilli())
	}

	// Stale events from an earlier session would otherwise surface on
	// the first poll of the new one.
	r.results.Reset()

	// The device is opened here, not in the capture loop, so an
	// unopenable microphone fails the start call instead of killing the
	// session after the caller already got a session id. The stream is
	// held until Close; session churn never reopens it.
	if r.capture == nil {
		frame := time.Duration(r.cfg.FrameDurationMS) * time.Millisecond
		capture, err := r.gateway.OpenCapture(r.cfg.SampleRate, r.cfg.Channels, frame)
		if err != nil {
			return "", Devicef(err, "open capture device")
		}
		r.capture = capture
	}

	handler := &recognitionSink{recognizer: r, sessionID: sessionID}
	stream, err := r.dialer.DialRecognition(r.ctx, handler)
	if err != nil {
		return "", Upstreamf(err, "open recognition connection")
	}

	startCtx, cancel := context.WithTimeout(r.ctx, r.dialTimeout)
	defer cancel()
	if err := stream.Start(startCtx); err != nil {
		_ = stream.Stop()
		return "", Upstreamf(err, "start recognition task")
	}

	r.stream = stream
	r.sessionID = sessionID
	r.recording = true
	r.ensureCaptureLoop()

	if r.sessionCount != nil {
		r.sessionCount.Add(r.ctx, 1)
	}
	r.logger.Info("recognition started", slog.String("session_id", sessionID))
	return sessionID, nil
}

// Stop ends the active session. The recording flag is cleared before
// connection teardown so the capture loop stops forwarding first.
// Teardown errors are logged and swallowed.
func (r *Recognizer) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return "", NotFoundf("no recognition session is recording")
	}
	sessionID := r.sessionID
	stream := r.stream
	r.recording = false
	r.stream = nil

	if stream != nil {
		if err := stream.Stop(); err != nil {
			r.logger.Warn("recognition teardown failed", slog.String("session_id", sessionID), slogError(err))
		}
	}
	r.logger.Info("recognition stopped", slog.String("session_id", sessionID))
	return sessionID, nil
}

// Poll drains pending Result Events, filtered by sessionID when given.
func (r *Recognizer) Poll(sessionID string) []Event {
	return r.results.Drain(sessionID)
}

// Recording reports whether a session is currently capturing.
func (r *Recognizer) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// SessionID returns the active session identifier, or "" when idle.
func (r *Recognizer) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return ""
	}
	return r.sessionID
}

// Close stops the active session if any and shuts the capture loop
// down. Blocks until the loop exits and the device is released.
func (r *Recognizer) Close() {
	if r.Recording() {
		_, _ = r.Stop()
	}
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	capture := r.capture
	r.capture = nil
	r.mu.Unlock()
	if capture != nil {
		if err := capture.Close(); err != nil {
			r.logger.Warn("failed to close capture device", slogError(err))
		}
	}
}

func (r *Recognizer) ensureCaptureLoop() {
	r.loopOnce.Do(func() {
		r.wg.Add(1)
		go r.runCaptureLoop()
	})
}

// runCaptureLoop is the single background capture task. Start opens
// the device before the first session and holds it until Close so
// rapid session churn does not race device open/close. When nothing
// records the loop idles on a short poll interval instead of blocking
// on the device.
func (r *Recognizer) runCaptureLoop() {
	defer r.wg.Done()

	idle := time.Duration(r.cfg.IdlePollMS) * time.Millisecond

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		stream, capture, sessionID := r.activeStream()
		if stream == nil || capture == nil {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(idle):
			}
			continue
		}

		pcm, err := capture.ReadFrame()
		if err != nil {
			// A single bad frame is a glitch, not a session failure.
			r.logger.Warn("capture read failed", slogError(err))
			if r.frameErrors != nil {
				r.frameErrors.Add(r.ctx, 1)
			}
			continue
		}

		if err := stream.SendFrame(pcm); err != nil {
			r.logger.Warn("failed to forward audio frame", slog.String("session_id", sessionID), slogError(err))
			if r.frameErrors != nil {
				r.frameErrors.Add(r.ctx, 1)
			}
			continue
		}
		if r.frameCount != nil {
			r.frameCount.Add(r.ctx, 1)
		}
	}
}

func (r *Recognizer) activeStream() (provider.RecognitionStream, audio.CaptureStream, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, nil, ""
	}
	return r.stream, r.capture, r.sessionID
}

func (r *Recognizer) enqueue(ev Event) {
	r.results.Append(ev)
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

// recognitionSink adapts provider callbacks to queue appends. It never
// blocks the connection's reader goroutine.
type recognitionSink struct {
	recognizer *Recognizer
	sessionID  string
}

func (s *recognitionSink) OnResult(text string, final bool) {
	s.recognizer.enqueue(Event{Type: EventText, SessionID: s.sessionID, Text: text, IsFinal: final})
}

func (s *recognitionSink) OnComplete() {
	s.recognizer.enqueue(Event{Type: EventComplete, SessionID: s.sessionID})
}

func (s *recognitionSink) OnError(err error) {
	s.recognizer.enqueue(Event{Type: EventError, SessionID: s.sessionID, Message: err.Error()})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
