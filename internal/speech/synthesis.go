package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/goldieapp/speechbridge/internal/audio"
	"github.com/goldieapp/speechbridge/internal/config"
	"github.com/goldieapp/speechbridge/internal/provider"
	"github.com/goldieapp/speechbridge/internal/wavio"
)

// ErrNoNewData reports an export call that found nothing buffered since
// the previous export.
var ErrNoNewData = errors.New("no new audio data to export")

// Playback states advance forward only; closed is terminal.
const (
	playbackUninitialized int32 = iota
	playbackConnecting
	playbackReady
	playbackClosed
)

// SessionStatus is the coarse readiness view reported to callers.
type SessionStatus struct {
	Registered  bool `json:"registered"`
	Initialized bool `json:"initialized"`
	Ready       bool `json:"ready"`
}

// Synthesizer manages concurrent text-to-audio sessions. Each session
// owns one upstream connection and one lazily-opened playback device.
type Synthesizer struct {
	cfg      config.AudioConfig
	dialer   provider.Dialer
	gateway  audio.Gateway
	logger   *slog.Logger
	retry    RetryPolicy
	audioDir func() string
	newID    func() string
	clock    func() time.Time
	onStart  func(sessionID, voice string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*synthSession

	meter        metric.Meter
	sessionCount metric.Int64Counter
	reconnects   metric.Int64Counter
}

type synthSession struct {
	id      string
	voice   string
	stream  provider.SynthesisStream
	handler *playbackHandler
}

// SynthesizerOption customizes a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithSynthesizerClock substitutes the time source used for export
// file naming.
func WithSynthesizerClock(clock func() time.Time) SynthesizerOption {
	return func(s *Synthesizer) { s.clock = clock }
}

// WithSynthesizerIDs substitutes the session identifier generator.
func WithSynthesizerIDs(newID func() string) SynthesizerOption {
	return func(s *Synthesizer) { s.newID = newID }
}

// WithSynthesizerStartHook registers a hook invoked after a session is
// registered. Must not block.
func WithSynthesizerStartHook(hook func(sessionID, voice string)) SynthesizerOption {
	return func(s *Synthesizer) { s.onStart = hook }
}

// NewSynthesizer builds the session registry. audioDir is resolved per
// export call so settings edits apply without a restart.
func NewSynthesizer(parent context.Context, cfg config.AudioConfig, retry RetryPolicy, dialer provider.Dialer, gateway audio.Gateway, audioDir func() string, logger *slog.Logger, opts ...SynthesizerOption) *Synthesizer {
	ctx, cancel := context.WithCancel(parent)
	s := &Synthesizer{
		cfg:      cfg,
		dialer:   dialer,
		gateway:  gateway,
		logger:   logger.With(slog.String("component", "synthesizer")),
		retry:    retry,
		audioDir: audioDir,
		newID:    uuid.NewString,
		clock:    time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*synthSession),
		meter:    otel.Meter("github.com/goldieapp/speechbridge/speech"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s
}

func (s *Synthesizer) initMetrics() {
	var err error
	if s.sessionCount, err = s.meter.Int64Counter("speechbridge.synthesis.sessions"); err != nil {
		s.logger.Warn("failed to initialize session counter", slogError(err))
	}
	if s.reconnects, err = s.meter.Int64Counter("speechbridge.synthesis.reconnects"); err != nil {
		s.logger.Warn("failed to initialize reconnect counter", slogError(err))
	}
}

// Start opens a new synthesis session for voice and returns its
// identifier. The call does not wait for upstream readiness; callers
// observe readiness through Status.
func (s *Synthesizer) Start(voice string) (string, error) {
	id := s.newID()
	handler := s.newHandler(id)
	stream, err := s.dialer.DialSynthesis(s.ctx, voice, handler)
	if err != nil {
		return "", Upstreamf(err, "open synthesis connection")
	}

	s.mu.Lock()
	s.sessions[id] = &synthSession{id: id, voice: voice, stream: stream, handler: handler}
	s.mu.Unlock()

	if s.sessionCount != nil {
		s.sessionCount.Add(s.ctx, 1)
	}
	if s.onStart != nil {
		s.onStart(id, voice)
	}
	s.logger.Info("synthesis session started", slog.String("session_id", id), slog.String("voice", voice))
	return id, nil
}

// Synthesize forwards text to a session's connection, optionally
// signalling end-of-stream. A send that fails because the upstream
// task never started triggers one reconnect with the same voice before
// the error surfaces.
func (s *Synthesizer) Synthesize(sessionID, text string, complete bool) error {
	// Session existence is checked before payload validation so an
	// unknown session always reports not-found.
	if _, ok := s.lookup(sessionID); !ok {
		return NotFoundf("synthesis session %s not found", sessionID)
	}
	if text == "" && !complete {
		return Validationf("text is required unless is_complete is set")
	}

	op := func() error {
		sess, ok := s.lookup(sessionID)
		if !ok {
			return NotFoundf("synthesis session %s not found", sessionID)
		}
		if text != "" {
			if err := sess.stream.StreamText(text); err != nil {
				return err
			}
		}
		if complete {
			if err := sess.stream.Finish(); err != nil {
				return err
			}
		}
		return nil
	}
	recoverable := func(err error) bool {
		return errors.Is(err, provider.ErrNotStarted)
	}
	reset := func() error {
		return s.reconnect(sessionID)
	}

	if err := s.retry.Run(op, recoverable, reset); err != nil {
		if KindOf(err) != KindUnknown {
			return err
		}
		return Upstreamf(err, "synthesis request failed")
	}
	return nil
}

// reconnect replaces a session's connection with a fresh one bound to
// the same voice. The old handler gets a best-effort close.
func (s *Synthesizer) reconnect(sessionID string) error {
	s.mu.Lock()
	old, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return NotFoundf("synthesis session %s not found", sessionID)
	}

	s.logger.Warn("synthesis connection not started, reconnecting", slog.String("session_id", sessionID), slog.String("voice", old.voice))
	if s.reconnects != nil {
		s.reconnects.Add(s.ctx, 1)
	}

	handler := s.newHandler(sessionID)
	stream, err := s.dialer.DialSynthesis(s.ctx, old.voice, handler)
	if err != nil {
		return Upstreamf(err, "reopen synthesis connection")
	}

	old.handler.OnClose()
	_ = old.stream.Close()

	s.mu.Lock()
	if _, still := s.sessions[sessionID]; still {
		s.sessions[sessionID] = &synthSession{id: sessionID, voice: old.voice, stream: stream, handler: handler}
	}
	s.mu.Unlock()
	return nil
}

// Status reports registration and coarse readiness. Readiness reads
// are eventually consistent with the connection's callback thread.
func (s *Synthesizer) Status(sessionID string) (SessionStatus, error) {
	sess, ok := s.lookup(sessionID)
	if !ok {
		return SessionStatus{}, NotFoundf("synthesis session %s not found", sessionID)
	}
	state := sess.handler.state.Load()
	return SessionStatus{
		Registered:  true,
		Initialized: state >= playbackConnecting && state != playbackClosed,
		Ready:       state == playbackReady,
	}, nil
}

// Stop tears a session down. The playback device closes immediately,
// the upstream finish runs on a background task, and the registry
// entry is removed unconditionally. Stop never fails.
func (s *Synthesizer) Stop(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.handler.markClosed()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := sess.stream.Finish(); err != nil && !errors.Is(err, provider.ErrNotStarted) {
			s.logger.Warn("synthesis finish failed", slog.String("session_id", sessionID), slogError(err))
		}
		if err := sess.stream.Close(); err != nil {
			s.logger.Warn("synthesis close failed", slog.String("session_id", sessionID), slogError(err))
		}
	}()
	s.logger.Info("synthesis session stopped", slog.String("session_id", sessionID))
}

// Export writes audio accumulated since the last export to a WAV file
// in the configured directory and returns its path. ErrNoNewData when
// nothing arrived since the previous export.
func (s *Synthesizer) Export(sessionID string) (string, error) {
	sess, ok := s.lookup(sessionID)
	if !ok {
		return "", NotFoundf("synthesis session %s not found", sessionID)
	}
	pcm := sess.handler.takeBuffered()
	if len(pcm) == 0 {
		return "", ErrNoNewData
	}

	dir := s.audioDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", Devicef(err, "create export directory")
	}
	name := fmt.Sprintf("synthesis_%s_%d.wav", sessionID, s.clock().Unix())
	path := filepath.Join(dir, name)
	if err := wavio.WriteFile(path, pcm, s.cfg.PlaybackSampleRate, s.cfg.PlaybackChannels); err != nil {
		return "", Devicef(err, "write export file")
	}
	s.logger.Info("synthesis audio exported", slog.String("session_id", sessionID), slog.String("path", path))
	return path, nil
}

// Sessions returns the identifiers of all registered sessions.
func (s *Synthesizer) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every session and waits for background teardown.
func (s *Synthesizer) Close() {
	for _, id := range s.Sessions() {
		s.Stop(id)
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Synthesizer) lookup(sessionID string) (*synthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

func (s *Synthesizer) newHandler(sessionID string) *playbackHandler {
	return &playbackHandler{
		sessionID: sessionID,
		gateway:   s.gateway,
		cfg:       s.cfg,
		logger:    s.logger,
	}
}

// playbackHandler receives synthesis audio. It advances the playback
// state machine, lazily opens the output device on the first byte, and
// keeps a retrievable copy of everything received for export.
type playbackHandler struct {
	sessionID string
	gateway   audio.Gateway
	cfg       config.AudioConfig
	logger    *slog.Logger

	state atomic.Int32

	mu       sync.Mutex
	playback audio.PlaybackStream
	buf      []byte
}

// advance moves the state forward, never backward. Closed wins from
// any state.
func (h *playbackHandler) advance(target int32) {
	for {
		cur := h.state.Load()
		if cur >= target && target != playbackClosed {
			return
		}
		if cur == playbackClosed {
			return
		}
		if h.state.CompareAndSwap(cur, target) {
			return
		}
	}
}

func (h *playbackHandler) OnOpen() {
	h.advance(playbackConnecting)
}

func (h *playbackHandler) OnData(audioBytes []byte) {
	h.advance(playbackReady)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Load() == playbackClosed {
		return
	}
	h.buf = append(h.buf, audioBytes...)

	if h.playback == nil {
		stream, err := h.gateway.OpenPlayback(h.cfg.PlaybackSampleRate, h.cfg.PlaybackChannels)
		if err != nil {
			h.logger.Warn("failed to open playback device", slog.String("session_id", h.sessionID), slogError(err))
			return
		}
		h.playback = stream
	}
	if err := h.playback.Write(audioBytes); err != nil {
		h.logger.Warn("playback write failed", slog.String("session_id", h.sessionID), slogError(err))
	}
}

func (h *playbackHandler) OnError(err error) {
	h.logger.Warn("synthesis stream error", slog.String("session_id", h.sessionID), slogError(err))
}

func (h *playbackHandler) OnClose() {
	h.markClosed()
}

func (h *playbackHandler) markClosed() {
	h.advance(playbackClosed)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playback != nil {
		if err := h.playback.Close(); err != nil {
			h.logger.Warn("failed to close playback device", slog.String("session_id", h.sessionID), slogError(err))
		}
		h.playback = nil
	}
}

// takeBuffered returns and clears the accumulated audio. The buffer
// survives stream close so a finished session can still export.
func (h *playbackHandler) takeBuffered() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.buf
	h.buf = nil
	return out
}
