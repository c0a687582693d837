package speech

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goldieapp/speechbridge/internal/audio"
	"github.com/goldieapp/speechbridge/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeGateway hands out in-memory device streams and counts opens.
type fakeGateway struct {
	mu            sync.Mutex
	captureOpens  int
	playbackOpens int
	captureErr    error
	readErrEvery  int
	playbacks     []*fakePlayback
}

func (g *fakeGateway) OpenCapture(sampleRate, channels int, frame time.Duration) (audio.CaptureStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	g.captureOpens++
	return &fakeCapture{readErrEvery: g.readErrEvery}, nil
}

func (g *fakeGateway) OpenPlayback(sampleRate, channels int) (audio.PlaybackStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.playbackOpens++
	p := &fakePlayback{}
	g.playbacks = append(g.playbacks, p)
	return p, nil
}

func (g *fakeGateway) playbackOpenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playbackOpens
}

type fakeCapture struct {
	mu           sync.Mutex
	reads        int
	readErrEvery int
	closed       bool
}

func (c *fakeCapture) ReadFrame() ([]byte, error) {
	time.Sleep(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, io.EOF
	}
	c.reads++
	if c.readErrEvery > 0 && c.reads%c.readErrEvery == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return make([]byte, 64), nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakePlayback struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (p *fakePlayback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append(p.data, pcm...)
	return nil
}

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// mockDialer scripts upstream streams and captures the handlers the
// engines bind so tests can drive provider callbacks directly.
type mockDialer struct {
	mu sync.Mutex

	recStreams  []*mockRecognitionStream
	recHandlers []provider.RecognitionHandler
	recDialErr  error

	synStreams  []*mockSynthesisStream
	synHandlers []provider.SynthesisHandler
	synDialErr  error
	synDials    int
}

func (d *mockDialer) DialRecognition(ctx context.Context, h provider.RecognitionHandler) (provider.RecognitionStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.recDialErr != nil {
		return nil, d.recDialErr
	}
	s := &mockRecognitionStream{}
	d.recStreams = append(d.recStreams, s)
	d.recHandlers = append(d.recHandlers, h)
	return s, nil
}

func (d *mockDialer) DialSynthesis(ctx context.Context, voice string, h provider.SynthesisHandler) (provider.SynthesisStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.synDials++
	if d.synDialErr != nil {
		return nil, d.synDialErr
	}
	var s *mockSynthesisStream
	if len(d.synStreams) > d.synDials-1 {
		s = d.synStreams[d.synDials-1]
	} else {
		s = &mockSynthesisStream{}
		d.synStreams = append(d.synStreams, s)
	}
	s.voice = voice
	d.synHandlers = append(d.synHandlers, h)
	return s, nil
}

func (d *mockDialer) lastRecognition() (*mockRecognitionStream, provider.RecognitionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recStreams) == 0 {
		return nil, nil
	}
	return d.recStreams[len(d.recStreams)-1], d.recHandlers[len(d.recHandlers)-1]
}

func (d *mockDialer) synthesisDials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.synDials
}

func (d *mockDialer) synthesisHandler(i int) provider.SynthesisHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.synHandlers[i]
}

type mockRecognitionStream struct {
	mu       sync.Mutex
	startErr error
	started  bool
	stopped  bool
	frames   int
}

func (s *mockRecognitionStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *mockRecognitionStream) SendFrame(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *mockRecognitionStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *mockRecognitionStream) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

type mockSynthesisStream struct {
	mu        sync.Mutex
	voice     string
	failTexts int // StreamText calls to fail with textErr; -1 fails forever
	textErr   error
	finishErr error
	texts     []string
	finished  bool
	closed    bool
}

func (s *mockSynthesisStream) StreamText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTexts != 0 {
		if s.failTexts > 0 {
			s.failTexts--
		}
		return s.textErr
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *mockSynthesisStream) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishErr != nil {
		return s.finishErr
	}
	s.finished = true
	return nil
}

func (s *mockSynthesisStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *mockSynthesisStream) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
