package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

var (
	initOnce sync.Once
	initErr  error
)

func ensureInit() error {
	initOnce.Do(func() {
		initErr = portaudio.Initialize()
	})
	return initErr
}

type portAudioGateway struct{}

// NewPortAudio returns a Gateway backed by the default PortAudio
// devices. Library initialization happens on first open and is safe to
// share across streams.
func NewPortAudio() Gateway {
	return &portAudioGateway{}
}

func (g *portAudioGateway) OpenCapture(sampleRate, channels int, frame time.Duration) (CaptureStream, error) {
	if err := ensureInit(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	samples := int(time.Duration(sampleRate*channels) * frame / time.Second)
	if samples <= 0 {
		return nil, fmt.Errorf("frame duration %v too short at %d Hz", frame, sampleRate)
	}
	buf := make([]int16, samples)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), samples/channels, buf)
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}
	return &portCapture{stream: stream, buf: buf}, nil
}

func (g *portAudioGateway) OpenPlayback(sampleRate, channels int) (PlaybackStream, error) {
	if err := ensureInit(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	const framesPerBuffer = 1024
	buf := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start playback stream: %w", err)
	}
	return &portPlayback{stream: stream, buf: buf}, nil
}

type portCapture struct {
	stream *portaudio.Stream
	buf    []int16
	mu     sync.Mutex
	closed bool
}

func (c *portCapture) ReadFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, io.EOF
	}
	if err := c.stream.Read(); err != nil {
		return nil, fmt.Errorf("read capture frame: %w", err)
	}
	out := make([]byte, len(c.buf)*2)
	for i, s := range c.buf {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}

func (c *portCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stream.Stop()
	return c.stream.Close()
}

type portPlayback struct {
	stream *portaudio.Stream
	buf    []int16
	mu     sync.Mutex
	closed bool
}

func (p *portPlayback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	for off := 0; off < len(samples); off += len(p.buf) {
		n := copy(p.buf, samples[off:])
		// Zero-pad the tail so a short final chunk does not replay
		// whatever the previous buffer held.
		for i := n; i < len(p.buf); i++ {
			p.buf[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("write playback frame: %w", err)
		}
	}
	return nil
}

func (p *portPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.stream.Stop()
	return p.stream.Close()
}
