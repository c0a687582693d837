package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goldieapp/speechbridge/internal/config"
)

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		SampleRate:         16000,
		Channels:           1,
		FrameDurationMS:    20,
		IdlePollMS:         2,
		PlaybackSampleRate: 24000,
		PlaybackChannels:   1,
	}
}

func newTestRecognizer(t *testing.T, dialer *mockDialer, gateway *fakeGateway, opts ...RecognizerOption) *Recognizer {
	t.Helper()
	r := NewRecognizer(context.Background(), testAudioConfig(), time.Second, dialer, gateway, testLogger(), opts...)
	t.Cleanup(r.Close)
	return r
}

func TestStartStopLifecycle(t *testing.T) {
	dialer := &mockDialer{}
	r := newTestRecognizer(t, dialer, &fakeGateway{})

	id, err := r.Start("my-session")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "my-session" {
		t.Fatalf("expected caller id to win, got %s", id)
	}
	if !r.Recording() {
		t.Fatalf("expected recording after start")
	}

	if _, err := r.Start(""); KindOf(err) != KindConflict {
		t.Fatalf("second start should conflict, got %v", err)
	}

	stopped, err := r.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped != "my-session" {
		t.Fatalf("stop returned %s", stopped)
	}
	if r.Recording() {
		t.Fatalf("expected idle after stop")
	}

	if _, err := r.Stop(); KindOf(err) != KindNotFound {
		t.Fatalf("stop while idle should be not-found, got %v", err)
	}

	// start -> stop -> start never leaves a lingering conflict
	if _, err := r.Start(""); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestStartGeneratesSessionID(t *testing.T) {
	dialer := &mockDialer{}
	fixed := time.UnixMilli(1700000000000)
	r := newTestRecognizer(t, dialer, &fakeGateway{},
		WithRecognizerClock(func() time.Time { return fixed }))

	id, err := r.Start("")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "session_1700000000000" {
		t.Fatalf("unexpected generated id %s", id)
	}
}

func TestStartDialFailure(t *testing.T) {
	dialer := &mockDialer{recDialErr: errors.New("connection refused")}
	r := newTestRecognizer(t, dialer, &fakeGateway{})

	if _, err := r.Start(""); KindOf(err) != KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if r.Recording() {
		t.Fatalf("failed start must not leave recording set")
	}
}

func TestStartDeviceOpenFailure(t *testing.T) {
	dialer := &mockDialer{}
	gateway := &fakeGateway{captureErr: errors.New("no such device")}
	r := newTestRecognizer(t, dialer, gateway)

	_, err := r.Start("")
	if KindOf(err) != KindDevice {
		t.Fatalf("unopenable microphone must fail the start call, got %v", err)
	}
	if r.Recording() {
		t.Fatalf("failed start must not leave recording set")
	}
	if len(dialer.recStreams) != 0 {
		t.Fatalf("no upstream dial should happen without a device")
	}

	// the device becoming available fixes the next start
	gateway.mu.Lock()
	gateway.captureErr = nil
	gateway.mu.Unlock()
	if _, err := r.Start(""); err != nil {
		t.Fatalf("start after device recovery: %v", err)
	}
}

func TestCaptureLoopForwardsFrames(t *testing.T) {
	dialer := &mockDialer{}
	gateway := &fakeGateway{}
	r := newTestRecognizer(t, dialer, gateway)

	if _, err := r.Start(""); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream, _ := dialer.lastRecognition()
	if !waitFor(time.Second, func() bool { return stream.frameCount() > 0 }) {
		t.Fatalf("expected frames forwarded while recording")
	}

	if _, err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// allow one in-flight frame to land before sampling
	time.Sleep(10 * time.Millisecond)
	count := stream.frameCount()
	time.Sleep(30 * time.Millisecond)
	if stream.frameCount() != count {
		t.Fatalf("frames forwarded after stop")
	}
}

func TestCaptureDeviceOpenedOnce(t *testing.T) {
	dialer := &mockDialer{}
	gateway := &fakeGateway{}
	r := newTestRecognizer(t, dialer, gateway)

	for i := 0; i < 3; i++ {
		if _, err := r.Start(""); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		stream, _ := dialer.lastRecognition()
		if !waitFor(time.Second, func() bool { return stream.frameCount() > 0 }) {
			t.Fatalf("no frames on iteration %d", i)
		}
		if _, err := r.Stop(); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}

	gateway.mu.Lock()
	opens := gateway.captureOpens
	gateway.mu.Unlock()
	if opens != 1 {
		t.Fatalf("expected device opened once across sessions, got %d", opens)
	}
}

func TestCaptureReadErrorsTolerated(t *testing.T) {
	dialer := &mockDialer{}
	gateway := &fakeGateway{readErrEvery: 2}
	r := newTestRecognizer(t, dialer, gateway)

	if _, err := r.Start(""); err != nil {
		t.Fatalf("start: %v", err)
	}
	stream, _ := dialer.lastRecognition()
	if !waitFor(time.Second, func() bool { return stream.frameCount() >= 3 }) {
		t.Fatalf("capture glitches must not stall the session")
	}
	if !r.Recording() {
		t.Fatalf("transient read errors must not kill the session")
	}
}

func TestCallbackEventsPolled(t *testing.T) {
	dialer := &mockDialer{}
	r := newTestRecognizer(t, dialer, &fakeGateway{})

	id, err := r.Start("")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, handler := dialer.lastRecognition()
	handler.OnResult("hello", false)
	handler.OnResult("hello world", true)
	handler.OnComplete()

	events := r.Poll(id)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Text != "hello" || events[0].IsFinal {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if !events[1].IsFinal {
		t.Fatalf("expected final flag on second event")
	}
	if events[2].Type != EventComplete {
		t.Fatalf("expected complete event last")
	}

	// consumed exactly once
	if again := r.Poll(id); len(again) != 0 {
		t.Fatalf("events redelivered: %+v", again)
	}
}

func TestCallbackErrorEvent(t *testing.T) {
	dialer := &mockDialer{}
	r := newTestRecognizer(t, dialer, &fakeGateway{})

	id, err := r.Start("")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, handler := dialer.lastRecognition()
	handler.OnError(errors.New("quota exceeded"))

	events := r.Poll("")
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("expected one error event, got %+v", events)
	}
	if events[0].SessionID != id || events[0].Message != "quota exceeded" {
		t.Fatalf("unexpected error event %+v", events[0])
	}
}

func TestStaleResultsDroppedOnStart(t *testing.T) {
	dialer := &mockDialer{}
	r := newTestRecognizer(t, dialer, &fakeGateway{})

	if _, err := r.Start("first"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, handler := dialer.lastRecognition()
	handler.OnResult("stale", true)
	if _, err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := r.Start("second"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if events := r.Poll(""); len(events) != 0 {
		t.Fatalf("stale events leaked into new session: %+v", events)
	}
}

func TestRecognizerSink(t *testing.T) {
	dialer := &mockDialer{}
	var sunk []Event
	r := newTestRecognizer(t, dialer, &fakeGateway{},
		WithRecognizerSink(func(ev Event) { sunk = append(sunk, ev) }))

	if _, err := r.Start(""); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, handler := dialer.lastRecognition()
	handler.OnResult("hi", true)

	if len(sunk) != 1 || sunk[0].Text != "hi" {
		t.Fatalf("sink not invoked: %+v", sunk)
	}
}
