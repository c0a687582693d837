package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/goldieapp/speechbridge/internal/provider"
)

// DialSynthesis opens one synthesis websocket and submits the task
// immediately. The stream is not ready until the server acknowledges
// the task; sends before that fail with ErrNotStarted.
func (c *Client) DialSynthesis(ctx context.Context, voice string, h provider.SynthesisHandler) (provider.SynthesisStream, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	s := &synthesisStream{
		conn:       conn,
		handler:    h,
		taskID:     uuid.NewString(),
		model:      c.synthesisModel,
		voice:      voice,
		sampleRate: c.playbackSampleRate,
		logger:     c.logger,
		done:       make(chan struct{}),
	}
	if err := s.submitTask(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("submit synthesis task: %w", err)
	}
	go s.readLoop()
	return s, nil
}

type synthesisStream struct {
	conn       *websocket.Conn
	handler    provider.SynthesisHandler
	taskID     string
	model      string
	voice      string
	sampleRate int
	logger     *slog.Logger

	writeMu sync.Mutex
	started atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func (s *synthesisStream) submitTask() error {
	run := envelope{
		Header: header{
			Action:    actionRunTask,
			TaskID:    s.taskID,
			Streaming: "duplex",
		},
		Payload: payload{
			TaskGroup: "audio",
			Task:      "tts",
			Function:  "SpeechSynthesizer",
			Model:     s.model,
			Parameters: map[string]any{
				"text_type":   "PlainText",
				"voice":       s.voice,
				"format":      "pcm",
				"sample_rate": s.sampleRate,
			},
			Input: map[string]any{},
		},
	}
	return s.writeJSON(run)
}

// StreamText forwards one text fragment to the running task.
func (s *synthesisStream) StreamText(text string) error {
	if !s.started.Load() {
		return provider.ErrNotStarted
	}
	cont := envelope{
		Header:  header{Action: actionContinueTask, TaskID: s.taskID},
		Payload: payload{Input: map[string]any{"text": text}},
	}
	if err := s.writeJSON(cont); err != nil {
		return fmt.Errorf("stream synthesis text: %w", err)
	}
	return nil
}

// Finish signals end-of-stream; remaining audio is still delivered
// before the task finishes.
func (s *synthesisStream) Finish() error {
	if !s.started.Load() {
		return provider.ErrNotStarted
	}
	finish := envelope{
		Header:  header{Action: actionFinishTask, TaskID: s.taskID},
		Payload: payload{Input: map[string]any{}},
	}
	if err := s.writeJSON(finish); err != nil {
		return fmt.Errorf("finish synthesis task: %w", err)
	}
	return nil
}

func (s *synthesisStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *synthesisStream) writeJSON(v envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return provider.ErrNotStarted
	default:
	}
	return s.conn.WriteJSON(v)
}

func (s *synthesisStream) readLoop() {
	defer close(s.done)

	for {
		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			if s.started.Load() {
				s.handler.OnError(fmt.Errorf("synthesis read failed: %w", err))
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			s.handler.OnData(message)
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var ev envelope
		if err := json.Unmarshal(message, &ev); err != nil {
			s.logger.Warn("failed to decode synthesis event", slog.String("error", err.Error()))
			continue
		}

		switch ev.Header.Event {
		case eventTaskStarted:
			s.started.Store(true)
			s.handler.OnOpen()
		case eventTaskFinished:
			s.handler.OnClose()
			return
		case eventTaskFailed:
			s.handler.OnError(&provider.Error{Code: ev.Header.ErrorCode, Message: ev.Header.ErrorMessage})
			return
		}
	}
}
