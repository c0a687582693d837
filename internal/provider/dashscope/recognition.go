package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/goldieapp/speechbridge/internal/provider"
)

// DialRecognition opens one recognition websocket. The upstream task
// is not started until Start is called.
func (c *Client) DialRecognition(ctx context.Context, h provider.RecognitionHandler) (provider.RecognitionStream, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	s := &recognitionStream{
		conn:       conn,
		handler:    h,
		taskID:     uuid.NewString(),
		model:      c.recognitionModel,
		sampleRate: c.sampleRate,
		logger:     c.logger,
		started:    make(chan struct{}),
		startErr:   make(chan error, 1),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type recognitionStream struct {
	conn       *websocket.Conn
	handler    provider.RecognitionHandler
	taskID     string
	model      string
	sampleRate int
	logger     *slog.Logger

	writeMu sync.Mutex

	started   chan struct{}
	startErr  chan error
	done      chan struct{}
	closeOnce sync.Once
}

// Start submits the recognition task and blocks until the server
// acknowledges it, the task fails, or ctx expires.
func (s *recognitionStream) Start(ctx context.Context) error {
	run := envelope{
		Header: header{
			Action:    actionRunTask,
			TaskID:    s.taskID,
			Streaming: "duplex",
		},
		Payload: payload{
			TaskGroup: "audio",
			Task:      "asr",
			Function:  "recognition",
			Model:     s.model,
			Parameters: map[string]any{
				"format":      "pcm",
				"sample_rate": s.sampleRate,
			},
			Input: map[string]any{},
		},
	}
	if err := s.writeJSON(run); err != nil {
		return fmt.Errorf("submit recognition task: %w", err)
	}

	select {
	case <-s.started:
		return nil
	case err := <-s.startErr:
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait for recognition task start: %w", ctx.Err())
	}
}

// SendFrame forwards one PCM frame as a binary websocket message.
func (s *recognitionStream) SendFrame(pcm []byte) error {
	select {
	case <-s.started:
	default:
		return provider.ErrNotStarted
	}
	select {
	case <-s.done:
		return provider.ErrNotStarted
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("send audio frame: %w", err)
	}
	return nil
}

// Stop requests end-of-input, waits briefly for the server to finish
// the task, and closes the connection.
func (s *recognitionStream) Stop() error {
	finish := envelope{
		Header:  header{Action: actionFinishTask, TaskID: s.taskID},
		Payload: payload{Input: map[string]any{}},
	}
	err := s.writeJSON(finish)

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("recognition task did not finish before close", slog.String("task_id", s.taskID))
	}
	s.close()
	return err
}

func (s *recognitionStream) writeJSON(v envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *recognitionStream) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func (s *recognitionStream) readLoop() {
	defer close(s.done)
	startedSeen := false

	for {
		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			if !startedSeen {
				select {
				case s.startErr <- fmt.Errorf("recognition connection closed: %w", err):
				default:
				}
			} else {
				s.handler.OnError(fmt.Errorf("recognition read failed: %w", err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var ev envelope
		if err := json.Unmarshal(message, &ev); err != nil {
			s.logger.Warn("failed to decode recognition event", slog.String("error", err.Error()))
			continue
		}

		switch ev.Header.Event {
		case eventTaskStarted:
			if !startedSeen {
				startedSeen = true
				close(s.started)
			}
		case eventResultGenerated:
			var out recognitionOutput
			if err := json.Unmarshal(ev.Payload.Output, &out); err != nil {
				s.logger.Warn("failed to decode recognition output", slog.String("error", err.Error()))
				continue
			}
			if out.Sentence.Text != "" {
				s.handler.OnResult(out.Sentence.Text, out.Sentence.SentenceEnd)
			}
		case eventTaskFinished:
			s.handler.OnComplete()
			return
		case eventTaskFailed:
			perr := &provider.Error{Code: ev.Header.ErrorCode, Message: ev.Header.ErrorMessage}
			if !startedSeen {
				select {
				case s.startErr <- perr:
				default:
				}
			} else {
				s.handler.OnError(perr)
			}
			return
		}
	}
}
