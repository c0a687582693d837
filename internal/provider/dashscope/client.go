// Package dashscope implements the provider contract over the
// DashScope websocket inference API. One websocket connection carries
// one upstream task; JSON envelopes drive the task lifecycle and
// binary frames carry audio in either direction.
package dashscope

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goldieapp/speechbridge/internal/config"
	"github.com/goldieapp/speechbridge/internal/provider"
)

// Client dials recognition and synthesis streams against one DashScope
// endpoint. The credential is resolved per dial so keys saved after
// process start take effect on the next session.
type Client struct {
	baseURL            string
	credential         func() string
	recognitionModel   string
	synthesisModel     string
	sampleRate         int
	playbackSampleRate int
	connectTimeout     time.Duration
	logger             *slog.Logger
}

var _ provider.Dialer = (*Client)(nil)

func NewClient(cfg config.ProviderConfig, audioCfg config.AudioConfig, credential func() string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:            cfg.BaseURL,
		credential:         credential,
		recognitionModel:   cfg.RecognitionModel,
		synthesisModel:     cfg.SynthesisModel,
		sampleRate:         audioCfg.SampleRate,
		playbackSampleRate: audioCfg.PlaybackSampleRate,
		connectTimeout:     time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		logger:             logger.With(slog.String("component", "dashscope")),
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "bearer "+c.credential())
	headers.Set("X-DashScope-DataInspection", "enable")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.connectTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.baseURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &provider.Error{
				Code:       "ConnectionFailed",
				Message:    fmt.Sprintf("failed to connect: %v", err),
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, fmt.Errorf("dashscope: failed to connect: %w", err)
	}
	return conn, nil
}
