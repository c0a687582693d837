package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goldieapp/speechbridge/internal/audio"
	"github.com/goldieapp/speechbridge/internal/bus"
	"github.com/goldieapp/speechbridge/internal/config"
	"github.com/goldieapp/speechbridge/internal/httpapi"
	"github.com/goldieapp/speechbridge/internal/natsserver"
	"github.com/goldieapp/speechbridge/internal/protocol"
	"github.com/goldieapp/speechbridge/internal/provider/dashscope"
	"github.com/goldieapp/speechbridge/internal/speech"
	"github.com/goldieapp/speechbridge/internal/store"
)

// Runtime assembles and supervises every subsystem: telemetry, the
// optional bus, the history store, the audio gateway, both speech
// engines, and the HTTP surface.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool
	wg     sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the service until ctx is cancelled, then shuts every
// subsystem down in reverse dependency order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	var metricsServer *http.Server
	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			busCfg.Servers = []string{fmt.Sprintf("nats://localhost:%d", busCfg.Port)}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
	}

	history, err := store.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("failed to open history store: %w", err)
	}

	credential := func() string {
		return config.ResolveCredential(r.cfg.Provider.CredentialFile)
	}
	dialer := dashscope.NewClient(r.cfg.Provider, r.cfg.Audio, credential, r.logger)
	gateway := audio.NewPortAudio()

	audioDir := func() string {
		settings, err := config.LoadSettings(r.cfg.Export.SettingsPath, r.cfg.Export.DefaultDir)
		if err != nil {
			r.logger.Warn("failed to load settings, using default export dir", slog.String("error", err.Error()))
			return r.cfg.Export.DefaultDir
		}
		return settings.AudioDir
	}

	events := make(chan speech.Event, 256)
	r.wg.Add(1)
	go r.runEventSink(ctx, events, busClient, history)
	sink := func(ev speech.Event) {
		select {
		case events <- ev:
		default:
			r.logger.Warn("event sink full, dropping event", slog.String("session_id", ev.SessionID))
		}
	}

	startTimeout := time.Duration(r.cfg.Provider.StartTimeoutMS) * time.Millisecond
	recognizer := speech.NewRecognizer(ctx, r.cfg.Audio, startTimeout, dialer, gateway, r.logger,
		speech.WithRecognizerSink(sink))

	retry := speech.RetryPolicy{
		MaxAttempts: r.cfg.Reconnect.MaxAttempts,
		Delay:       time.Duration(r.cfg.Reconnect.DelayMS) * time.Millisecond,
	}
	synthesizer := speech.NewSynthesizer(ctx, r.cfg.Audio, retry, dialer, gateway, audioDir, r.logger,
		speech.WithSynthesizerStartHook(func(sessionID, voice string) {
			if err := history.BeginSession(context.Background(), sessionID, store.KindSynthesis, voice); err != nil {
				r.logger.Warn("failed to record synthesis session", slog.String("error", err.Error()))
			}
		}))

	components := func() map[string]bool {
		health := map[string]bool{
			"recognition": true,
			"synthesis":   true,
			"credential":  config.HasCredential(r.cfg.Provider.CredentialFile),
		}
		if r.cfg.Bus.Enabled {
			health["bus"] = busClient.Healthy()
		}
		return health
	}

	api := httpapi.NewServer(r.cfg.HTTP, recognizer, synthesizer, components, r.logger)
	if err := api.Start(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	r.ready.Store(true)
	r.logger.Info("speechbridge started",
		slog.String("addr", fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)),
		slog.Bool("bus", r.cfg.Bus.Enabled))

	<-ctx.Done()
	r.logger.Info("speechbridge stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := api.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	recognizer.Close()
	synthesizer.Close()
	busClient.Close()
	embedded.Shutdown()
	if err := history.Close(); err != nil {
		r.logger.Error("history close error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// runEventSink forwards recognition events to the bus and the history
// store off the capture and reader goroutines.
func (r *Runtime) runEventSink(ctx context.Context, events <-chan speech.Event, busClient *bus.Client, history *store.Store) {
	defer r.wg.Done()
	seen := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.sinkEvent(ctx, ev, busClient, history, seen)
		}
	}
}

func (r *Runtime) sinkEvent(ctx context.Context, ev speech.Event, busClient *bus.Client, history *store.Store, seen map[string]bool) {
	now := time.Now().UTC()

	if ev.Type == speech.EventText {
		if !seen[ev.SessionID] {
			seen[ev.SessionID] = true
			if err := history.BeginSession(ctx, ev.SessionID, store.KindRecognition, ""); err != nil {
				r.logger.Warn("failed to record recognition session", slog.String("error", err.Error()))
			}
		}
		if err := history.AppendTranscript(ctx, ev.SessionID, ev.Text, ev.IsFinal); err != nil {
			r.logger.Warn("failed to record transcript", slog.String("error", err.Error()))
		}
	}

	if busClient == nil {
		return
	}
	var err error
	switch ev.Type {
	case speech.EventText:
		err = busClient.PublishJSON(protocol.SubjectRecognitionText, protocol.RecognitionResult{
			SessionID: ev.SessionID, Text: ev.Text, IsFinal: ev.IsFinal, Timestamp: now,
		})
	case speech.EventComplete:
		err = busClient.PublishJSON(protocol.SubjectRecognitionComplete, protocol.SessionComplete{
			SessionID: ev.SessionID, Timestamp: now,
		})
	case speech.EventError:
		err = busClient.PublishJSON(protocol.SubjectRecognitionError, protocol.SessionError{
			SessionID: ev.SessionID, Message: ev.Message, Timestamp: now,
		})
	}
	if err != nil {
		r.logger.Warn("failed to publish result event", slog.String("error", err.Error()))
	}
}
