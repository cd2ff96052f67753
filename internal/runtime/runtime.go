package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/natsserver"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/session"
	"github.com/scribelabs/scribe-core/internal/store"
	"github.com/scribelabs/scribe-core/internal/summary"
	"github.com/scribelabs/scribe-core/internal/transcribe"
)

// Runtime wires the agent together: embedded bus, meeting store, session
// registry and the HTTP surface. Start blocks until the context is canceled,
// then shuts everything down in reverse order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	meetings    *store.Store
	registry    *session.Registry
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	r.natsServer, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}

	r.busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.natsServer.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	r.meetings, err = store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		r.busClient.Close()
		r.natsServer.Shutdown()
		return fmt.Errorf("failed to open meeting store: %w", err)
	}

	r.registry = session.NewRegistry(r.cfg, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("agent started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("agent stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := r.registry.Close(shutdownCtx); err != nil {
		r.logger.Error("failed to stop active meeting", slog.String("error", err.Error()))
	}
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.busClient.Close()
	r.natsServer.Shutdown()
	if err := r.meetings.Close(); err != nil {
		r.logger.Error("store close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// sessionDeps builds the per-meeting collaborators and bridges transcript
// events onto the bus.
func (r *Runtime) sessionDeps() (session.Deps, error) {
	source, err := audio.NewSource(r.cfg.Audio)
	if err != nil {
		return session.Deps{}, err
	}
	transcriber, err := transcribe.NewTranscriber(r.cfg.Transcription)
	if err != nil {
		return session.Deps{}, err
	}
	summarizer, err := summary.NewGenerator(r.cfg.Summary)
	if err != nil {
		return session.Deps{}, err
	}

	busClient := r.busClient
	log := r.logger
	return session.Deps{
		Source:      source,
		Format:      audio.FormatFor(r.cfg.Audio),
		Transcriber: transcriber,
		Summarizer:  summarizer,
		Saver:       r.meetings,
		OnSegment: func(meetingID string, seg transcribe.Segment) {
			evt := protocol.SegmentEvent{
				MeetingID:       meetingID,
				Seq:             seg.Seq,
				Text:            seg.Text,
				DurationSeconds: seg.Duration.Seconds(),
				CostUSD:         seg.Cost,
				Gap:             seg.Gap,
				Timestamp:       time.Now().UTC(),
			}
			if err := busClient.PublishJSON(protocol.SegmentSubject(meetingID), evt); err != nil {
				log.Warn("failed to publish segment event", slog.String("error", err.Error()))
			}
		},
		OnStatus: func(meetingID string, status session.Status, costUSD float64) {
			evt := protocol.StatusEvent{
				MeetingID: meetingID,
				Status:    string(status),
				CostUSD:   costUSD,
				Timestamp: time.Now().UTC(),
			}
			if err := busClient.PublishJSON(protocol.StatusSubject(meetingID), evt); err != nil {
				log.Warn("failed to publish status event", slog.String("error", err.Error()))
			}
		},
	}, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
