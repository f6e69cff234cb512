package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/audio"
	"github.com/harunnryd/viva/pkg/avatar"
	"github.com/harunnryd/viva/pkg/bargein"
	"github.com/harunnryd/viva/pkg/capture"
	"github.com/harunnryd/viva/pkg/config"
	"github.com/harunnryd/viva/pkg/evaluate"
	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/harunnryd/viva/pkg/metrics/prometheus"
	"github.com/harunnryd/viva/pkg/observers"
	"github.com/harunnryd/viva/pkg/providers"
	"github.com/harunnryd/viva/pkg/recording"
	"github.com/harunnryd/viva/pkg/room"
	"github.com/harunnryd/viva/pkg/session"
	"github.com/harunnryd/viva/pkg/statusapi"
	"github.com/harunnryd/viva/pkg/transports/browser"
	"github.com/harunnryd/viva/pkg/turn"
	"github.com/redis/go-redis/v9"
)

// app holds every component of one interview process.
type app struct {
	logger    *slog.Logger
	sessionID string

	observer *metrics.AsyncObserver
	closers  []func() error

	hub         *audio.Hub
	recorder    *recording.Recorder
	transport   *browser.Transport
	coordinator *avatar.Coordinator
	capture     *capture.Adapter
	monitor     *bargein.Monitor
	ctrl        *turn.Controller
	server      *statusapi.Server
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	// 1. Observers
	multi := observers.NewMultiObserver(observers.NewLoggerObserver(logger))
	var metricsHandler http.Handler
	if cfg.Observability.Prometheus {
		promObs := prometheus.New()
		multi.Add(promObs)
		metricsHandler = promObs.Handler()
	}
	if dir := cfg.Observability.ArtifactsDir; dir != "" {
		if cfg.Observability.Timeline {
			timeline := observers.NewTimelineObserver(dir)
			multi.Add(timeline)
			a.closers = append(a.closers, timeline.Close)
		}
		usage := observers.NewUsageObserver(dir)
		multi.Add(usage)
		a.closers = append(a.closers, usage.Close)
	}
	// Latency emits into multi, so it sits one level above it.
	top := observers.NewMultiObserver(multi, observers.NewLatencyObserver(logger, multi))
	var sink metrics.Observer = top
	if rate := cfg.Observability.BargeInSampleRate; rate < 1 {
		sink = metrics.NewByName(metrics.NewSamplingObserver(top, rate), top, "bargein_sample")
	}
	a.observer = metrics.NewAsyncObserver(sink, cfg.Observability.AsyncBuffer)

	// 2. Interview service and snapshot store
	client := api.New(cfg.APIClient(), nil, logger)
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	initial, userID, err := openSession(ctx, cfg, client, store, logger)
	if err != nil {
		return nil, err
	}
	a.sessionID = initial.Session.SessionID

	// 3. Audio plumbing
	a.hub = audio.NewHub(logger)
	var recorder turn.Recorder
	if cfg.Recording.Enabled {
		a.recorder = recording.New(recording.Config{
			Dir:        cfg.Recording.Dir,
			SessionID:  a.sessionID,
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		}, logger)
		if err := a.recorder.Start(a.hub); err != nil {
			return nil, fmt.Errorf("recording: %w", err)
		}
		recorder = a.recorder
	}
	a.transport = browser.New(cfg.BrowserTransport(a.sessionID), a.hub, logger)

	// 4. Speech vendors
	registry := providers.Default()
	sttFactory, err := registry.BuildSTTFactory(cfg.Vendors.STT.Provider, cfg.Vendors.STT.Settings, logger)
	if err != nil {
		return nil, err
	}
	synth, err := registry.BuildTTS(cfg.Vendors.TTS.Provider, cfg.Vendors.TTS.Settings, a.sessionID, logger)
	if err != nil {
		return nil, err
	}
	var voice avatar.Voice = avatar.NewBrowserVoice(a.transport)
	if cfg.Avatar.LocalVoice == "synth" && synth != nil {
		voice = avatar.NewSynthVoice(synth, a.transport, a.sessionID, logger, a.observer)
	}

	// The sinks below close over the controller, which is built last.
	var ctrl *turn.Controller

	// 5. Avatar and room
	a.coordinator = avatar.NewCoordinator(cfg.AvatarCoordinator(a.sessionID), client, voice, a.transport,
		func(ev avatar.SpeakingEvent) { ctrl.OnSpeech(ev) }, logger, a.observer)
	if cfg.Avatar.Backend == string(avatar.BackendRoom) {
		rs := room.NewSession(cfg.RoomSession(), func() room.Transport { return room.NewWSTransport(logger) }, a.coordinator, logger)
		a.coordinator.AttachRoom(rs, buildProvisioner(cfg, client), func(status room.Status, message string) {
			ctrl.OnRoomStatus(status, message)
		})
	}

	// 6. Capture, evaluation and barge-in
	signals := turn.NewSignals()
	a.capture = capture.NewAdapter(cfg.Capture(a.sessionID), sttFactory, a.hub, signals,
		func(ev capture.Event) { ctrl.OnCapture(ev) }, logger, a.observer)
	evaluator := evaluate.NewClient(cfg.Evaluator(), client, func(err error) { ctrl.OnAuthExpired(err) }, logger, a.observer)
	a.monitor = bargein.NewMonitor(cfg.BargeInMonitor(), a.hub, signals, func() { ctrl.OnInterrupt() }, logger, a.observer)

	// 7. Turn controller
	ctrl = turn.NewController(cfg.TurnController(), turn.Deps{
		Speech:    a.coordinator,
		Capture:   a.capture,
		Evaluator: evaluator,
		Interview: client,
		Recorder:  recorder,
		BargeIn:   a.monitor,
		Store:     store,
		Slot:      cfg.SnapshotSlot(),
	}, initial, signals, logger, a.observer)
	a.ctrl = ctrl
	a.transport.Bind(ctrl, a.coordinator)
	ctrl.AddViewListener(a.transport)

	if err := a.coordinator.Start(ctx, userID); err != nil {
		return nil, fmt.Errorf("avatar: %w", err)
	}
	a.monitor.Start(context.Background())

	// 8. HTTP surface
	a.server = statusapi.New(statusapi.Config{
		Addr:         cfg.Server.Addr,
		WSPath:       cfg.Server.WSPath,
		ControlToken: cfg.Server.ControlToken,
	}, ctrl, a.transport, metricsHandler, logger)

	return a, nil
}

// Drain finishes the interview for process exit and releases every
// component. It runs once, from the lifecycle runner.
func (a *app) Drain() error {
	a.server.SetDraining()
	err := a.ctrl.Drain()
	a.monitor.Stop()
	a.capture.Close()
	if cerr := a.coordinator.Close(); cerr != nil {
		a.logger.Warn("avatar_close_failed", slog.String("error", cerr.Error()))
	}
	_ = a.transport.Close()
	a.hub.Close()
	a.observer.Close()
	for _, fn := range a.closers {
		if cerr := fn(); cerr != nil {
			a.logger.Warn("observer_close_failed", slog.String("error", cerr.Error()))
		}
	}
	return err
}

func buildStore(ctx context.Context, cfg config.Config) (session.Store, error) {
	switch cfg.Store.Provider {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return session.NewRedisStore(client, session.WithTTL(cfg.StoreTTL()), session.WithPrefix(cfg.Store.Prefix)), nil
	case "none":
		return session.NopStore{}, nil
	default:
		return session.NewFileStore(cfg.Store.Dir), nil
	}
}

// openSession resumes a stored interview for the slot when one is
// resumable, and otherwise starts a new one.
func openSession(ctx context.Context, cfg config.Config, client *api.Client, store session.Store, logger *slog.Logger) (turn.State, string, error) {
	now := time.Now()
	if slot := cfg.SnapshotSlot(); slot != "" {
		snap, err := store.Load(ctx, slot)
		switch {
		case err == nil && snap.Resumable():
			logger.Info("session_resumed", slog.String("session_id", snap.SessionID), slog.String("slot", slot))
			return turn.Recover(snap, now), cfg.Interview.UserID, nil
		case err == nil:
			_ = store.Clear(ctx, slot)
		case !errors.Is(err, session.ErrNotFound):
			logger.Warn("snapshot_load_failed", slog.String("slot", slot), slog.String("error", err.Error()))
		}
	}

	resp, err := client.Start(ctx, api.StartRequest{JobRole: cfg.Interview.JobRole, Domain: cfg.Interview.Domain})
	if err != nil {
		return turn.State{}, "", fmt.Errorf("start interview: %w", err)
	}
	sess := session.New(resp.SessionID, cfg.Interview.JobRole, cfg.Interview.Domain,
		resp.CurrentQuestion, resp.QuestionID, resp.QuestionIndex, resp.TotalQuestions, now)
	userID := resp.UserID
	if userID == "" {
		userID = cfg.Interview.UserID
	}
	logger.Info("session_opened", slog.String("session_id", sess.SessionID), slog.Int("total_questions", sess.TotalQuestions))
	return turn.NewState(sess), userID, nil
}

func buildProvisioner(cfg config.Config, client *api.Client) room.Provisioner {
	switch cfg.Room.Provider {
	case "livekit":
		return &room.TokenProvisioner{
			Issuer:     room.NewTokenIssuer(cfg.RoomToken()),
			WSURL:      cfg.Room.WSURL,
			RoomPrefix: cfg.Room.RoomPrefix,
			Provider:   cfg.Room.Provider,
		}
	case "twilio":
		return room.NewTwilioProvisioner(cfg.TwilioRoom())
	case "api":
		return &room.APIProvisioner{Source: client}
	}
	return nil
}
