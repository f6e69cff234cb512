// Package room keeps one realtime avatar room connection per interview
// session.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/resilience"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusRetrying     Status = "retrying"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
)

var ErrNotConnected = errors.New("room not connected")

type Config struct {
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	MaxRetries     int
	// AvatarIdentity picks the remote participant whose speaking counts.
	// Empty means any remote participant.
	AvatarIdentity string
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 4 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

type Track struct {
	SID         string
	Kind        TrackKind
	Participant string
}

// Listener receives room state. Calls come from the session's goroutine.
type Listener interface {
	OnRoomStatus(status Status, message string)
	OnTrack(track Track, attached bool)
	OnRemoteSpeaking(speaking bool)
}

// Session connects to a room once, retries on a fixed interval, attaches
// each remote track once and reports the avatar's speaking state.
type Session struct {
	cfg          Config
	newTransport func() Transport
	listener     Listener
	logger       *slog.Logger

	mu        sync.Mutex
	status    Status
	transport Transport
	identity  string
	tracks    map[string]Track
	speaking  bool
	started   bool
	connected chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewSession(cfg Config, newTransport func() Transport, listener Listener, logger *slog.Logger) *Session {
	return &Session{
		cfg:          cfg.withDefaults(),
		newTransport: newTransport,
		listener:     listener,
		logger:       logging.NewComponentLogger(logger, "room_session"),
		status:       StatusIdle,
		tracks:       make(map[string]Track),
		connected:    make(chan struct{}),
	}
}

// Connect starts connecting in the background. Later calls are no-ops.
func (s *Session) Connect(ctx context.Context, desc api.RoomDescriptor) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.identity = desc.ParticipantIdentity
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, desc)
	}()
}

// run connects, consumes room events and reconnects after a drop, each
// cycle bounded by MaxRetries. Waiters are released when it gives up.
func (s *Session) run(ctx context.Context, desc api.RoomDescriptor) {
	if !desc.Valid() {
		s.fail("invalid_descriptor")
		return
	}
	for cycle := 0; ; cycle++ {
		tr, err := s.dial(ctx, desc)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("room_connect_failed", slog.Int("cycle", cycle), slog.String("error", err.Error()))
			s.fail(err.Error())
			return
		}
		s.attach(tr, desc, cycle > 0)
		if err := tr.PublishMicrophone(ctx); err != nil {
			s.logger.Warn("room_publish_failed", slog.String("error", err.Error()))
		}
		s.consume(ctx, tr)
		_ = tr.Close()
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.transport == tr {
			s.transport = nil
		}
		s.connected = make(chan struct{})
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}

func (s *Session) dial(ctx context.Context, desc api.RoomDescriptor) (Transport, error) {
	s.setStatus(StatusConnecting, "Connecting avatar room")
	retry := resilience.NewRetryPolicy(s.cfg.MaxRetries+1, s.cfg.RetryInterval)
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("room_connect_retry",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
		s.setStatus(StatusRetrying, fmt.Sprintf("Avatar room unavailable, retrying in %ds", int(wait/time.Second)))
	}
	var tr Transport
	err := retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
		candidate := s.newTransport()
		if err := candidate.Connect(attemptCtx, desc.WSURL, desc.ParticipantToken); err != nil {
			_ = candidate.Close()
			return err
		}
		tr = candidate
		return nil
	})
	return tr, err
}

func (s *Session) attach(tr Transport, desc api.RoomDescriptor, reconnected bool) {
	s.mu.Lock()
	s.transport = tr
	s.status = StatusConnected
	close(s.connected)
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.OnRoomStatus(StatusConnected, "")
	}
	s.logger.Info("room_connected", slog.String("room", desc.RoomName), slog.Bool("reconnected", reconnected))
}

// fail surfaces the persistent error and releases WaitConnected callers.
func (s *Session) fail(reason string) {
	s.logger.Debug("room_failed", slog.String("reason", reason))
	s.setStatus(StatusFailed, "Avatar room unavailable")
	s.mu.Lock()
	select {
	case <-s.connected:
	default:
		close(s.connected)
	}
	s.mu.Unlock()
}

func (s *Session) consume(ctx context.Context, tr Transport) {
	events := tr.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.disconnect("closed")
				return
			}
			if ev.Type == EventDisconnected {
				s.disconnect(ev.Reason)
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev Event) {
	switch ev.Type {
	case EventTrackSubscribed:
		s.mu.Lock()
		_, seen := s.tracks[ev.TrackSID]
		track := Track{SID: ev.TrackSID, Kind: ev.Kind, Participant: ev.Participant}
		if !seen && ev.TrackSID != "" {
			s.tracks[ev.TrackSID] = track
		}
		s.mu.Unlock()
		if seen || ev.TrackSID == "" {
			return
		}
		s.logger.Info("room_track_attached", slog.String("sid", ev.TrackSID), slog.String("kind", string(ev.Kind)))
		s.notifyTrack(track, true)
	case EventTrackUnsubscribed:
		s.mu.Lock()
		track, seen := s.tracks[ev.TrackSID]
		delete(s.tracks, ev.TrackSID)
		s.mu.Unlock()
		if seen {
			s.notifyTrack(track, false)
		}
	case EventActiveSpeakers:
		speaking := s.avatarSpeaking(ev.Speakers)
		s.mu.Lock()
		changed := speaking != s.speaking
		s.speaking = speaking
		s.mu.Unlock()
		if changed && s.listener != nil {
			s.listener.OnRemoteSpeaking(speaking)
		}
	}
}

func (s *Session) avatarSpeaking(speakers []string) bool {
	s.mu.Lock()
	self, avatar := s.identity, s.cfg.AvatarIdentity
	s.mu.Unlock()
	for _, sp := range speakers {
		if avatar != "" {
			if sp == avatar {
				return true
			}
			continue
		}
		if sp != self {
			return true
		}
	}
	return false
}

func (s *Session) disconnect(reason string) {
	s.mu.Lock()
	wasSpeaking := s.speaking
	s.speaking = false
	dropped := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		dropped = append(dropped, t)
	}
	s.tracks = make(map[string]Track)
	s.mu.Unlock()
	s.logger.Warn("room_disconnected", slog.String("reason", reason))
	for _, t := range dropped {
		s.notifyTrack(t, false)
	}
	if wasSpeaking && s.listener != nil {
		s.listener.OnRemoteSpeaking(false)
	}
	s.setStatus(StatusDisconnected, "Avatar room disconnected")
}

func (s *Session) notifyTrack(t Track, attached bool) {
	if s.listener != nil {
		s.listener.OnTrack(t, attached)
	}
}

func (s *Session) setStatus(status Status, message string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.OnRoomStatus(status, message)
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Connected() bool {
	return s.Status() == StatusConnected
}

// WaitConnected blocks until the room connects or ctx ends.
func (s *Session) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	ch := s.connected
	s.mu.Unlock()
	select {
	case <-ch:
		if !s.Connected() {
			return ErrNotConnected
		}
		return nil
	case <-ctx.Done():
		return errorsx.Classify(errorsx.Wrap(ErrNotConnected, errorsx.ReasonRoomConnect), errorsx.ClassProviderUnavailable)
	}
}

// Tracks returns the attached remote tracks.
func (s *Session) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	tr := s.transport
	s.transport = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if tr != nil {
		_ = tr.Close()
	}
	s.wg.Wait()
}
