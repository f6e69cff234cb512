// Package avatar delivers interview questions as speech, through an avatar
// provider when one is configured and a local voice otherwise.
package avatar

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/harunnryd/viva/pkg/resilience"
	"github.com/harunnryd/viva/pkg/room"
)

var errNoPlayer = errors.New("no media player attached")

type Backend string

const (
	BackendBrowser  Backend = "browser"
	BackendProvider Backend = "provider"
	BackendRoom     Backend = "room"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusRequesting Status = "requesting"
	StatusRendering  Status = "rendering"
	StatusConnecting Status = "connecting"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	StatusTimeout    Status = "timeout"
)

// SpeakingEvent reports the delivery of one utterance. Done is set once, when
// the utterance is over, whether or not it was ever audible.
type SpeakingEvent struct {
	Token    uint64
	Text     string
	Speaking bool
	Done     bool
	Backend  Backend
	Status   Status
}

type Sink func(SpeakingEvent)

// Speaker is the avatar provider endpoint.
type Speaker interface {
	Speak(ctx context.Context, req api.SpeakRequest) (api.SpeakResponse, error)
	RenderStatus(ctx context.Context, requestID, provider string) (api.StatusResponse, error)
}

// Room is the realtime room an avatar speaks in.
type Room interface {
	Connect(ctx context.Context, desc api.RoomDescriptor)
	WaitConnected(ctx context.Context) error
	Connected() bool
	Close()
}

type Config struct {
	SessionID          string
	Backend            Backend
	ProviderTimeout    time.Duration
	RoomTimeout        time.Duration
	RoomConnectTimeout time.Duration
	PollInterval       time.Duration
	RenderTimeout      time.Duration
	BreakerThreshold   int
	BreakerCooldown    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendBrowser
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 8 * time.Second
	}
	if c.RoomTimeout <= 0 {
		c.RoomTimeout = 15 * time.Second
	}
	if c.RoomConnectTimeout <= 0 {
		c.RoomConnectTimeout = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 45 * time.Second
	}
	return c
}

type utterance struct {
	token    uint64
	text     string
	backend  Backend
	local    bool
	media    bool
	speaking bool
	done     bool
	cancel   context.CancelFunc
}

// Coordinator owns the current utterance token. Speak and Cancel bump it;
// any result carrying an older token, or text other than the current
// question, is dropped.
type Coordinator struct {
	cfg      Config
	speaker  Speaker
	voice    Voice
	player   MediaPlayer
	sink     Sink
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
	observer metrics.Observer

	mu           sync.Mutex
	cur          utterance
	room         Room
	provisioner  room.Provisioner
	onRoomStatus func(room.Status, string)
	ctx          context.Context
	stop         context.CancelFunc
	wg           sync.WaitGroup
}

func NewCoordinator(cfg Config, speaker Speaker, voice Voice, player MediaPlayer, sink Sink, logger *slog.Logger, observer metrics.Observer) *Coordinator {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	cfg = cfg.withDefaults()
	ctx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		speaker:  speaker,
		voice:    voice,
		player:   player,
		sink:     sink,
		breaker:  resilience.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:   logging.NewComponentLogger(logger, "avatar"),
		observer: observer,
		ctx:      ctx,
		stop:     stop,
	}
}

// AttachRoom sets the room used by the room backend. provisioner may be nil
// when descriptors come from speak responses.
func (c *Coordinator) AttachRoom(r Room, provisioner room.Provisioner, onStatus func(room.Status, string)) {
	c.mu.Lock()
	c.room = r
	c.provisioner = provisioner
	c.onRoomStatus = onStatus
	c.mu.Unlock()
}

// Start starts the local voice and, for the room backend with a
// provisioner, begins joining the room ahead of the first question.
func (c *Coordinator) Start(ctx context.Context, userID string) error {
	if c.voice != nil {
		if err := c.voice.Start(ctx, c.playback); err != nil {
			return err
		}
	}
	c.mu.Lock()
	r, prov := c.room, c.provisioner
	c.mu.Unlock()
	if c.cfg.Backend != BackendRoom || r == nil || prov == nil {
		return nil
	}
	desc, err := prov.Descriptor(ctx, c.cfg.SessionID, userID)
	if err != nil {
		c.logger.Warn("avatar_room_descriptor_failed", slog.String("error", err.Error()))
		return nil
	}
	r.Connect(c.ctx, desc)
	return nil
}

// Speak makes text the current utterance and delivers it in the background.
func (c *Coordinator) Speak(text string) uint64 {
	c.mu.Lock()
	prev := c.cur
	if prev.cancel != nil {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cur = utterance{token: prev.token + 1, text: text, backend: c.cfg.Backend, cancel: cancel}
	token := c.cur.token
	c.mu.Unlock()

	c.halt(prev.token)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.deliver(ctx, token, text)
	}()
	return token
}

// Cancel invalidates the current utterance and stops its playback.
func (c *Coordinator) Cancel() uint64 {
	c.mu.Lock()
	prev := c.cur
	if prev.cancel != nil {
		prev.cancel()
	}
	c.cur = utterance{token: prev.token + 1, done: true}
	token := c.cur.token
	c.mu.Unlock()
	c.halt(prev.token)
	return token
}

func (c *Coordinator) Token() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.token
}

// Speaking reports whether the current utterance is audible.
func (c *Coordinator) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.speaking
}

// OnMediaEvent applies a playback report from the candidate's device.
func (c *Coordinator) OnMediaEvent(token uint64, p Playback) {
	c.playback(token, p)
}

func (c *Coordinator) Close() error {
	c.Cancel()
	c.stop()
	c.wg.Wait()
	c.mu.Lock()
	r := c.room
	c.mu.Unlock()
	if r != nil {
		r.Close()
	}
	if c.voice != nil {
		return c.voice.Close()
	}
	return nil
}

func (c *Coordinator) halt(token uint64) {
	if token == 0 {
		return
	}
	if c.voice != nil {
		c.voice.Stop(token)
	}
	if c.player != nil {
		c.player.Stop(token)
	}
}

func (c *Coordinator) deliver(ctx context.Context, token uint64, text string) {
	if c.cfg.Backend == BackendBrowser || c.speaker == nil {
		c.speakLocal(token, text, "browser_backend")
		return
	}
	if !c.breaker.Allow() {
		c.speakLocal(token, text, "provider_circuit_open")
		return
	}
	c.status(token, text, StatusRequesting)

	timeout := c.cfg.ProviderTimeout
	if c.cfg.Backend == BackendRoom {
		timeout = c.cfg.RoomTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.speaker.Speak(reqCtx, api.SpeakRequest{Text: text, SessionID: c.cfg.SessionID})
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.breaker.OnError(err)
		c.logger.Warn("avatar_speak_failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	} else {
		c.breaker.OnSuccess()
	}

	c.mu.Lock()
	r := c.room
	c.mu.Unlock()
	roomBackend := c.cfg.Backend == BackendRoom && r != nil
	if err == nil && r != nil && resp.ProviderPayload.Valid() {
		r.Connect(c.ctx, *resp.ProviderPayload)
		roomBackend = true
	}
	connected := roomBackend && r.Connected()
	d := Decide(OutcomeOf(resp, err, roomBackend, connected))
	c.logger.Debug("avatar_delivery_decided",
		slog.Uint64("token", token),
		slog.String("delivery", d.Kind.String()),
		slog.String("reason", d.Reason))

	switch d.Kind {
	case DeliverPlay:
		c.play(token, text, Media{VideoURL: resp.VideoURL, AudioURL: resp.AudioURL})
	case DeliverPoll:
		c.poll(ctx, token, text, resp.RequestID, resp.Provider)
	case DeliverRoom:
		c.useRoom(token, text)
	case DeliverWaitRoom:
		c.waitRoom(ctx, token, text, r)
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			c.record(BackendProvider, "timeout")
		}
		c.speakLocal(token, text, d.Reason)
	}
}

func (c *Coordinator) play(token uint64, text string, media Media) {
	if c.player == nil {
		c.speakLocal(token, text, "no_player")
		return
	}
	if !c.mark(token, text, func(u *utterance) { u.media = true; u.backend = BackendProvider }) {
		return
	}
	if err := c.player.PlayMedia(token, media); err != nil {
		c.logger.Warn("avatar_play_failed", slog.String("error", err.Error()))
		c.speakLocal(token, text, "play_failed")
		return
	}
	c.status(token, text, StatusReady)
}

func (c *Coordinator) poll(ctx context.Context, token uint64, text, requestID, provider string) {
	c.status(token, text, StatusRendering)
	deadline := time.NewTimer(c.cfg.RenderTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			c.status(token, text, StatusTimeout)
			c.record(BackendProvider, "timeout")
			c.speakLocal(token, text, "render_timeout")
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
			st, err := c.speaker.RenderStatus(reqCtx, requestID, provider)
			cancel()
			if !c.current(token, text) {
				return
			}
			if err != nil {
				c.logger.Debug("avatar_status_failed", slog.String("error", err.Error()))
				continue
			}
			if st.Failed() {
				c.status(token, text, StatusError)
				c.speakLocal(token, text, "render_failed")
				return
			}
			if st.IsReady && st.MediaURL() != "" {
				c.play(token, text, Media{VideoURL: st.VideoURL, AudioURL: st.AudioURL})
				return
			}
		}
	}
}

func (c *Coordinator) useRoom(token uint64, text string) {
	if !c.mark(token, text, func(u *utterance) { u.backend = BackendRoom; u.media = true }) {
		return
	}
	c.status(token, text, StatusReady)
}

// waitRoom gives a connecting room a bounded grace period. If it connects
// the provider is asked once more so the avatar speaks into a live room.
func (c *Coordinator) waitRoom(ctx context.Context, token uint64, text string, r Room) {
	c.status(token, text, StatusConnecting)
	if r == nil {
		c.speakLocal(token, text, "room_unavailable")
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.RoomConnectTimeout)
	err := r.WaitConnected(waitCtx)
	cancel()
	if ctx.Err() != nil || !c.current(token, text) {
		return
	}
	if err != nil {
		c.status(token, text, StatusTimeout)
		c.record(BackendRoom, "timeout")
		c.speakLocal(token, text, "room_unavailable")
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RoomTimeout)
	_, err = c.speaker.Speak(reqCtx, api.SpeakRequest{Text: text, SessionID: c.cfg.SessionID})
	cancel()
	if err != nil {
		c.breaker.OnError(err)
		c.speakLocal(token, text, "provider_error")
		return
	}
	c.useRoom(token, text)
}

// speakLocal hands the utterance to the local voice, at most once per token.
func (c *Coordinator) speakLocal(token uint64, text, reason string) {
	if !c.mark(token, text, func(u *utterance) {
		if u.local {
			u.token = 0
			return
		}
		u.local = true
		u.media = false
		u.backend = BackendBrowser
	}) {
		return
	}
	c.logger.Info("avatar_fallback_local", slog.Uint64("token", token), slog.String("reason", reason))
	if c.cfg.Backend != BackendBrowser {
		c.record(c.cfg.Backend, "fallback")
	}
	if c.voice == nil {
		c.finish(token, text, StatusError)
		return
	}
	if err := c.voice.Speak(token, text); err != nil {
		c.logger.Warn("avatar_local_voice_failed", slog.String("error", err.Error()))
		c.record(BackendBrowser, "error")
		c.finish(token, text, StatusError)
	}
}

func (c *Coordinator) playback(token uint64, p Playback) {
	c.mu.Lock()
	u := c.cur
	if u.token != token || u.done {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch p {
	case PlaybackStarted:
		if !c.mark(token, u.text, func(u *utterance) { u.speaking = true }) {
			return
		}
		c.record(u.backend, "played")
		c.emit(SpeakingEvent{Token: token, Text: u.text, Speaking: true, Backend: u.backend, Status: StatusReady})
	case PlaybackEnded:
		c.finish(token, u.text, StatusIdle)
	case PlaybackFailed:
		if u.media && !u.local {
			c.speakLocal(token, u.text, "play_failed")
			return
		}
		c.record(u.backend, "error")
		c.finish(token, u.text, StatusError)
	}
}

func (c *Coordinator) finish(token uint64, text string, status Status) {
	var backend Backend
	if !c.mark(token, text, func(u *utterance) {
		u.speaking = false
		u.done = true
		backend = u.backend
	}) {
		return
	}
	c.emit(SpeakingEvent{Token: token, Text: text, Done: true, Backend: backend, Status: status})
}

func (c *Coordinator) status(token uint64, text string, status Status) {
	c.mu.Lock()
	u := c.cur
	c.mu.Unlock()
	if u.token != token || u.text != text || u.done {
		return
	}
	c.emit(SpeakingEvent{Token: token, Text: text, Speaking: u.speaking, Backend: u.backend, Status: status})
}

// mark applies fn to the current utterance if it still matches. fn may
// zero the token to refuse the change.
func (c *Coordinator) mark(token uint64, text string, fn func(*utterance)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.token != token || c.cur.text != text || c.cur.done {
		return false
	}
	next := c.cur
	fn(&next)
	if next.token != token {
		return false
	}
	c.cur = next
	return true
}

func (c *Coordinator) current(token uint64, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.token == token && c.cur.text == text && !c.cur.done
}

func (c *Coordinator) emit(ev SpeakingEvent) {
	if c.sink != nil {
		c.sink(ev)
	}
}

func (c *Coordinator) record(backend Backend, outcome string) {
	c.observer.RecordEvent(metrics.MetricsEvent{
		Name:  "avatar_delivery",
		Time:  time.Now(),
		Value: 1,
		Tags: map[string]string{
			"session_id": c.cfg.SessionID,
			"backend":    string(backend),
			"outcome":    outcome,
		},
	})
}

// OnRoomStatus forwards room status to the status callback.
func (c *Coordinator) OnRoomStatus(status room.Status, message string) {
	c.mu.Lock()
	fn := c.onRoomStatus
	c.mu.Unlock()
	if fn != nil {
		fn(status, message)
	}
}

func (c *Coordinator) OnTrack(track room.Track, attached bool) {
	if ta, ok := c.player.(TrackAttacher); ok {
		ta.AttachTrack(track, attached)
	}
}

// OnRemoteSpeaking maps the avatar participant's speaking state onto the
// current room-delivered utterance.
func (c *Coordinator) OnRemoteSpeaking(speaking bool) {
	c.mu.Lock()
	u := c.cur
	c.mu.Unlock()
	if u.backend != BackendRoom || !u.media || u.local {
		return
	}
	if speaking {
		c.playback(u.token, PlaybackStarted)
		return
	}
	if u.speaking {
		c.playback(u.token, PlaybackEnded)
	}
}

var _ room.Listener = (*Coordinator)(nil)
