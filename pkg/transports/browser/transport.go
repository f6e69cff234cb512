// Package browser is the candidate's websocket: microphone PCM and UI
// commands come in, media instructions and state views go out.
package browser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/viva/pkg/audio"
	"github.com/harunnryd/viva/pkg/avatar"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/frames"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/room"
	"github.com/harunnryd/viva/pkg/turn"
)

var ErrNotConnected = errors.New("browser not connected")

type Config struct {
	SessionID      string   `mapstructure:"-"`
	SampleRate     int      `mapstructure:"sample_rate"`
	Channels       int      `mapstructure:"channels"`
	SendBuffer     int      `mapstructure:"send_buffer"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Commands receives UI commands.
type Commands interface {
	Post(ev turn.Event)
}

// MediaEvents receives playback reports for avatar utterances.
type MediaEvents interface {
	OnMediaEvent(token uint64, p avatar.Playback)
}

// Transport serves one candidate at a time. A new connection replaces the
// previous one, which covers page reloads.
type Transport struct {
	cfg      Config
	hub      *audio.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	conn     *conn
	commands Commands
	media    MediaEvents
	last     *turn.View

	draining atomic.Bool
}

func New(cfg Config, hub *audio.Hub, logger *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logging.WithSession(logging.NewComponentLogger(logger, "browser_transport"), cfg.SessionID),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

// Bind sets where commands and playback reports go.
func (t *Transport) Bind(commands Commands, media MediaEvents) {
	t.mu.Lock()
	t.commands = commands
	t.media = media
	t.mu.Unlock()
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Close refuses new connections and drops the current one.
func (t *Transport) Close() error {
	t.draining.Store(true)
	t.mu.Lock()
	c := t.conn
	t.conn = nil
	t.mu.Unlock()
	if c != nil {
		return c.close()
	}
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := t.attach(ws)
	defer t.detach(c)

	for {
		kind, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			t.publishAudio(c, msg)
		case websocket.TextMessage:
			var in Inbound
			if err := json.Unmarshal(msg, &in); err != nil {
				continue
			}
			t.handle(c, in)
		}
	}
}

func (t *Transport) handle(c *conn, in Inbound) {
	switch in.Type {
	case "audio":
		payload, err := base64.StdEncoding.DecodeString(in.Payload)
		if err != nil {
			return
		}
		t.publishAudio(c, payload)
	case "command":
		ev, err := turn.ParseCommand(in.Command, in.Text)
		if err != nil {
			t.logger.Debug("browser_command_rejected", slog.String("command", in.Command))
			return
		}
		t.mu.Lock()
		commands := t.commands
		t.mu.Unlock()
		if commands != nil {
			commands.Post(ev)
		}
	case "media":
		p := avatar.Playback(in.Event)
		switch p {
		case avatar.PlaybackStarted, avatar.PlaybackEnded, avatar.PlaybackFailed:
		default:
			return
		}
		t.mu.Lock()
		media := t.media
		t.mu.Unlock()
		if media != nil {
			media.OnMediaEvent(in.Token, p)
		}
	}
}

func (t *Transport) publishAudio(c *conn, pcm []byte) {
	if t.hub == nil || len(pcm) == 0 {
		return
	}
	meta := map[string]string{
		frames.MetaSource:   "browser",
		frames.MetaEncoding: "pcm_s16le",
	}
	t.hub.Publish(frames.NewAudioFrame(t.cfg.SessionID, time.Now().UnixNano(), pcm, t.cfg.SampleRate, t.cfg.Channels, meta))
	c.audioBytes.Add(int64(len(pcm)))
}

// PlayMedia tells the browser to play a rendered avatar clip.
func (t *Transport) PlayMedia(token uint64, media avatar.Media) error {
	return t.send(Outbound{Type: "play_media", Token: token, VideoURL: media.VideoURL, AudioURL: media.AudioURL})
}

// PlayAudio streams synthesized PCM to the browser.
func (t *Transport) PlayAudio(token uint64, f frames.AudioFrame) error {
	return t.send(Outbound{
		Type:       "audio",
		Token:      token,
		Payload:    base64.StdEncoding.EncodeToString(f.RawPayload()),
		SampleRate: f.Rate(),
	})
}

// SpeakText asks the browser's own speech synthesis to read text.
func (t *Transport) SpeakText(token uint64, text string) error {
	return t.send(Outbound{Type: "speak_text", Token: token, Text: text})
}

func (t *Transport) Stop(token uint64) {
	_ = t.send(Outbound{Type: "stop", Token: token})
}

// AttachTrack shows or removes a room track in the candidate's page.
func (t *Transport) AttachTrack(track room.Track, attached bool) {
	_ = t.send(Outbound{Type: "track", Track: &TrackInfo{
		SID:         track.SID,
		Kind:        string(track.Kind),
		Participant: track.Participant,
		Attached:    attached,
	}})
}

// OnView pushes the controller state to the page. The latest view is
// replayed to a reconnecting page.
func (t *Transport) OnView(v turn.View) {
	t.mu.Lock()
	t.last = &v
	t.mu.Unlock()
	_ = t.send(Outbound{Type: "state", View: &v})
}

func (t *Transport) send(out Outbound) error {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return errorsx.Wrap(ErrNotConnected, errorsx.ReasonTransportSend)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (t *Transport) attach(ws *websocket.Conn) *conn {
	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		sendCh: make(chan []byte, t.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	t.mu.Lock()
	old := t.conn
	t.conn = c
	last := t.last
	t.mu.Unlock()
	go c.loop()
	if old != nil {
		t.logger.Info("browser_replaced", slog.String("old_conn", old.id), slog.String("conn", c.id))
		_ = old.close()
	}
	t.logger.Info("browser_connected", slog.String("conn", c.id))
	if last != nil {
		_ = t.send(Outbound{Type: "state", View: last})
	}
	return c
}

func (t *Transport) detach(c *conn) {
	t.mu.Lock()
	if t.conn == c {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = c.close()
	t.logger.Info("browser_disconnected",
		slog.String("conn", c.id),
		slog.Int64("audio_bytes", c.audioBytes.Load()),
		slog.Int64("dropped", c.dropped.Load()))
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type conn struct {
	id         string
	ws         *websocket.Conn
	sendCh     chan []byte
	done       chan struct{}
	closed     atomic.Bool
	audioBytes atomic.Int64
	dropped    atomic.Int64
}

// enqueue drops the message when the page is not keeping up.
func (c *conn) enqueue(b []byte) error {
	if c.closed.Load() {
		return errorsx.Wrap(ErrNotConnected, errorsx.ReasonTransportSend)
	}
	select {
	case c.sendCh <- b:
	case <-c.done:
	default:
		c.dropped.Add(1)
	}
	return nil
}

func (c *conn) loop() {
	for {
		select {
		case msg := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
	return c.ws.Close()
}

// Inbound is a text message from the page.
type Inbound struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Text    string `json:"text,omitempty"`
	Token   uint64 `json:"token,omitempty"`
	Event   string `json:"event,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Outbound is a message to the page.
type Outbound struct {
	Type       string     `json:"type"`
	Token      uint64     `json:"token,omitempty"`
	VideoURL   string     `json:"videoUrl,omitempty"`
	AudioURL   string     `json:"audioUrl,omitempty"`
	Text       string     `json:"text,omitempty"`
	Payload    string     `json:"payload,omitempty"`
	SampleRate int        `json:"sampleRate,omitempty"`
	Track      *TrackInfo `json:"track,omitempty"`
	View       *turn.View `json:"view,omitempty"`
}

type TrackInfo struct {
	SID         string `json:"sid"`
	Kind        string `json:"kind"`
	Participant string `json:"participant,omitempty"`
	Attached    bool   `json:"attached"`
}

var (
	_ avatar.MediaPlayer   = (*Transport)(nil)
	_ avatar.TrackAttacher = (*Transport)(nil)
	_ turn.ViewListener    = (*Transport)(nil)
)
