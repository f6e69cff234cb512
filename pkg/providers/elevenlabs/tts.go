package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/viva/pkg/adapters/tts"
	"github.com/harunnryd/viva/pkg/configutil"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/frames"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io"

// Settings is the vendors.tts.settings block for provider "elevenlabs".
type Settings struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	BaseURL      string `mapstructure:"base_url"`
}

var SettingsSchema = configutil.Schema{
	Required: []string{"api_key", "voice_id"},
	Optional: []string{"model_id", "output_format", "base_url"},
}

func DecodeSettings(raw map[string]any) (Settings, error) {
	s := Settings{ModelID: "eleven_turbo_v2_5", OutputFormat: "pcm_16000"}
	if err := configutil.DecodeVendor("elevenlabs", raw, SettingsSchema, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	SessionID    string
	BaseURL      string
}

// ConfigFromSettings maps decoded settings onto a session's config.
func ConfigFromSettings(s Settings, sessionID string) Config {
	return Config{
		APIKey:       s.APIKey,
		VoiceID:      s.VoiceID,
		ModelID:      s.ModelID,
		OutputFormat: s.OutputFormat,
		BaseURL:      s.BaseURL,
		SessionID:    sessionID,
	}
}

type ElevenLabsTTS struct {
	cfg     Config
	conn    *websocket.Conn
	out     chan frames.Frame
	writeCh chan ttsMessage
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	logger  *slog.Logger
}

type ttsMessage struct {
	text  string
	flush bool
}

func New(cfg Config, logger *slog.Logger) *ElevenLabsTTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = sampleRateFor(cfg.OutputFormat)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &ElevenLabsTTS{
		cfg:     cfg,
		out:     make(chan frames.Frame, 256),
		writeCh: make(chan ttsMessage, 64),
		logger:  logging.WithSession(logging.NewComponentLogger(logger, "elevenlabs_tts"), cfg.SessionID),
	}
}

func (s *ElevenLabsTTS) Name() string { return "elevenlabs_tts" }

func (s *ElevenLabsTTS) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonTTSConnect)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	u, err := s.buildURL()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(s.ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("elevenlabs_rate_limited", slog.String("status", resp.Status))
			return errorsx.Wrap(resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonTTSRateLimit)
		}
		s.logger.Error("elevenlabs_connect_failed", slog.String("error", err.Error()))
		return errorsx.Wrap(fmt.Errorf("elevenlabs dial: %w", err), errorsx.ReasonTTSConnect)
	}

	s.conn = conn
	s.logger.Info("elevenlabs_connected", slog.String("output_format", s.cfg.OutputFormat))

	_ = s.send(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	})
	go s.readLoop()
	go s.writeLoop()
	return nil
}

func (s *ElevenLabsTTS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// SendText queues a whole utterance and asks the service to finish it
// without waiting for more text.
func (s *ElevenLabsTTS) SendText(text string) error {
	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return errorsx.Wrap(errors.New("not connected"), errorsx.ReasonTTSSend)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	select {
	case s.writeCh <- ttsMessage{text: text + " ", flush: true}:
		return nil
	default:
		return errorsx.Wrap(errors.New("elevenlabs write queue full"), errorsx.ReasonTTSSend)
	}
}

// Flush drops queued text and buffered audio so a cancelled question is
// not heard after the cancel.
func (s *ElevenLabsTTS) Flush() {
drainWrites:
	for {
		select {
		case <-s.writeCh:
		default:
			break drainWrites
		}
	}
drainOut:
	for {
		select {
		case <-s.out:
		default:
			break drainOut
		}
	}
	s.logger.Debug("elevenlabs_flushed")
}

func (s *ElevenLabsTTS) Results() <-chan frames.Frame { return s.out }

func (s *ElevenLabsTTS) buildURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return "", err
	}
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if s.cfg.OutputFormat != "" {
		q.Set("output_format", s.cfg.OutputFormat)
	}
	q.Set("optimize_streaming_latency", "3")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (s *ElevenLabsTTS) writeLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.writeCh:
			payload := map[string]any{"text": msg.text}
			if msg.flush {
				payload["flush"] = true
				s.emit(frames.NewControlFrame(s.cfg.SessionID, time.Now().UnixNano(), frames.ControlSynthesisStarted, map[string]string{
					frames.MetaSource: "elevenlabs",
				}))
			}
			if err := s.send(payload); err != nil {
				s.emitError(err)
			}
		case <-ticker.C:
			// Keep-alive: the service closes idle sockets after 20s.
			_ = s.send(map[string]any{"text": " "})
		}
	}
}

func (s *ElevenLabsTTS) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error("elevenlabs_read_error", slog.String("error", err.Error()))
				s.emitError(err)
			}
			return
		}
		s.handleMessage(data)
	}
}

type streamMessage struct {
	Audio        string `json:"audio"`
	AudioBase64  string `json:"audio_base_64"`
	IsFinal      *bool  `json:"isFinal"`
	Error        string `json:"error"`
	ErrorMessage string `json:"message"`
}

func (s *ElevenLabsTTS) handleMessage(data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("elevenlabs_bad_message", slog.Int("size_bytes", len(data)))
		return
	}
	if msg.Error != "" {
		s.emitError(fmt.Errorf("elevenlabs: %s %s", msg.Error, msg.ErrorMessage))
		return
	}
	audio := msg.Audio
	if audio == "" {
		audio = msg.AudioBase64
	}
	if audio != "" {
		raw, err := base64.StdEncoding.DecodeString(audio)
		if err != nil {
			s.logger.Error("elevenlabs_audio_decode_error", slog.String("error", err.Error()))
			return
		}
		meta := map[string]string{frames.MetaSource: "elevenlabs"}
		if strings.HasPrefix(s.cfg.OutputFormat, "pcm") {
			meta[frames.MetaEncoding] = "pcm_s16le"
		} else if strings.Contains(s.cfg.OutputFormat, "mp3") {
			meta[frames.MetaEncoding] = "mp3"
		}
		s.emit(frames.NewAudioFrame(s.cfg.SessionID, time.Now().UnixNano(), raw, s.cfg.SampleRate, 1, meta))
	}
	if msg.IsFinal != nil && *msg.IsFinal {
		s.emit(frames.NewControlFrame(s.cfg.SessionID, time.Now().UnixNano(), frames.ControlSynthesisDone, map[string]string{
			frames.MetaSource: "elevenlabs",
		}))
	}
}

func (s *ElevenLabsTTS) emit(f frames.Frame) {
	select {
	case s.out <- f:
	default:
		s.logger.Warn("elevenlabs_output_buffer_full")
	}
}

func (s *ElevenLabsTTS) emitError(err error) {
	s.emit(frames.NewControlFrame(s.cfg.SessionID, time.Now().UnixNano(), frames.ControlError, map[string]string{
		frames.MetaSource: "elevenlabs",
		frames.MetaError:  err.Error(),
	}))
}

func (s *ElevenLabsTTS) send(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("not connected")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func sampleRateFor(format string) int {
	switch {
	case strings.HasSuffix(format, "_8000"):
		return 8000
	case strings.HasSuffix(format, "_16000"):
		return 16000
	case strings.HasSuffix(format, "_22050"):
		return 22050
	case strings.HasSuffix(format, "_24000"):
		return 24000
	default:
		return 44100
	}
}

var _ tts.Synthesizer = (*ElevenLabsTTS)(nil)
