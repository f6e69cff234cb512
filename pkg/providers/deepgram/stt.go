package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/viva/pkg/adapters/stt"
	"github.com/harunnryd/viva/pkg/configutil"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/frames"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Settings is the vendors.stt.settings block for provider "deepgram".
type Settings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	Encoding       string `mapstructure:"encoding"`
	Interim        bool   `mapstructure:"interim"`
	VADEvents      bool   `mapstructure:"vad_events"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
}

var SettingsSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "language", "encoding", "interim", "vad_events", "utterance_end_ms"},
}

// DecodeSettings validates and decodes a raw settings map.
func DecodeSettings(raw map[string]any) (Settings, error) {
	s := Settings{Model: "nova-2", Encoding: "linear16", Interim: true, VADEvents: true, UtteranceEndMS: 1000}
	if err := configutil.DecodeVendor("deepgram", raw, SettingsSchema, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// NewFactory returns an stt.Factory opening one Deepgram stream per window.
func NewFactory(s Settings, logger *slog.Logger) stt.Factory {
	return func(cfg stt.Config) (stt.Recognizer, error) {
		if s.APIKey == "" {
			return nil, stt.ErrUnavailable
		}
		lang := cfg.Language
		if lang == "" {
			lang = s.Language
		}
		return New(Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			Language:       lang,
			SampleRate:     cfg.SampleRate,
			Encoding:       s.Encoding,
			Interim:        s.Interim,
			VADEvents:      s.VADEvents,
			UtteranceEndMS: s.UtteranceEndMS,
			SessionID:      cfg.SessionID,
		}, logger), nil
	}
}

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	VADEvents      bool
	UtteranceEndMS int
	SessionID      string
}

type StreamingSTT struct {
	cfg        Config
	dgClient   *client.WSCallback
	out        chan frames.Frame
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	metaLogged atomic.Bool
	closeOnce  sync.Once
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *StreamingSTT {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	return &StreamingSTT{
		cfg:    cfg,
		out:    make(chan frames.Frame, 256),
		logger: logging.WithSession(logging.NewComponentLogger(logger, "deepgram_stt"), cfg.SessionID),
	}
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		InterimResults: s.cfg.Interim,
		VadEvents:      s.cfg.VADEvents,
		SmartFormat:    true,
	}
	if s.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = strconv.Itoa(s.cfg.UtteranceEndMS)
	}

	s.logger.Info("deepgram_connecting",
		slog.String("model", s.cfg.Model),
		slog.Bool("vad_events", s.cfg.VADEvents),
		slog.Int("sample_rate", s.cfg.SampleRate))

	cb := &callback{parent: s}
	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		s.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return errorsx.Wrap(fmt.Errorf("deepgram client: %w", err), errorsx.ReasonSTTConnect)
	}
	s.dgClient = dgClient

	if connected := s.dgClient.Connect(); !connected {
		s.logger.Error("deepgram_connect_failed")
		return errorsx.Wrap(fmt.Errorf("deepgram connection failed"), errorsx.ReasonSTTConnect)
	}
	s.logger.Info("deepgram_connected", slog.String("model", s.cfg.Model))

	go func() {
		if err := s.dgClient.Stream(s.pipeReader); err != nil && s.ctx.Err() == nil {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.emit(frames.NewControlFrame(s.cfg.SessionID, time.Now().UnixNano(), frames.ControlError, map[string]string{
				frames.MetaSource:    "stt",
				frames.MetaErrorKind: string(stt.ErrorKindNetwork),
				frames.MetaError:     err.Error(),
			}))
		}
	}()
	return nil
}

func (s *StreamingSTT) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("deepgram_closing")
		if s.cancel != nil {
			s.cancel()
		}
		if s.pipeWriter != nil {
			_ = s.pipeWriter.Close()
		}
		if s.dgClient != nil {
			s.dgClient.Stop()
		}
	})
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	if s.pipeWriter == nil {
		return errorsx.Wrap(fmt.Errorf("not started"), errorsx.ReasonSTTSend)
	}
	if _, err := s.pipeWriter.Write(frame.RawPayload()); err != nil {
		return errorsx.Wrap(fmt.Errorf("deepgram send: %w", err), errorsx.ReasonSTTSend)
	}
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

func (s *StreamingSTT) emit(f frames.Frame) {
	select {
	case s.out <- f:
	default:
		s.logger.Warn("deepgram_out_channel_full")
	}
}

func (s *StreamingSTT) control(code frames.ControlCode, reason string) frames.ControlFrame {
	return frames.NewControlFrame(s.cfg.SessionID, time.Now().UnixNano(), code, map[string]string{
		frames.MetaSource: "stt",
		frames.MetaReason: reason,
	})
}

type callback struct {
	parent *StreamingSTT
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal
	meta := map[string]string{
		frames.MetaSource:  "stt",
		frames.MetaIsFinal: strconv.FormatBool(isFinal),
	}
	c.parent.logger.Debug("transcript_received",
		slog.String("transcript", redact.Preview(transcript, 80)),
		slog.Bool("is_final", isFinal))
	c.parent.emit(frames.NewTextFrame(c.parent.cfg.SessionID, time.Now().UnixNano(), transcript, meta))
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if c.parent.metaLogged.CompareAndSwap(false, true) {
		c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.emit(c.parent.control(frames.ControlSpeechStarted, "native_vad"))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event", slog.Int("utterance_end_ms", c.parent.cfg.UtteranceEndMS))
	c.parent.emit(c.parent.control(frames.ControlUtteranceEnd, "utterance_end"))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	if c.parent.ctx != nil && c.parent.ctx.Err() == nil {
		c.parent.emit(c.parent.control(frames.ControlClosed, "remote_close"))
	}
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	f := frames.NewControlFrame(c.parent.cfg.SessionID, time.Now().UnixNano(), frames.ControlError, map[string]string{
		frames.MetaSource:    "stt",
		frames.MetaErrorKind: string(stt.ErrorKindNetwork),
		frames.MetaError:     er.ErrMsg,
	})
	c.parent.emit(f)
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(byData)))
	return nil
}

var _ stt.Recognizer = (*StreamingSTT)(nil)
