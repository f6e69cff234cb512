package avatar

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/adapters/tts"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/frames"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/harunnryd/viva/pkg/room"
)

// Playback is a media lifecycle report for one token.
type Playback string

const (
	PlaybackStarted Playback = "started"
	PlaybackEnded   Playback = "ended"
	PlaybackFailed  Playback = "failed"
)

type Media struct {
	VideoURL string
	AudioURL string
}

// MediaPlayer plays avatar output on the candidate's device. Every call is
// tagged with the utterance token so late playback reports can be matched.
type MediaPlayer interface {
	PlayMedia(token uint64, media Media) error
	PlayAudio(token uint64, frame frames.AudioFrame) error
	SpeakText(token uint64, text string) error
	Stop(token uint64)
}

// TrackAttacher is implemented by players that can render room tracks.
type TrackAttacher interface {
	AttachTrack(track room.Track, attached bool)
}

// Voice speaks a question locally when no avatar delivers it.
type Voice interface {
	Name() string
	Start(ctx context.Context, report func(token uint64, p Playback)) error
	Speak(token uint64, text string) error
	Stop(token uint64)
	Close() error
}

// SynthVoice synthesizes speech and streams the audio to the player.
type SynthVoice struct {
	synth     tts.Synthesizer
	player    MediaPlayer
	sessionID string
	logger    *slog.Logger
	observer  metrics.Observer

	mu     sync.Mutex
	token  uint64
	report func(uint64, Playback)
	wg     sync.WaitGroup
}

func NewSynthVoice(synth tts.Synthesizer, player MediaPlayer, sessionID string, logger *slog.Logger, observer metrics.Observer) *SynthVoice {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &SynthVoice{
		synth:     synth,
		player:    player,
		sessionID: sessionID,
		logger:    logging.NewComponentLogger(logger, "synth_voice"),
		observer:  observer,
	}
}

func (v *SynthVoice) Name() string { return "synth:" + v.synth.Name() }

func (v *SynthVoice) Start(ctx context.Context, report func(uint64, Playback)) error {
	v.mu.Lock()
	v.report = report
	v.mu.Unlock()
	if err := v.synth.Start(ctx); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	v.wg.Add(1)
	go v.read()
	return nil
}

func (v *SynthVoice) Speak(token uint64, text string) error {
	v.mu.Lock()
	v.token = token
	v.mu.Unlock()
	if err := v.synth.SendText(text); err != nil {
		v.mu.Lock()
		if v.token == token {
			v.token = 0
		}
		v.mu.Unlock()
		return errorsx.Wrap(err, errorsx.ReasonTTSSend)
	}
	v.observer.RecordEvent(metrics.MetricsEvent{
		Name:  "tts_synthesis",
		Time:  time.Now(),
		Value: float64(len(text)),
		Tags:  map[string]string{"session_id": v.sessionID, "provider": v.synth.Name()},
	})
	return nil
}

// Stop flushes synthesis when token is the utterance being synthesized.
func (v *SynthVoice) Stop(token uint64) {
	v.mu.Lock()
	if v.token != token || token == 0 {
		v.mu.Unlock()
		return
	}
	v.token = 0
	v.mu.Unlock()
	v.synth.Flush()
}

func (v *SynthVoice) Close() error {
	err := v.synth.Close()
	v.wg.Wait()
	return err
}

func (v *SynthVoice) read() {
	defer v.wg.Done()
	for f := range v.synth.Results() {
		v.mu.Lock()
		token, report := v.token, v.report
		v.mu.Unlock()
		if token == 0 {
			continue
		}
		switch fr := f.(type) {
		case frames.AudioFrame:
			if v.player == nil {
				continue
			}
			if err := v.player.PlayAudio(token, fr); err != nil {
				v.logger.Warn("synth_audio_dropped", slog.String("error", err.Error()))
			}
		case frames.ControlFrame:
			var p Playback
			switch fr.Code() {
			case frames.ControlSynthesisStarted:
				p = PlaybackStarted
			case frames.ControlSynthesisDone:
				p = PlaybackEnded
			case frames.ControlError:
				v.logger.Warn("synth_error", slog.String("error", fr.Meta()[frames.MetaError]))
				p = PlaybackFailed
			default:
				continue
			}
			if p != PlaybackStarted {
				v.mu.Lock()
				if v.token == token {
					v.token = 0
				}
				v.mu.Unlock()
			}
			if report != nil {
				report(token, p)
			}
		}
	}
}

// BrowserVoice asks the candidate's browser to speak the text itself.
// Playback reports arrive through Coordinator.OnMediaEvent.
type BrowserVoice struct {
	player MediaPlayer
}

func NewBrowserVoice(player MediaPlayer) *BrowserVoice {
	return &BrowserVoice{player: player}
}

func (v *BrowserVoice) Name() string { return "browser" }

func (v *BrowserVoice) Start(context.Context, func(uint64, Playback)) error { return nil }

func (v *BrowserVoice) Speak(token uint64, text string) error {
	if v.player == nil {
		return errorsx.Wrap(errNoPlayer, errorsx.ReasonAvatarPlay)
	}
	return errorsx.Wrap(v.player.SpeakText(token, text), errorsx.ReasonAvatarPlay)
}

func (v *BrowserVoice) Stop(uint64) {}

func (v *BrowserVoice) Close() error { return nil }

var (
	_ Voice = (*SynthVoice)(nil)
	_ Voice = (*BrowserVoice)(nil)
)
