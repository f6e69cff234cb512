// Package providers maps vendor names from config onto speech capabilities.
package providers

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/viva/pkg/adapters/stt"
	"github.com/harunnryd/viva/pkg/adapters/tts"
	"github.com/harunnryd/viva/pkg/configutil"
	"github.com/harunnryd/viva/pkg/providers/deepgram"
	"github.com/harunnryd/viva/pkg/providers/elevenlabs"
	"github.com/harunnryd/viva/pkg/providers/mock"
)

type STTFactoryBuilder func(settings map[string]any, logger *slog.Logger) (stt.Factory, error)
type TTSBuilder func(settings map[string]any, sessionID string, logger *slog.Logger) (tts.Synthesizer, error)

type Registry struct {
	stt map[string]STTFactoryBuilder
	tts map[string]TTSBuilder
}

func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]STTFactoryBuilder),
		tts: make(map[string]TTSBuilder),
	}
}

// Default registers deepgram, elevenlabs and the scripted mocks.
func Default() *Registry {
	r := NewRegistry()
	r.RegisterSTT("deepgram", func(settings map[string]any, logger *slog.Logger) (stt.Factory, error) {
		s, err := deepgram.DecodeSettings(settings)
		if err != nil {
			return nil, err
		}
		return deepgram.NewFactory(s, logger), nil
	})
	r.RegisterSTT("mock", func(settings map[string]any, _ *slog.Logger) (stt.Factory, error) {
		var s mockSTTSettings
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, fmt.Errorf("mock stt settings: %w", err)
		}
		scripts := make([][]mock.STTStep, 0, len(s.Answers))
		for _, answer := range s.Answers {
			scripts = append(scripts, mock.Transcript(answer))
		}
		return mock.NewSTTFactory(scripts...).Factory(), nil
	})
	r.RegisterTTS("elevenlabs", func(settings map[string]any, sessionID string, logger *slog.Logger) (tts.Synthesizer, error) {
		s, err := elevenlabs.DecodeSettings(settings)
		if err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.ConfigFromSettings(s, sessionID), logger), nil
	})
	r.RegisterTTS("mock", func(settings map[string]any, sessionID string, _ *slog.Logger) (tts.Synthesizer, error) {
		var s mockTTSSettings
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, fmt.Errorf("mock tts settings: %w", err)
		}
		return mock.NewTTS(mock.TTSConfig{SessionID: sessionID, SampleRate: s.SampleRate, Channels: s.Channels}), nil
	})
	return r
}

type mockSTTSettings struct {
	// Answers are replayed one per listening window.
	Answers []string `mapstructure:"answers"`
}

type mockTTSSettings struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) RegisterSTT(name string, builder STTFactoryBuilder) {
	r.stt[normalize(name)] = builder
}

func (r *Registry) RegisterTTS(name string, builder TTSBuilder) {
	r.tts[normalize(name)] = builder
}

func (r *Registry) BuildSTTFactory(provider string, settings map[string]any, logger *slog.Logger) (stt.Factory, error) {
	fn := r.stt[normalize(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(settings, logger)
}

// BuildTTS returns nil without error for provider "none" or "".
func (r *Registry) BuildTTS(provider string, settings map[string]any, sessionID string, logger *slog.Logger) (tts.Synthesizer, error) {
	name := normalize(provider)
	if name == "" || name == "none" {
		return nil, nil
	}
	fn := r.tts[name]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(settings, sessionID, logger)
}
