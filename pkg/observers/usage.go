package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/viva/pkg/metrics"
)

// UsageSummary is the vendor usage of one interview session.
type UsageSummary struct {
	SessionID     string  `json:"session_id"`
	STTAudioSec   float64 `json:"stt_audio_seconds"`
	TTSCharacters int     `json:"tts_characters"`
	AvatarRenders int     `json:"avatar_renders"`
	Evaluations   int     `json:"evaluations"`
	RecordedAtUTC string  `json:"recorded_at_utc"`
}

// UsageObserver accumulates per-session vendor usage and writes one
// <session>.usage.json per session on Close.
type UsageObserver struct {
	dir   string
	mu    sync.Mutex
	stats map[string]*UsageSummary
}

func NewUsageObserver(dir string) *UsageObserver {
	return &UsageObserver{dir: dir, stats: make(map[string]*UsageSummary)}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ev.SessionID()
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[id]
	if stat == nil {
		stat = &UsageSummary{SessionID: id}
		o.stats[id] = stat
	}
	switch ev.Name {
	case "stt_audio":
		stat.STTAudioSec += ev.Value
	case "tts_synthesis":
		stat.TTSCharacters += int(ev.Value)
	case "avatar_delivery":
		if ev.Tag("backend") != "browser" && ev.Tag("outcome") == "played" {
			stat.AvatarRenders++
		}
	case "evaluation":
		if ev.Tag("source") == "remote" {
			stat.Evaluations++
		}
	}
}

// Summary returns a copy of the usage for one session.
func (o *UsageObserver) Summary(sessionID string) (UsageSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[sessionID]
	if stat == nil {
		return UsageSummary{}, false
	}
	return *stat, true
}

func (o *UsageObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	var errOut error
	for id, stat := range o.stats {
		stat.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
		b, err := json.MarshalIndent(stat, "", "  ")
		if err != nil {
			errOut = errors.Join(errOut, err)
			continue
		}
		path := filepath.Join(o.dir, sanitizeID(id)+".usage.json")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			errOut = errors.Join(errOut, err)
		}
	}
	return errOut
}

var _ metrics.Observer = (*UsageObserver)(nil)
