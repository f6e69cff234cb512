package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/viva/pkg/avatar"
	"github.com/harunnryd/viva/pkg/room"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "viva.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimal = `
api:
  base_url: https://interview.example.com
interview:
  job_role: Backend Engineer
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.WSPath != "/ws" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	tc := cfg.TurnController()
	if tc.MinWords != 6 || tc.SilenceSubmit != 1200*time.Millisecond || tc.SubmitCooldown != 4*time.Second {
		t.Fatalf("unexpected turn defaults: %+v", tc)
	}
	if tc.EndMinAnswers != 1 || tc.EndMinWords != 25 || tc.MaxOpenFailures != 3 {
		t.Fatalf("unexpected end gating defaults: %+v", tc)
	}
	if tc.MaxSpeechWait != time.Minute {
		t.Fatalf("unexpected speech wait bound: %s", tc.MaxSpeechWait)
	}
	if tc.Echo.Window != 3500*time.Millisecond || tc.Echo.OverlapThreshold != 0.74 {
		t.Fatalf("unexpected echo defaults: %+v", tc.Echo)
	}
	if bc := cfg.BargeInMonitor(); !bc.Enabled || bc.Frames != 3 || bc.Interval != 120*time.Millisecond {
		t.Fatalf("unexpected barge-in defaults: %+v", bc)
	}
	if ac := cfg.AvatarCoordinator("s1"); ac.Backend != avatar.BackendBrowser || ac.SessionID != "s1" {
		t.Fatalf("unexpected avatar config: %+v", ac)
	}
	if cfg.SnapshotSlot() != "candidate" {
		t.Fatalf("expected snapshot slot to fall back to user id, got %q", cfg.SnapshotSlot())
	}
	if bt := cfg.BrowserTransport("s1"); bt.SessionID != "s1" || bt.SampleRate != 16000 {
		t.Fatalf("unexpected browser config: %+v", bt)
	}
	if cfg.DrainTimeout() != 10*time.Second || cfg.RetentionMaxAge() != 0 {
		t.Fatalf("unexpected durations: %v %v", cfg.DrainTimeout(), cfg.RetentionMaxAge())
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("INTERVIEW_TOKEN", "secret-token")
	t.Setenv("DG_KEY", "dg-123")
	cfg, err := LoadConfig(writeConfig(t, `
api:
  base_url: https://interview.example.com
  token: ${INTERVIEW_TOKEN}
interview:
  job_role: Backend Engineer
  slot: laptop-1
vendors:
  stt:
    provider: deepgram
    settings:
      api_key: ${DG_KEY}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Token != "secret-token" {
		t.Fatalf("expected expanded api token, got %q", cfg.API.Token)
	}
	if got := cfg.Vendors.STT.Settings["api_key"]; got != "dg-123" {
		t.Fatalf("expected expanded vendor setting, got %v", got)
	}
	if cfg.SnapshotSlot() != "laptop-1" {
		t.Fatalf("expected explicit slot, got %q", cfg.SnapshotSlot())
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("VIVA_TURN_MIN_WORDS", "9")
	t.Setenv("VIVA_AVATAR_BACKEND", "room")
	cfg, err := LoadConfig(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Turn.MinWords != 9 {
		t.Fatalf("expected env override for min words, got %d", cfg.Turn.MinWords)
	}
	if cfg.Evaluator().MinWords != 9 {
		t.Fatalf("expected evaluator to share min words, got %d", cfg.Evaluator().MinWords)
	}
	if cfg.Avatar.Backend != "room" {
		t.Fatalf("expected env override for backend, got %q", cfg.Avatar.Backend)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing base url", "interview:\n  job_role: x\n", "api.base_url"},
		{"missing job role", "api:\n  base_url: http://x\n", "interview.job_role"},
		{"bad stt", minimal + "vendors:\n  stt:\n    provider: whisper\n", "vendors.stt.provider"},
		{"bad backend", minimal + "avatar:\n  backend: hologram\n", "avatar.backend"},
		{"room without key", minimal + "room:\n  provider: livekit\n", "room.api_key"},
		{"redis without addr", minimal + "store:\n  provider: redis\n", "store.redis_addr"},
		{"bad sample rate", minimal + "observability:\n  barge_in_sample_rate: 2\n", "barge_in_sample_rate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRoomConfigs(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimal+`
room:
  provider: twilio
  api_key: SK123
  api_secret: shh
  account_sid: AC123
  ws_url: wss://video.example.com
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tok := cfg.RoomToken()
	if tok.Format != room.FormatTwilio || tok.TTL != time.Hour || tok.AccountSID != "AC123" {
		t.Fatalf("unexpected token config: %+v", tok)
	}
	tw := cfg.TwilioRoom()
	if tw.APIKeySID != "SK123" || tw.RoomType != "group" || tw.RoomPrefix != "viva" {
		t.Fatalf("unexpected twilio config: %+v", tw)
	}
	if rs := cfg.RoomSession(); rs.MaxRetries != 3 || rs.RetryInterval != 4*time.Second {
		t.Fatalf("unexpected room session config: %+v", rs)
	}
}
