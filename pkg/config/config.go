package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/avatar"
	"github.com/harunnryd/viva/pkg/bargein"
	"github.com/harunnryd/viva/pkg/capture"
	"github.com/harunnryd/viva/pkg/configutil"
	"github.com/harunnryd/viva/pkg/echofilter"
	"github.com/harunnryd/viva/pkg/evaluate"
	"github.com/harunnryd/viva/pkg/room"
	"github.com/harunnryd/viva/pkg/transports/browser"
	"github.com/harunnryd/viva/pkg/turn"
	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Server        ServerConfig        `mapstructure:"server"`
	API           APIConfig           `mapstructure:"api"`
	Interview     InterviewConfig     `mapstructure:"interview"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Turn          TurnConfig          `mapstructure:"turn"`
	BargeIn       BargeInConfig       `mapstructure:"barge_in"`
	Avatar        AvatarConfig        `mapstructure:"avatar"`
	Room          RoomConfig          `mapstructure:"room"`
	Evaluate      EvaluateConfig      `mapstructure:"evaluate"`
	Browser       browser.Config      `mapstructure:"browser"`
	Store         StoreConfig         `mapstructure:"store"`
	Recording     RecordingConfig     `mapstructure:"recording"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	WSPath         string `mapstructure:"ws_path"`
	ControlToken   string `mapstructure:"control_token"`
	DrainTimeoutMS int    `mapstructure:"drain_timeout_ms"`
}

type APIConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Token     string `mapstructure:"token"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

type InterviewConfig struct {
	JobRole string `mapstructure:"job_role"`
	Domain  string `mapstructure:"domain"`
	UserID  string `mapstructure:"user_id"`
	// Slot names the recovery snapshot. Empty uses the user id.
	Slot     string `mapstructure:"slot"`
	Language string `mapstructure:"language"`
}

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
	Buffer     int `mapstructure:"buffer"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
}

type EchoConfig struct {
	WindowMS         int     `mapstructure:"window_ms"`
	OverlapThreshold float64 `mapstructure:"overlap_threshold"`
	LengthMargin     int     `mapstructure:"length_margin"`
	PrefixRatio      float64 `mapstructure:"prefix_ratio"`
	PrefixMinTokens  int     `mapstructure:"prefix_min_tokens"`
}

type TurnConfig struct {
	MinWords             int        `mapstructure:"min_words"`
	SilenceSubmitMS      int        `mapstructure:"silence_submit_ms"`
	SpeechStartTimeoutMS int        `mapstructure:"speech_start_timeout_ms"`
	StillSpeakingRetryMS int        `mapstructure:"still_speaking_retry_ms"`
	PostSpeechDelayMS    int        `mapstructure:"post_speech_delay_ms"`
	SubmitCooldownMS     int        `mapstructure:"submit_cooldown_ms"`
	EndMinAnswers        int        `mapstructure:"end_min_answers"`
	EndMinWords          int        `mapstructure:"end_min_words"`
	MaxOpenFailures      int        `mapstructure:"max_open_failures"`
	MaxSpeechWaitMS      int        `mapstructure:"max_speech_wait_ms"`
	Echo                 EchoConfig `mapstructure:"echo"`
}

type BargeInConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	IntervalMS   int     `mapstructure:"interval_ms"`
	Frames       int     `mapstructure:"frames"`
	StaticFloor  float64 `mapstructure:"static_floor"`
	Multiplier   float64 `mapstructure:"multiplier"`
	Margin       float64 `mapstructure:"margin"`
	FloorMin     float64 `mapstructure:"floor_min"`
	FloorMax     float64 `mapstructure:"floor_max"`
	InitialFloor float64 `mapstructure:"initial_floor"`
}

type AvatarConfig struct {
	Backend              string `mapstructure:"backend"`
	LocalVoice           string `mapstructure:"local_voice"`
	ProviderTimeoutMS    int    `mapstructure:"provider_timeout_ms"`
	RoomTimeoutMS        int    `mapstructure:"room_timeout_ms"`
	RoomConnectTimeoutMS int    `mapstructure:"room_connect_timeout_ms"`
	PollIntervalMS       int    `mapstructure:"poll_interval_ms"`
	RenderTimeoutMS      int    `mapstructure:"render_timeout_ms"`
	BreakerThreshold     int    `mapstructure:"breaker_threshold"`
	BreakerCooldownMS    int    `mapstructure:"breaker_cooldown_ms"`
}

type RoomConfig struct {
	// Provider is "livekit", "twilio", "api" or empty when descriptors come
	// from the speak response.
	Provider         string `mapstructure:"provider"`
	WSURL            string `mapstructure:"ws_url"`
	APIKey           string `mapstructure:"api_key"`
	APISecret        string `mapstructure:"api_secret"`
	AccountSID       string `mapstructure:"account_sid"`
	AuthToken        string `mapstructure:"auth_token"`
	RoomType         string `mapstructure:"room_type"`
	RoomPrefix       string `mapstructure:"room_prefix"`
	AvatarIdentity   string `mapstructure:"avatar_identity"`
	TokenTTLMS       int    `mapstructure:"token_ttl_ms"`
	ConnectTimeoutMS int    `mapstructure:"connect_timeout_ms"`
	RetryIntervalMS  int    `mapstructure:"retry_interval_ms"`
	MaxRetries       int    `mapstructure:"max_retries"`
}

type EvaluateConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
}

type StoreConfig struct {
	// Provider is "file", "redis" or "none".
	Provider      string `mapstructure:"provider"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Prefix        string `mapstructure:"prefix"`
	TTLMS         int    `mapstructure:"ttl_ms"`
}

type RecordingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type ObservabilityConfig struct {
	ArtifactsDir      string  `mapstructure:"artifacts_dir"`
	RetentionDays     int     `mapstructure:"retention_days"`
	Timeline          bool    `mapstructure:"timeline"`
	Prometheus        bool    `mapstructure:"prometheus"`
	BargeInSampleRate float64 `mapstructure:"barge_in_sample_rate"`
	AsyncBuffer       int     `mapstructure:"async_buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.drain_timeout_ms", 10000)
	v.SetDefault("server.control_token", "")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout_ms", 20000)
	v.SetDefault("interview.job_role", "")
	v.SetDefault("interview.domain", "")
	v.SetDefault("interview.slot", "")
	v.SetDefault("interview.user_id", "candidate")
	v.SetDefault("interview.language", "en-US")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.buffer", 64)
	v.SetDefault("vendors.stt.provider", "deepgram")
	v.SetDefault("vendors.tts.provider", "elevenlabs")
	v.SetDefault("turn.min_words", 6)
	v.SetDefault("turn.silence_submit_ms", 1200)
	v.SetDefault("turn.speech_start_timeout_ms", 6000)
	v.SetDefault("turn.still_speaking_retry_ms", 800)
	v.SetDefault("turn.post_speech_delay_ms", 450)
	v.SetDefault("turn.submit_cooldown_ms", 4000)
	v.SetDefault("turn.end_min_answers", 1)
	v.SetDefault("turn.end_min_words", 25)
	v.SetDefault("turn.max_open_failures", 3)
	v.SetDefault("turn.max_speech_wait_ms", 60000)
	v.SetDefault("turn.echo.window_ms", 3500)
	v.SetDefault("turn.echo.overlap_threshold", 0.74)
	v.SetDefault("turn.echo.length_margin", 4)
	v.SetDefault("turn.echo.prefix_ratio", 0.55)
	v.SetDefault("turn.echo.prefix_min_tokens", 4)
	v.SetDefault("barge_in.enabled", true)
	v.SetDefault("barge_in.interval_ms", 120)
	v.SetDefault("barge_in.frames", 3)
	v.SetDefault("barge_in.static_floor", 0.045)
	v.SetDefault("barge_in.multiplier", 2.2)
	v.SetDefault("barge_in.margin", 0.012)
	v.SetDefault("barge_in.floor_min", 0.002)
	v.SetDefault("barge_in.floor_max", 0.08)
	v.SetDefault("barge_in.initial_floor", 0.01)
	v.SetDefault("avatar.backend", "browser")
	v.SetDefault("avatar.local_voice", "browser")
	v.SetDefault("avatar.provider_timeout_ms", 8000)
	v.SetDefault("avatar.room_timeout_ms", 15000)
	v.SetDefault("avatar.room_connect_timeout_ms", 15000)
	v.SetDefault("avatar.poll_interval_ms", 1000)
	v.SetDefault("avatar.render_timeout_ms", 45000)
	v.SetDefault("avatar.breaker_threshold", 3)
	v.SetDefault("avatar.breaker_cooldown_ms", 30000)
	v.SetDefault("room.provider", "")
	v.SetDefault("room.room_type", "group")
	v.SetDefault("room.room_prefix", "viva")
	v.SetDefault("room.token_ttl_ms", 3600000)
	v.SetDefault("room.connect_timeout_ms", 15000)
	v.SetDefault("room.retry_interval_ms", 4000)
	v.SetDefault("room.max_retries", 3)
	v.SetDefault("evaluate.timeout_ms", 5000)
	v.SetDefault("browser.send_buffer", 256)
	v.SetDefault("browser.allow_any_origin", false)
	v.SetDefault("store.provider", "file")
	v.SetDefault("store.dir", "data/sessions")
	v.SetDefault("store.prefix", "viva:interview:")
	v.SetDefault("store.ttl_ms", 86400000)
	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.dir", "data/recordings")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.timeline", true)
	v.SetDefault("observability.prometheus", true)
	v.SetDefault("observability.barge_in_sample_rate", 0.1)
	v.SetDefault("observability.async_buffer", 1024)
	v.SetDefault("privacy.redact_pii", true)
}

// LoadConfig reads a YAML file. An empty path uses defaults and VIVA_*
// environment variables only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("viva")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.API.BaseURL, "api.base_url"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Interview.JobRole, "interview.job_role"); err != nil {
		return err
	}
	switch strings.ToLower(c.Vendors.STT.Provider) {
	case "deepgram", "mock":
	default:
		return fmt.Errorf("vendors.stt.provider %q is not supported", c.Vendors.STT.Provider)
	}
	switch strings.ToLower(c.Vendors.TTS.Provider) {
	case "elevenlabs", "mock", "none", "":
	default:
		return fmt.Errorf("vendors.tts.provider %q is not supported", c.Vendors.TTS.Provider)
	}
	switch avatar.Backend(c.Avatar.Backend) {
	case avatar.BackendBrowser, avatar.BackendProvider, avatar.BackendRoom:
	default:
		return fmt.Errorf("avatar.backend %q is not supported", c.Avatar.Backend)
	}
	switch c.Avatar.LocalVoice {
	case "browser", "synth":
	default:
		return fmt.Errorf("avatar.local_voice %q is not supported", c.Avatar.LocalVoice)
	}
	switch room.TokenFormat(c.Room.Provider) {
	case "", "api":
	case room.FormatLiveKit, room.FormatTwilio:
		if err := configutil.RequireString(c.Room.APIKey, "room.api_key"); err != nil {
			return err
		}
		if err := configutil.RequireString(c.Room.APISecret, "room.api_secret"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("room.provider %q is not supported", c.Room.Provider)
	}
	switch c.Store.Provider {
	case "none", "file":
	case "redis":
		if err := configutil.RequireString(c.Store.RedisAddr, "store.redis_addr"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.provider %q is not supported", c.Store.Provider)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	if c.Observability.BargeInSampleRate < 0 || c.Observability.BargeInSampleRate > 1 {
		return fmt.Errorf("observability.barge_in_sample_rate must be within [0,1]")
	}
	return nil
}

// SnapshotSlot is the key recovery snapshots are stored under.
func (c Config) SnapshotSlot() string {
	if c.Interview.Slot != "" {
		return c.Interview.Slot
	}
	return c.Interview.UserID
}

func (c Config) DrainTimeout() time.Duration {
	return configutil.Millis(c.Server.DrainTimeoutMS, 10*time.Second)
}

func (c Config) StoreTTL() time.Duration {
	return configutil.Millis(c.Store.TTLMS, 24*time.Hour)
}

func (c Config) RetentionMaxAge() time.Duration {
	if c.Observability.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.Observability.RetentionDays) * 24 * time.Hour
}

func (c Config) APIClient() api.Config {
	return api.Config{
		BaseURL: c.API.BaseURL,
		Token:   c.API.Token,
		Timeout: configutil.Millis(c.API.TimeoutMS, 20*time.Second),
	}
}

func (c Config) TurnController() turn.Config {
	t := c.Turn
	return turn.Config{
		MinWords:           t.MinWords,
		SilenceSubmit:      configutil.Millis(t.SilenceSubmitMS, 0),
		SpeechStartTimeout: configutil.Millis(t.SpeechStartTimeoutMS, 0),
		StillSpeakingRetry: configutil.Millis(t.StillSpeakingRetryMS, 0),
		PostSpeechDelay:    time.Duration(t.PostSpeechDelayMS) * time.Millisecond,
		SubmitCooldown:     configutil.Millis(t.SubmitCooldownMS, 0),
		EndMinAnswers:      t.EndMinAnswers,
		EndMinWords:        t.EndMinWords,
		MaxOpenFailures:    t.MaxOpenFailures,
		MaxSpeechWait:      configutil.Millis(t.MaxSpeechWaitMS, 0),
		Echo: echofilter.Config{
			Window:           configutil.Millis(t.Echo.WindowMS, 0),
			OverlapThreshold: t.Echo.OverlapThreshold,
			LengthMargin:     t.Echo.LengthMargin,
			PrefixRatio:      t.Echo.PrefixRatio,
			PrefixMinTokens:  t.Echo.PrefixMinTokens,
		},
	}
}

func (c Config) BargeInMonitor() bargein.Config {
	b := c.BargeIn
	return bargein.Config{
		Enabled:      b.Enabled,
		Interval:     configutil.Millis(b.IntervalMS, 0),
		Frames:       b.Frames,
		StaticFloor:  b.StaticFloor,
		Multiplier:   b.Multiplier,
		Margin:       b.Margin,
		FloorMin:     b.FloorMin,
		FloorMax:     b.FloorMax,
		InitialFloor: b.InitialFloor,
	}
}

func (c Config) Capture(sessionID string) capture.Config {
	return capture.Config{
		SessionID:   sessionID,
		SampleRate:  c.Audio.SampleRate,
		Language:    c.Interview.Language,
		AudioBuffer: c.Audio.Buffer,
	}
}

func (c Config) AvatarCoordinator(sessionID string) avatar.Config {
	a := c.Avatar
	return avatar.Config{
		SessionID:          sessionID,
		Backend:            avatar.Backend(a.Backend),
		ProviderTimeout:    configutil.Millis(a.ProviderTimeoutMS, 0),
		RoomTimeout:        configutil.Millis(a.RoomTimeoutMS, 0),
		RoomConnectTimeout: configutil.Millis(a.RoomConnectTimeoutMS, 0),
		PollInterval:       configutil.Millis(a.PollIntervalMS, 0),
		RenderTimeout:      configutil.Millis(a.RenderTimeoutMS, 0),
		BreakerThreshold:   a.BreakerThreshold,
		BreakerCooldown:    configutil.Millis(a.BreakerCooldownMS, 0),
	}
}

func (c Config) RoomSession() room.Config {
	return room.Config{
		ConnectTimeout: configutil.Millis(c.Room.ConnectTimeoutMS, 0),
		RetryInterval:  configutil.Millis(c.Room.RetryIntervalMS, 0),
		MaxRetries:     c.Room.MaxRetries,
		AvatarIdentity: c.Room.AvatarIdentity,
	}
}

func (c Config) RoomToken() room.TokenConfig {
	return room.TokenConfig{
		Format:     room.TokenFormat(c.Room.Provider),
		APIKey:     c.Room.APIKey,
		APISecret:  c.Room.APISecret,
		AccountSID: c.Room.AccountSID,
		TTL:        configutil.Millis(c.Room.TokenTTLMS, time.Hour),
	}
}

func (c Config) TwilioRoom() room.TwilioConfig {
	return room.TwilioConfig{
		AccountSID: c.Room.AccountSID,
		AuthToken:  c.Room.AuthToken,
		APIKeySID:  c.Room.APIKey,
		APISecret:  c.Room.APISecret,
		RoomType:   c.Room.RoomType,
		RoomPrefix: c.Room.RoomPrefix,
		WSURL:      c.Room.WSURL,
	}
}

func (c Config) Evaluator() evaluate.Config {
	return evaluate.Config{
		MinWords: c.Turn.MinWords,
		Timeout:  configutil.Millis(c.Evaluate.TimeoutMS, 5*time.Second),
	}
}

func (c Config) BrowserTransport(sessionID string) browser.Config {
	b := c.Browser
	b.SessionID = sessionID
	b.SampleRate = c.Audio.SampleRate
	b.Channels = c.Audio.Channels
	return b
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
