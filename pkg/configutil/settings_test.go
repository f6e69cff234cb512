package configutil

import (
	"errors"
	"testing"
	"time"
)

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	Interim        bool   `mapstructure:"interim"`
}

func TestDecodeVendorNormalizesKeys(t *testing.T) {
	in := map[string]any{
		"API-Key":        "secret",
		"model":          "nova-2",
		"utteranceEndMs": "1000",
		"interim":        "true",
	}
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model", "utterance_end_ms", "interim"}}
	var out deepgramSettings
	if err := DecodeVendor("deepgram", in, schema, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "secret" || out.Model != "nova-2" || out.UtteranceEndMS != 1000 || !out.Interim {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{"api_key": " ", "colour": "red"}, Schema{Required: []string{"api_key"}})
	var se *SettingsError
	if !errors.As(err, &se) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(se.Missing) != 1 || se.Missing[0] != "api_key" {
		t.Fatalf("unexpected missing: %v", se.Missing)
	}
	if len(se.Unknown) != 1 || se.Unknown[0] != "colour" {
		t.Fatalf("unexpected unknown: %v", se.Unknown)
	}
}

func TestValidateSettingsAllowUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{"api_key": "x", "extra": 1}, Schema{Required: []string{"api_key"}, AllowUnknown: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(0, time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := Millis(1200, time.Second); got != 1200*time.Millisecond {
		t.Fatalf("unexpected duration %v", got)
	}
}
