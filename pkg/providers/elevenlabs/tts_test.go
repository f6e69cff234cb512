package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/viva/pkg/frames"
	"github.com/harunnryd/viva/pkg/resilience"
)

func TestDecodeSettingsDefaults(t *testing.T) {
	s, err := DecodeSettings(map[string]any{"api_key": "k", "voice_id": "v"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.OutputFormat != "pcm_16000" || s.ModelID == "" {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if _, err := DecodeSettings(map[string]any{"api_key": "k"}); err == nil {
		t.Fatalf("expected missing voice_id error")
	}
}

func TestSampleRateFor(t *testing.T) {
	if sampleRateFor("pcm_16000") != 16000 || sampleRateFor("mp3_44100_128") != 44100 {
		t.Fatalf("unexpected sample rate mapping")
	}
}

func TestSynthesisBracketsAudio(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			_ = json.Unmarshal(data, &msg)
			if flush, _ := msg["flush"].(bool); !flush {
				continue
			}
			audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
			_ = conn.WriteJSON(map[string]any{"audio": audio})
			_ = conn.WriteJSON(map[string]any{"isFinal": true})
		}
	}))
	defer srv.Close()

	s := New(Config{
		APIKey:       "k",
		VoiceID:      "voice",
		OutputFormat: "pcm_16000",
		SessionID:    "sess",
		BaseURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if err := s.SendText("Tell me about a challenging project"); err != nil {
		t.Fatalf("send: %v", err)
	}

	var codes []string
	deadline := time.After(2 * time.Second)
	for len(codes) < 3 {
		select {
		case f := <-s.Results():
			switch v := f.(type) {
			case frames.ControlFrame:
				codes = append(codes, string(v.Code()))
			case frames.AudioFrame:
				if v.Rate() != 16000 || v.Meta()[frames.MetaEncoding] != "pcm_s16le" {
					t.Fatalf("unexpected audio frame rate=%d meta=%v", v.Rate(), v.Meta())
				}
				codes = append(codes, "audio")
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", codes)
		}
	}
	want := []string{"synthesis_started", "audio", "synthesis_done"}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, codes)
		}
	}
}

func TestStartRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := New(Config{APIKey: "k", VoiceID: "v", BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	err := s.Start(context.Background())
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestSendTextBeforeStart(t *testing.T) {
	s := New(Config{APIKey: "k", VoiceID: "v"}, nil)
	if err := s.SendText("hello"); err == nil {
		t.Fatalf("expected error before start")
	}
}
