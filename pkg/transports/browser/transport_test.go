package browser

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/viva/pkg/audio"
	"github.com/harunnryd/viva/pkg/avatar"
	"github.com/harunnryd/viva/pkg/turn"
)

type recorder struct {
	mu     sync.Mutex
	events []turn.Event
	media  []avatar.Playback
	tokens []uint64
}

func (r *recorder) Post(ev turn.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnMediaEvent(token uint64, p avatar.Playback) {
	r.mu.Lock()
	r.tokens = append(r.tokens, token)
	r.media = append(r.media, p)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]turn.Event, []avatar.Playback, []uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]turn.Event(nil), r.events...), append([]avatar.Playback(nil), r.media...), append([]uint64(nil), r.tokens...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitConnected(t *testing.T, tr *Transport) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !tr.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("transport never saw the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readOutbound(t *testing.T, ws *websocket.Conn) Outbound {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out Outbound
	if err := json.Unmarshal(msg, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestBinaryAudioIsPublished(t *testing.T) {
	hub := audio.NewHub(quietLogger())
	sub := hub.Subscribe("test", 4)
	defer sub.Close()
	tr := New(Config{SessionID: "sess-1"}, hub, quietLogger())
	srv := httptest.NewServer(tr)
	defer srv.Close()

	ws := dial(t, srv)
	if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case f := <-sub.C():
		if len(f.RawPayload()) != 640 || f.Rate() != 16000 {
			t.Fatalf("unexpected frame: %d bytes at %d", len(f.RawPayload()), f.Rate())
		}
		if f.Meta()["session_id"] != "sess-1" {
			t.Fatalf("expected session id on frame, got %v", f.Meta())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected audio frame")
	}
}

func TestBase64AudioIsPublished(t *testing.T) {
	hub := audio.NewHub(quietLogger())
	sub := hub.Subscribe("test", 4)
	defer sub.Close()
	tr := New(Config{SessionID: "sess-1", SampleRate: 24000}, hub, quietLogger())
	srv := httptest.NewServer(tr)
	defer srv.Close()

	ws := dial(t, srv)
	msg := Inbound{Type: "audio", Payload: base64.StdEncoding.EncodeToString(make([]byte, 320))}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case f := <-sub.C():
		if f.Rate() != 24000 {
			t.Fatalf("expected configured rate, got %d", f.Rate())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected audio frame")
	}
}

func TestCommandsAndMediaReports(t *testing.T) {
	rec := &recorder{}
	tr := New(Config{SessionID: "sess-1"}, nil, quietLogger())
	tr.Bind(rec, rec)
	srv := httptest.NewServer(tr)
	defer srv.Close()

	ws := dial(t, srv)
	for _, in := range []Inbound{
		{Type: "command", Command: "pause"},
		{Type: "command", Command: "submit", Text: "my answer"},
		{Type: "command", Command: "dance"},
		{Type: "media", Token: 7, Event: "started"},
		{Type: "media", Token: 7, Event: "buffering"},
		{Type: "media", Token: 7, Event: "ended"},
	} {
		if err := ws.WriteJSON(in); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, media, _ := rec.snapshot()
		if len(events) == 2 && len(media) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 commands and 2 media reports, got %d and %d", len(events), len(media))
		}
		time.Sleep(5 * time.Millisecond)
	}
	events, media, tokens := rec.snapshot()
	if _, ok := events[0].(turn.Pause); !ok {
		t.Fatalf("expected pause, got %T", events[0])
	}
	if sub, ok := events[1].(turn.ManualSubmit); !ok || sub.Text != "my answer" {
		t.Fatalf("expected manual submit with text, got %#v", events[1])
	}
	if media[0] != avatar.PlaybackStarted || media[1] != avatar.PlaybackEnded || tokens[1] != 7 {
		t.Fatalf("unexpected media reports: %v %v", media, tokens)
	}
}

func TestOutboundMessages(t *testing.T) {
	tr := New(Config{SessionID: "sess-1"}, nil, quietLogger())
	if err := tr.SpeakText(1, "hello"); err == nil {
		t.Fatalf("expected error without a connection")
	}
	srv := httptest.NewServer(tr)
	defer srv.Close()

	ws := dial(t, srv)
	waitConnected(t, tr)

	if err := tr.PlayMedia(3, avatar.Media{VideoURL: "https://cdn/v.mp4"}); err != nil {
		t.Fatalf("play media: %v", err)
	}
	out := readOutbound(t, ws)
	if out.Type != "play_media" || out.Token != 3 || out.VideoURL != "https://cdn/v.mp4" {
		t.Fatalf("unexpected play_media: %#v", out)
	}

	tr.Stop(3)
	if out := readOutbound(t, ws); out.Type != "stop" || out.Token != 3 {
		t.Fatalf("unexpected stop: %#v", out)
	}

	tr.OnView(turn.View{SessionID: "sess-1", Label: turn.LabelListening})
	out = readOutbound(t, ws)
	if out.Type != "state" || out.View == nil || out.View.Label != turn.LabelListening {
		t.Fatalf("unexpected state: %#v", out)
	}
}

func TestReconnectReplaysLastView(t *testing.T) {
	tr := New(Config{SessionID: "sess-1"}, nil, quietLogger())
	tr.OnView(turn.View{SessionID: "sess-1", Label: turn.LabelPaused})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	first := dial(t, srv)
	if out := readOutbound(t, first); out.View == nil || out.View.Label != turn.LabelPaused {
		t.Fatalf("expected replayed view, got %#v", out)
	}

	second := dial(t, srv)
	if out := readOutbound(t, second); out.Type != "state" {
		t.Fatalf("expected replayed view on reconnect, got %#v", out)
	}
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected replaced connection to be closed")
	}
}

func TestCloseRejectsNewConnections(t *testing.T) {
	tr := New(Config{}, nil, quietLogger())
	srv := httptest.NewServer(tr)
	defer srv.Close()
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", resp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"app.example.com", "https://admin.example.com"}}, nil, quietLogger())
	cases := map[string]bool{
		"":                          true,
		"https://app.example.com":   true,
		"http://app.example.com/":   true,
		"https://admin.example.com": true,
		"http://admin.example.com":  false,
		"https://evil.example.com":  false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := tr.checkOrigin(r); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}
}
