package recording

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/harunnryd/viva/pkg/audio"
	"github.com/harunnryd/viva/pkg/frames"
)

func TestRecorderWritesWAV(t *testing.T) {
	hub := audio.NewHub(nil)
	r := New(Config{Dir: t.TempDir(), SessionID: "s1"}, nil)
	if err := r.Start(hub); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		hub.Publish(frames.NewAudioFrame("s1", 0, make([]byte, 320), 16000, 1, nil))
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := r.written
		r.mu.Unlock()
		if n == 960 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 960 bytes written, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	path, err := r.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected recorder to unsubscribe")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != wavHeaderSize+960 {
		t.Fatalf("unexpected file size %d", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Fatalf("bad wav header")
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 960 {
		t.Fatalf("unexpected data size %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Fatalf("unexpected sample rate %d", got)
	}

	again, err := r.Finalize()
	if err != nil || again != path {
		t.Fatalf("second finalize should be a no-op, got %q %v", again, err)
	}
	if err := r.Start(hub); err != ErrFinalized {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

func TestFinalizeWithoutStart(t *testing.T) {
	r := New(Config{Dir: t.TempDir(), SessionID: "s1"}, nil)
	path, err := r.Finalize()
	if err != nil || path != "" {
		t.Fatalf("expected empty path, got %q %v", path, err)
	}
}
