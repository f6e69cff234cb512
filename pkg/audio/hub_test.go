package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/harunnryd/viva/pkg/frames"
)

func pcmConst(value int16, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(value))
	}
	return out
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected 0 for empty pcm, got %f", got)
	}
	if got := RMS(pcmConst(0, 160)); got != 0 {
		t.Fatalf("expected 0 for silence, got %f", got)
	}
	got := RMS(pcmConst(16384, 160))
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %f", got)
	}
	neg := RMS(pcmConst(-16384, 160))
	if math.Abs(neg-0.5) > 1e-9 {
		t.Fatalf("expected 0.5 for negative samples, got %f", neg)
	}
}

func TestDurationMS(t *testing.T) {
	if got := DurationMS(make([]byte, 3200), 16000, 1); got != 100 {
		t.Fatalf("expected 100ms, got %d", got)
	}
	if got := DurationMS(make([]byte, 3200), 0, 1); got != 0 {
		t.Fatalf("expected 0 for bad rate, got %d", got)
	}
}

func TestHubFanOutAndIndependentClose(t *testing.T) {
	hub := NewHub(nil)
	rec := hub.Subscribe("recorder", 4)
	stt := hub.Subscribe("stt", 4)

	f := frames.NewAudioFrame("s", 1, pcmConst(1, 4), 16000, 1, nil)
	hub.Publish(f)
	if got := <-rec.C(); len(got.RawPayload()) != 8 {
		t.Fatalf("recorder got wrong frame")
	}
	if got := <-stt.C(); len(got.RawPayload()) != 8 {
		t.Fatalf("stt got wrong frame")
	}

	stt.Close()
	if _, ok := <-stt.C(); ok {
		t.Fatalf("expected stt channel closed")
	}
	if hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber left, got %d", hub.Subscribers())
	}

	hub.Publish(f)
	if _, ok := <-rec.C(); !ok {
		t.Fatalf("recorder should still receive after stt closed")
	}
	stt.Close()
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	slow := hub.Subscribe("slow", 1)
	f := frames.NewAudioFrame("s", 1, pcmConst(1, 4), 16000, 1, nil)
	hub.Publish(f)
	hub.Publish(f)
	if slow.Dropped() != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", slow.Dropped())
	}
	hub.Close()
	<-slow.C()
	if _, ok := <-slow.C(); ok {
		t.Fatalf("expected channel closed after hub close")
	}
	late := hub.Subscribe("late", 1)
	if _, ok := <-late.C(); ok {
		t.Fatalf("expected subscription on closed hub to be closed")
	}
}
