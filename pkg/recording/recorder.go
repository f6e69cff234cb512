// Package recording writes the raw microphone stream of a session to a
// WAV file.
package recording

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/harunnryd/viva/pkg/audio"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/logging"
)

const (
	wavHeaderSize   = 44
	wavFmtChunkSize = 16
	bitsPerSample   = 16
)

var ErrFinalized = errors.New("recording already finalized")

type Config struct {
	Dir        string
	SessionID  string
	SampleRate int
	Channels   int
}

// Recorder subscribes to the microphone hub and appends PCM16LE to a WAV
// file whose header is patched on Finalize.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	file      *os.File
	path      string
	written   int64
	sub       *audio.Subscription
	done      chan struct{}
	finalized bool
}

func New(cfg Config, logger *slog.Logger) *Recorder {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Recorder{
		cfg:    cfg,
		logger: logging.WithSession(logging.NewComponentLogger(logger, "recorder"), cfg.SessionID),
	}
}

// Start creates the file and begins consuming hub audio.
func (r *Recorder) Start(hub *audio.Hub) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	if r.file != nil {
		return nil
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return errorsx.Wrap(fmt.Errorf("recording dir: %w", err), errorsx.ReasonRecording)
	}
	r.path = filepath.Join(r.cfg.Dir, r.cfg.SessionID+".wav")
	f, err := os.Create(r.path)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("create recording: %w", err), errorsx.ReasonRecording)
	}
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		f.Close()
		return errorsx.Wrap(fmt.Errorf("reserve wav header: %w", err), errorsx.ReasonRecording)
	}
	r.file = f
	r.sub = hub.Subscribe("recorder", 256)
	r.done = make(chan struct{})
	go r.consume(r.sub, r.done)
	r.logger.Info("recording_started", slog.String("path", r.path))
	return nil
}

func (r *Recorder) consume(sub *audio.Subscription, done chan struct{}) {
	defer close(done)
	for f := range sub.C() {
		if err := r.Write(f.RawPayload()); err != nil {
			r.logger.Warn("recording_write_failed", slog.String("error", err.Error()))
			return
		}
	}
}

// Write appends raw PCM.
func (r *Recorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ErrFinalized
	}
	n, err := r.file.Write(pcm)
	r.written += int64(n)
	return err
}

// Finalize stops consuming, patches the header and returns the file path.
// Later calls return the same path.
func (r *Recorder) Finalize() (string, error) {
	r.mu.Lock()
	if r.finalized {
		path := r.path
		r.mu.Unlock()
		return path, nil
	}
	r.finalized = true
	sub, done := r.sub, r.done
	r.mu.Unlock()

	if sub != nil {
		sub.Close()
		<-done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return "", nil
	}
	f := r.file
	r.file = nil
	hdrErr := writeHeader(f, r.written, r.cfg.SampleRate, r.cfg.Channels)
	closeErr := f.Close()
	if err := errors.Join(hdrErr, closeErr); err != nil {
		return r.path, errorsx.Wrap(fmt.Errorf("finalize recording: %w", err), errorsx.ReasonRecording)
	}
	r.logger.Info("recording_finalized",
		slog.String("path", r.path),
		slog.Int64("bytes", r.written))
	return r.path, nil
}

func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func writeHeader(f *os.File, dataSize int64, sampleRate, channels int) error {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	hdr := make([]byte, wavHeaderSize)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataSize))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], wavFmtChunkSize)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataSize))
	_, err := f.WriteAt(hdr, 0)
	return err
}
