// Package evaluate asks whether the user has finished answering.
package evaluate

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/metrics"
)

// Evaluator is the remote turn-evaluation endpoint.
type Evaluator interface {
	TurnEvaluate(ctx context.Context, sessionID string, req api.EvaluateRequest) (api.EvaluateResponse, error)
}

type Request struct {
	SessionID  string
	Transcript string
	Question   string
	Listening  time.Duration
	Silence    time.Duration
	IsFinal    bool
}

type Config struct {
	MinWords int
	Timeout  time.Duration
}

type Client struct {
	cfg           Config
	remote        Evaluator
	inFlight      atomic.Bool
	onAuthExpired func(error)
	logger        *slog.Logger
	observer      metrics.Observer
}

func NewClient(cfg Config, remote Evaluator, onAuthExpired func(error), logger *slog.Logger, observer metrics.Observer) *Client {
	if cfg.MinWords <= 0 {
		cfg.MinWords = 6
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Client{
		cfg:           cfg,
		remote:        remote,
		onAuthExpired: onAuthExpired,
		logger:        logging.NewComponentLogger(logger, "evaluator"),
		observer:      observer,
	}
}

func (c *Client) MinWords() int { return c.cfg.MinWords }

// Evaluate returns nil when another evaluation is still in flight or the
// remote call failed; callers then fall back to Heuristic.
func (c *Client) Evaluate(ctx context.Context, req Request) *Decision {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug("evaluation_skipped_in_flight")
		return nil
	}
	defer c.inFlight.Store(false)

	if strings.TrimSpace(req.Transcript) == "" || req.SessionID == "" || c.remote == nil {
		d := Heuristic(req.Transcript, req.Question, req.Listening, req.Silence, req.IsFinal, c.cfg.MinWords)
		c.record(req.SessionID, d)
		return &d
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	resp, err := c.remote.TurnEvaluate(ctx, req.SessionID, api.EvaluateRequest{
		Transcript:  req.Transcript,
		ListeningMs: req.Listening.Milliseconds(),
		SilenceMs:   req.Silence.Milliseconds(),
		IsFinal:     req.IsFinal,
		MinWords:    c.cfg.MinWords,
	})
	if err != nil {
		if errorsx.IsAuthExpired(err) {
			c.logger.Warn("evaluation_auth_expired")
			if c.onAuthExpired != nil {
				c.onAuthExpired(err)
			}
			return nil
		}
		c.logger.Warn("evaluation_failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("class", string(errorsx.ClassOf(err))),
			slog.String("error", err.Error()))
		return nil
	}
	action := Action(resp.Action)
	if !action.Valid() {
		c.logger.Warn("evaluation_unknown_action", slog.String("action", resp.Action))
		return nil
	}
	d := Decision{
		Action:         action,
		ConfidenceHint: clamp01(resp.ConfidenceHint),
		Reason:         resp.Reason,
		WordCount:      resp.WordCount,
		Source:         SourceRemote,
	}
	c.record(req.SessionID, d)
	return &d
}

// Busy reports an evaluation in flight.
func (c *Client) Busy() bool { return c.inFlight.Load() }

func (c *Client) record(sessionID string, d Decision) {
	c.logger.Debug("evaluation_decided",
		slog.String("action", string(d.Action)),
		slog.String("source", d.Source),
		slog.Int("words", d.WordCount),
		slog.Float64("confidence", d.ConfidenceHint))
	c.observer.RecordEvent(metrics.Event("evaluation", d.ConfidenceHint, map[string]string{
		"session_id": sessionID,
		"action":     string(d.Action),
		"source":     d.Source,
	}))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
