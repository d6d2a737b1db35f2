// Package voice turns recognized speech into trigger signals. Audio
// capture and speech recognition are pluggable; this package owns phrase
// matching and the listening session lifecycle.
package voice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/muster/internal/pipeline"
	"github.com/linnemanlabs/muster/internal/trigger"
)

const (
	defaultCooldown = 10 * time.Second
	defaultSilence  = 30 * time.Second
)

// Capture produces audio frames from a microphone or stream. Next blocks
// until a frame is available or ctx is done.
type Capture interface {
	Next(ctx context.Context) ([]byte, error)
}

// Recognizer transcribes one audio frame.
type Recognizer interface {
	Transcribe(ctx context.Context, sample []byte) (string, error)
}

// TextRecognizer is a pass-through Recognizer for captures that carry
// already-transcribed text (edge devices running on-device recognition).
type TextRecognizer struct{}

// Transcribe returns the sample as text.
func (TextRecognizer) Transcribe(_ context.Context, sample []byte) (string, error) {
	return string(sample), nil
}

// SignalSink accepts trigger signals, satisfied by *pipeline.Service.
type SignalSink interface {
	Submit(ctx context.Context, deviceID string, sig trigger.Signal) (*pipeline.SubmitResult, error)
}

// Options configures a listening session.
type Options struct {
	// DeviceID is the registered voice trigger this session feeds.
	DeviceID string
	// Phrases are the activation phrases, matched case-insensitively as
	// substrings of the transcript.
	Phrases []string
	// Cooldown suppresses repeat activations while responders are
	// already being alerted for the same utterance.
	Cooldown time.Duration
	// SilenceTimeout is the quiet period after which the session ends
	// on its own, with no external cancel signal.
	SilenceTimeout time.Duration
}

// Session is one continuous listening loop.
type Session struct {
	capture    Capture
	recognizer Recognizer
	sink       SignalSink
	opts       Options
	logger     log.Logger

	lastFired time.Time
}

// NewSession creates a listening session.
func NewSession(capture Capture, recognizer Recognizer, sink SignalSink, opts Options, logger log.Logger) *Session {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = defaultSilence
	}
	return &Session{
		capture:    capture,
		recognizer: recognizer,
		sink:       sink,
		opts:       opts,
		logger:     logger,
	}
}

// Run listens until ctx is cancelled or the silence timeout elapses with
// no frame; a silent session ends itself and returns nil. Recognition
// errors are logged and the loop continues: a flaky recognizer must not
// end the session.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frameCtx, cancel := context.WithTimeout(ctx, s.opts.SilenceTimeout)
		sample, err := s.capture.Next(frameCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				s.logger.Info(ctx, "session ended by silence",
					"device_id", s.opts.DeviceID, "quiet_period", s.opts.SilenceTimeout)
				return nil
			}
			s.logger.Warn(ctx, "audio capture stalled", "device_id", s.opts.DeviceID, "error", err)
			continue
		}
		if len(sample) == 0 {
			continue
		}

		transcript, err := s.recognizer.Transcribe(ctx, sample)
		if err != nil {
			s.logger.Warn(ctx, "speech recognition failed", "device_id", s.opts.DeviceID, "error", err)
			continue
		}

		phrase, ok := s.match(transcript)
		if !ok {
			continue
		}
		if time.Since(s.lastFired) < s.opts.Cooldown {
			s.logger.Info(ctx, "activation suppressed by cooldown",
				"device_id", s.opts.DeviceID, "phrase", phrase)
			continue
		}

		res, err := s.sink.Submit(ctx, s.opts.DeviceID, trigger.Signal{Note: transcript})
		if err != nil {
			s.logger.Error(ctx, err, "voice activation submission failed", "device_id", s.opts.DeviceID)
			continue
		}
		if res.Rejected {
			s.logger.Warn(ctx, "voice activation rejected",
				"device_id", s.opts.DeviceID, "reason", res.Reason)
			continue
		}

		s.lastFired = time.Now()
		s.logger.Info(ctx, "voice activation accepted",
			"device_id", s.opts.DeviceID, "event_id", res.EventID, "phrase", phrase)
	}
}

// match reports the first activation phrase contained in the transcript.
func (s *Session) match(transcript string) (string, bool) {
	lower := strings.ToLower(transcript)
	for _, p := range s.opts.Phrases {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
