// Package capture drives fixed-count, fixed-interval frame bursts against a live stream.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInterrupted means the stream became invalid before the burst completed.
	ErrInterrupted = errors.New("capture interrupted")
	// ErrInvalidOptions rejects a burst with no frames.
	ErrInvalidOptions = errors.New("invalid capture options")
)

const (
	DefaultFrameCount = 6
	DefaultFrameDelay = 50 * time.Millisecond
	DefaultPreRoll    = 3
)

// Frame is one still image sampled from the stream.
type Frame struct {
	Seq        int
	CapturedAt time.Time
	Data       []byte
}

// FrameSet is an ordered burst. Insertion order is capture order.
type FrameSet []Frame

// Preview returns the canonical preview frame, the last one captured.
func (fs FrameSet) Preview() (Frame, bool) {
	if len(fs) == 0 {
		return Frame{}, false
	}
	return fs[len(fs)-1], true
}

// Options configures one burst.
type Options struct {
	FrameCount int
	FrameDelay time.Duration
	// PreRollSeconds > 0 emits a countdown before the first sample.
	PreRollSeconds int
}

// EnrollmentOptions returns the burst used for enrollment: countdown, then six frames.
func EnrollmentOptions() Options {
	return Options{FrameCount: DefaultFrameCount, FrameDelay: DefaultFrameDelay, PreRollSeconds: DefaultPreRoll}
}

// AuthenticationOptions returns the burst used for authentication. No countdown:
// liveness has to reflect one spontaneous instant.
func AuthenticationOptions() Options {
	return Options{FrameCount: DefaultFrameCount, FrameDelay: DefaultFrameDelay}
}

// Sampler is the part of a live stream the capturer needs.
type Sampler interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// CountdownFunc receives each countdown value, P down to 1.
type CountdownFunc func(remaining int)

// Burster captures bursts. The zero value is not usable; call NewBurster.
type Burster struct {
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	tick   time.Duration
}

// NewBurster returns a Burster using the wall clock.
func NewBurster(logger *zap.Logger) *Burster {
	return &Burster{
		logger: logger.Named("burst_capturer"),
		now:    time.Now,
		sleep:  sleepContext,
		tick:   time.Second,
	}
}

// Capture runs the countdown (if any) and then samples opts.FrameCount frames,
// waiting opts.FrameDelay between samples. The FrameSet is returned whole or
// not at all.
func (b *Burster) Capture(ctx context.Context, stream Sampler, opts Options, onCountdown CountdownFunc) (FrameSet, error) {
	if opts.FrameCount <= 0 {
		return nil, fmt.Errorf("%w: frame count %d", ErrInvalidOptions, opts.FrameCount)
	}
	if stream == nil {
		return nil, fmt.Errorf("%w: no live stream", ErrInterrupted)
	}

	for remaining := opts.PreRollSeconds; remaining >= 1; remaining-- {
		if onCountdown != nil {
			onCountdown(remaining)
		}
		if err := b.sleep(ctx, b.tick); err != nil {
			return nil, err
		}
	}
	if opts.PreRollSeconds > 0 && onCountdown != nil {
		onCountdown(0)
	}

	frames := make(FrameSet, 0, opts.FrameCount)
	var last time.Time
	for i := 0; i < opts.FrameCount; i++ {
		data, err := stream.Snapshot(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			b.logger.Warn("burst aborted", zap.Int("frame", i), zap.Error(err))
			return nil, fmt.Errorf("%w: frame %d: %v", ErrInterrupted, i, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: frame %d is empty", ErrInterrupted, i)
		}

		at := b.now()
		// Coarse clocks can repeat a reading; sample order must stay strict.
		if !at.After(last) {
			at = last.Add(time.Nanosecond)
		}
		last = at
		frames = append(frames, Frame{Seq: i, CapturedAt: at, Data: data})

		if i < opts.FrameCount-1 && opts.FrameDelay > 0 {
			if err := b.sleep(ctx, opts.FrameDelay); err != nil {
				return nil, err
			}
		}
	}

	b.logger.Debug("burst captured", zap.Int("frames", len(frames)))
	return frames, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
