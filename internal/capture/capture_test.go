package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceid/internal/device"
)

type scriptedStream struct {
	calls   int
	failAt  int
	failErr error
}

func (s *scriptedStream) Snapshot(ctx context.Context) ([]byte, error) {
	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
		return nil, s.failErr
	}
	return []byte(fmt.Sprintf("frame-%d", s.calls)), nil
}

func newTestBurster() (*Burster, *[]time.Duration) {
	var slept []time.Duration
	b := NewBurster(zap.NewNop())
	b.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return b, &slept
}

func TestCaptureReturnsExactlyNFramesInOrder(t *testing.T) {
	for _, n := range []int{1, 2, 6, 11} {
		for _, d := range []time.Duration{0, time.Millisecond, 50 * time.Millisecond} {
			b, _ := newTestBurster()
			frames, err := b.Capture(context.Background(), &scriptedStream{}, Options{FrameCount: n, FrameDelay: d}, nil)
			if err != nil {
				t.Fatalf("n=%d d=%s: unexpected error: %v", n, d, err)
			}
			if len(frames) != n {
				t.Fatalf("n=%d d=%s: expected %d frames, got %d", n, d, n, len(frames))
			}
			for i := 1; i < len(frames); i++ {
				if !frames[i].CapturedAt.After(frames[i-1].CapturedAt) {
					t.Fatalf("n=%d d=%s: frame %d not after frame %d", n, d, i, i-1)
				}
				if frames[i].Seq != i {
					t.Fatalf("expected seq %d, got %d", i, frames[i].Seq)
				}
			}
			preview, ok := frames.Preview()
			if !ok || string(preview.Data) != fmt.Sprintf("frame-%d", n) {
				t.Fatalf("expected last frame as preview, got %q", preview.Data)
			}
		}
	}
}

func TestCaptureWaitsBetweenFramesOnly(t *testing.T) {
	b, slept := newTestBurster()
	if _, err := b.Capture(context.Background(), &scriptedStream{}, AuthenticationOptions(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*slept) != DefaultFrameCount-1 {
		t.Fatalf("expected %d waits, got %d", DefaultFrameCount-1, len(*slept))
	}
	for _, d := range *slept {
		if d != DefaultFrameDelay {
			t.Fatalf("expected %s wait, got %s", DefaultFrameDelay, d)
		}
	}
}

func TestCaptureEmitsCountdownBeforeSampling(t *testing.T) {
	b, slept := newTestBurster()
	stream := &scriptedStream{}

	var ticks []int
	_, err := b.Capture(context.Background(), stream, EnrollmentOptions(), func(remaining int) {
		if remaining > 0 && stream.calls != 0 {
			t.Fatalf("frame sampled during countdown")
		}
		ticks = append(ticks, remaining)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{3, 2, 1, 0}
	if fmt.Sprint(ticks) != fmt.Sprint(want) {
		t.Fatalf("expected countdown %v, got %v", want, ticks)
	}
	for _, d := range (*slept)[:3] {
		if d != time.Second {
			t.Fatalf("expected 1s countdown ticks, got %s", d)
		}
	}
}

func TestCaptureDiscardsPartialBurstWhenStreamCloses(t *testing.T) {
	b, _ := newTestBurster()
	stream := &scriptedStream{failAt: 4, failErr: device.ErrStreamClosed}

	frames, err := b.Capture(context.Background(), stream, AuthenticationOptions(), nil)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if frames != nil {
		t.Fatalf("expected no frames on failure, got %d", len(frames))
	}
}

func TestCaptureRejectsEmptyBurst(t *testing.T) {
	b, _ := newTestBurster()
	if _, err := b.Capture(context.Background(), &scriptedStream{}, Options{}, nil); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestCaptureWithoutStreamIsInterrupted(t *testing.T) {
	b, _ := newTestBurster()
	if _, err := b.Capture(context.Background(), nil, AuthenticationOptions(), nil); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}
