package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/example/faceid/internal/usecase"
)

// progress renders countdown ticks and state changes on stderr.
type progress struct {
	mu        sync.Mutex
	out       io.Writer
	bar       *progressbar.ProgressBar
	lastState usecase.State
}

func newProgress(out io.Writer) *progress {
	if out == nil {
		out = os.Stderr
	}
	return &progress{out: out, lastState: -1}
}

// observe is passed as the orchestrator's OnChange callback.
func (p *progress) observe(s usecase.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State == usecase.Capturing && s.Countdown > 0 {
		if p.bar == nil {
			p.bar = progressbar.NewOptions(s.Countdown,
				progressbar.OptionSetDescription("Get ready"),
				progressbar.OptionSetWriter(p.out),
				progressbar.OptionShowCount(),
			)
		}
		_ = p.bar.Set(p.bar.GetMax() - s.Countdown + 1)
	}
	if s.State == p.lastState {
		return
	}
	if p.bar != nil && s.State != usecase.Capturing {
		_ = p.bar.Finish()
		fmt.Fprintln(p.out)
		p.bar = nil
	}
	p.lastState = s.State
	switch s.State {
	case usecase.Capturing:
		if s.Countdown == 0 {
			fmt.Fprintln(p.out, "Capturing...")
		}
	case usecase.Submitting:
		fmt.Fprintln(p.out, "Submitting...")
	}
}

// printOutcome writes the final snapshot and returns an error for failed attempts.
func printOutcome(out io.Writer, s usecase.Snapshot) error {
	if s.RequestTimeMs > 0 {
		fmt.Fprintf(out, "Request time: %d ms\n", s.RequestTimeMs)
	}
	if o := s.Outcome; o != nil {
		fmt.Fprintf(out, "Result: %s (%s)\n", o.Code, o.Message)
		if wire := o.Code.Wire(o.Route); wire >= 0 {
			fmt.Fprintf(out, "Backend code: %d\n", wire)
		}
		if o.Match != nil {
			fmt.Fprintf(out, "Matched identity: %s (score %.2f)\n", o.Match.IdentityID, o.Match.Score)
			for k, v := range o.Match.Metadata {
				fmt.Fprintf(out, "  %s: %v\n", k, v)
			}
		}
		if as := o.AntiSpoofing; as != nil {
			fmt.Fprintf(out, "Liveness: real=%t score=%.2f confidence=%.2f\n", as.IsReal, as.AntispoofScore, as.Confidence)
		}
	}
	if s.AttemptID != "" {
		fmt.Fprintf(out, "Attempt: %s\n", s.AttemptID)
	}
	if s.State == usecase.Succeeded {
		return nil
	}
	if s.Error != nil {
		return fmt.Errorf("%s: %s", s.Error.Code, s.Error.Message)
	}
	return fmt.Errorf("attempt ended in state %s", s.State)
}
