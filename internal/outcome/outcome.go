// Package outcome normalizes verification responses into one result type.
package outcome

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/faceid/internal/verification"
)

// ErrMalformed means the body does not fit the configured response schema.
var ErrMalformed = errors.New("malformed verification response")

// DefaultThreshold is the minimum accepted similarity score.
const DefaultThreshold = 0.70

// Match is an accepted identification.
type Match struct {
	IdentityID string         `json:"id"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AntiSpoofing is passed through from the backend as reported. It never
// changes the outcome code.
type AntiSpoofing struct {
	IsReal         bool    `json:"is_real"`
	AntispoofScore float64 `json:"antispoof_score"`
	Confidence     float64 `json:"confidence"`
}

// Outcome is the normalized result of one submission. Match is non-nil exactly
// when Code is SUCCESS on the authenticate route.
type Outcome struct {
	Route        verification.Route `json:"-"`
	Code         Code               `json:"code"`
	Message      string             `json:"message"`
	Match        *Match             `json:"match"`
	AntiSpoofing *AntiSpoofing      `json:"anti_spoofing"`
	Similarity   *float64           `json:"similarity_score,omitempty"`
	Details      json.RawMessage    `json:"details,omitempty"`
}

// Succeeded reports whether the attempt ended in SUCCESS.
func (o Outcome) Succeeded() bool { return o.Code == Success }

// Decoded is what an Adapter extracts from one response shape before the
// acceptance policy runs.
type Decoded struct {
	Code         Code
	Message      string
	Candidates   []Match
	AntiSpoofing *AntiSpoofing
	Similarity   *float64
	Details      json.RawMessage
}

// Adapter decodes one backend response shape.
type Adapter interface {
	Schema() string
	Decode(raw []byte, route verification.Route) (Decoded, error)
}

// Normalizer applies one Adapter and the match acceptance policy.
type Normalizer struct {
	adapter   Adapter
	threshold float64
}

// New returns a Normalizer for the named schema.
func New(schema string, threshold float64) (*Normalizer, error) {
	adapter, err := AdapterFor(schema)
	if err != nil {
		return nil, err
	}
	return NewWithAdapter(adapter, threshold), nil
}

// NewWithAdapter returns a Normalizer using adapter. A threshold outside (0, 1]
// falls back to DefaultThreshold.
func NewWithAdapter(adapter Adapter, threshold float64) *Normalizer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Normalizer{adapter: adapter, threshold: threshold}
}

// Threshold returns the acceptance threshold in effect.
func (n *Normalizer) Threshold() float64 { return n.threshold }

// Schema returns the configured adapter's schema name.
func (n *Normalizer) Schema() string { return n.adapter.Schema() }

// Normalize turns a raw backend body into an Outcome. Errors wrap ErrMalformed.
func (n *Normalizer) Normalize(raw []byte, route verification.Route) (Outcome, error) {
	decoded, err := n.adapter.Decode(raw, route)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s: %v", ErrMalformed, n.adapter.Schema(), err)
	}

	out := Outcome{
		Route:        route,
		Code:         decoded.Code,
		Message:      decoded.Message,
		AntiSpoofing: decoded.AntiSpoofing,
		Similarity:   decoded.Similarity,
		Details:      decoded.Details,
	}

	if route == verification.Authenticate && out.Code == Success {
		best, ok := bestCandidate(decoded.Candidates)
		switch {
		case !ok:
			out.Code = NoMatch
			out.Message = ""
		case best.Score < n.threshold:
			out.Code = BelowThreshold
			out.Message = fmt.Sprintf("Best match score %.2f is below threshold %.2f", best.Score, n.threshold)
		default:
			m := best
			out.Match = &m
		}
	}

	if out.Message == "" {
		out.Message = out.Code.DefaultMessage()
	}
	return out, nil
}

// bestCandidate picks the highest score. The first candidate wins ties.
func bestCandidate(candidates []Match) (Match, bool) {
	if len(candidates) == 0 {
		return Match{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}
