// Package packager turns captured frames into the multipart payload sent to the
// verification backend.
package packager

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/example/faceid/internal/capture"
)

// ErrNoFrames is returned when there is nothing to package.
var ErrNoFrames = errors.New("frame set is empty")

// Mode selects which frames are sent.
type Mode int

const (
	// SingleFrame sends only the last frame of the burst.
	SingleFrame Mode = iota
	// MultiFrame sends every frame, compressed chunk by chunk.
	MultiFrame
)

func (m Mode) String() string {
	if m == MultiFrame {
		return "multi-frame"
	}
	return "single-frame"
}

const (
	DefaultMaxEdge   = 1024
	DefaultQuality   = 0.95
	DefaultChunkSize = 3
)

// Identity is the enrollment metadata attached to a payload.
type Identity struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	// Age 0 means unset.
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

// Part is one image in the payload.
type Part struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Field is one scalar form entry.
type Field struct {
	Name  string
	Value string
}

// Payload is a transport-ready submission. It is built once and only read afterwards.
type Payload struct {
	parts  []Part
	fields []Field
}

// Parts returns a copy of the image parts in order.
func (p *Payload) Parts() []Part { return append([]Part(nil), p.parts...) }

// Fields returns a copy of the scalar entries in order.
func (p *Payload) Fields() []Field { return append([]Field(nil), p.fields...) }

// Packager compresses frames and assembles payloads.
type Packager struct {
	maxEdge   int
	quality   float64
	chunkSize int
	logger    *zap.Logger
}

// Options configures a Packager. Zero values take the defaults.
type Options struct {
	MaxEdge   int
	Quality   float64
	ChunkSize int
}

// New returns a Packager.
func New(opts Options, logger *zap.Logger) *Packager {
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = DefaultMaxEdge
	}
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = DefaultQuality
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Packager{
		maxEdge:   opts.MaxEdge,
		quality:   opts.Quality,
		chunkSize: opts.ChunkSize,
		logger:    logger.Named("packager"),
	}
}

// Package builds the payload for frames. identity is nil for authentication.
func (p *Packager) Package(frames capture.FrameSet, mode Mode, identity *Identity) (*Payload, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	payload := &Payload{}
	switch mode {
	case MultiFrame:
		parts, err := p.compressChunked(frames)
		if err != nil {
			return nil, err
		}
		payload.parts = parts
	default:
		last, _ := frames.Preview()
		enc, err := p.Compress(last.Data)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", last.Seq, err)
		}
		payload.parts = []Part{{Field: "image", Filename: "user_image.jpg", ContentType: "image/jpeg", Data: enc.Data}}
	}

	if identity != nil {
		payload.fields = identityFields(*identity)
	}
	return payload, nil
}

// compressChunked works through frames chunkSize at a time so only one chunk of
// decoded images is alive at once. Output order matches input order.
func (p *Packager) compressChunked(frames capture.FrameSet) ([]Part, error) {
	parts := make([]Part, 0, len(frames))
	for start := 0; start < len(frames); start += p.chunkSize {
		end := start + p.chunkSize
		if end > len(frames) {
			end = len(frames)
		}
		chunk := make([]Part, 0, end-start)
		for i := start; i < end; i++ {
			enc, err := p.Compress(frames[i].Data)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", frames[i].Seq, err)
			}
			chunk = append(chunk, Part{
				Field:       "images",
				Filename:    fmt.Sprintf("frame_%d.jpg", i),
				ContentType: "image/jpeg",
				Data:        enc.Data,
			})
		}
		parts = append(parts, chunk...)
		p.logger.Debug("chunk compressed", zap.Int("start", start), zap.Int("size", len(chunk)))
	}
	return parts, nil
}

// identityFields flattens identity into scalar entries. Empty optional values and
// the age sentinel 0 are left out instead of being sent as literals.
func identityFields(id Identity) []Field {
	fields := make([]Field, 0, 7)
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, Field{Name: name, Value: value})
		}
	}
	add("id", id.ID)
	add("firstName", id.FirstName)
	add("lastName", id.LastName)
	if id.Age > 0 {
		add("age", strconv.Itoa(id.Age))
	}
	add("gender", id.Gender)
	add("email", id.Email)
	add("phone", id.Phone)
	return fields
}
