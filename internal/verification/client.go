// Package verification submits packaged frames to the remote verification service.
package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceid/internal/auth"
	"github.com/example/faceid/internal/packager"
)

// Route selects the backend operation.
type Route int

const (
	Enroll Route = iota
	Authenticate
)

func (r Route) String() string {
	if r == Authenticate {
		return "authenticate"
	}
	return "enroll"
}

const (
	DefaultTimeout = 200 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 8 << 20
	tokenTTL         = time.Minute
)

type requestIDKey struct{}

// WithRequestID attaches id to ctx; Submit forwards it as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the id stored by WithRequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Options configures a Client.
type Options struct {
	BaseURL             string
	EnrollPath          string
	AuthenticatePath    string
	EnrollTimeout       time.Duration
	AuthenticateTimeout time.Duration
	// JWTSecret, when set, signs a short-lived HS256 bearer token per request.
	JWTSecret  string
	HTTPClient *http.Client
}

// Client sends one request per Submit and never retries: the backend call is
// stateful and a retry could enroll twice.
type Client struct {
	baseURL  string
	paths    map[Route]string
	timeouts map[Route]time.Duration
	secret   string
	http     *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient returns a Client for opts.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.EnrollPath == "" {
		opts.EnrollPath = "/api/v1/enroll"
	}
	if opts.AuthenticatePath == "" {
		opts.AuthenticatePath = "/api/v1/authenticate"
	}
	if opts.EnrollTimeout <= 0 {
		opts.EnrollTimeout = DefaultTimeout
	}
	if opts.AuthenticateTimeout <= 0 {
		opts.AuthenticateTimeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		paths:    map[Route]string{Enroll: opts.EnrollPath, Authenticate: opts.AuthenticatePath},
		timeouts: map[Route]time.Duration{Enroll: opts.EnrollTimeout, Authenticate: opts.AuthenticateTimeout},
		secret:   opts.JWTSecret,
		http:     httpClient,
		logger:   logger.Named("verification"),
		now:      time.Now,
	}
}

// Submit posts payload to the route's endpoint and returns the raw JSON body.
// Failures are always an *Error.
func (c *Client) Submit(ctx context.Context, payload *packager.Payload, route Route) ([]byte, error) {
	body, contentType, err := encodeMultipart(payload)
	if err != nil {
		return nil, &Error{Kind: NetworkUnreachable, Message: "encode request", Err: err}
	}

	timeout := c.timeouts[route]
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.baseURL + c.paths[route]
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, body)
	if err != nil {
		return nil, &Error{Kind: NetworkUnreachable, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if id := RequestIDFrom(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if c.secret != "" {
		token, err := c.signToken(route)
		if err != nil {
			return nil, &Error{Kind: NetworkUnreachable, Message: "sign request", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	logger := c.logger.With(zap.String("route", route.String()), zap.String("request_id", RequestIDFrom(ctx)))
	started := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		verr := classifyTransport(reqCtx, err, timeout)
		logger.Warn("submission failed", zap.String("kind", verr.Kind.String()), zap.Error(err))
		return nil, verr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		verr := classifyTransport(reqCtx, err, timeout)
		logger.Warn("reading response failed", zap.String("kind", verr.Kind.String()), zap.Error(err))
		return nil, verr
	}
	logger.Info("response received",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", c.now().Sub(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:    BackendRejected,
			Status:  resp.StatusCode,
			Body:    raw,
			Message: rejectionMessage(resp.StatusCode, raw),
		}
	}
	if !json.Valid(raw) {
		return nil, &Error{Kind: MalformedResponse, Body: raw, Message: "response is not valid JSON"}
	}
	return raw, nil
}

func (c *Client) signToken(route Route) (string, error) {
	return auth.SignToken(c.secret, "faceid-kiosk", route.String(), tokenTTL, c.now())
}

// classifyTransport maps an error from the round trip. A deadline hit is a
// timeout; anything else means no usable response arrived.
func classifyTransport(ctx context.Context, err error, timeout time.Duration) *Error {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: Timeout, Message: fmt.Sprintf("request exceeded %s", timeout), Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: Timeout, Message: fmt.Sprintf("request exceeded %s", timeout), Err: err}
	default:
		return &Error{Kind: NetworkUnreachable, Message: "verification service unreachable", Err: err}
	}
}

// rejectionMessage prefers the backend's own message field.
func rejectionMessage(status int, body []byte) string {
	var decoded struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &decoded) == nil {
		if decoded.Message != "" {
			return decoded.Message
		}
		if decoded.Error != "" {
			return decoded.Error
		}
	}
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "endpoint not found"
	}
	return http.StatusText(status)
}

func encodeMultipart(payload *packager.Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, part := range payload.Parts() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, part.Field, part.Filename))
		h.Set("Content-Type", part.ContentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := pw.Write(part.Data); err != nil {
			return nil, "", err
		}
	}
	for _, field := range payload.Fields() {
		if err := w.WriteField(field.Name, field.Value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
