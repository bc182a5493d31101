package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/capture"
	"github.com/example/faceid/internal/device"
	"github.com/example/faceid/internal/form"
	"github.com/example/faceid/internal/outcome"
	"github.com/example/faceid/internal/packager"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/verification"
)

var testJPEG = func() []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 6)), nil)
	return buf.Bytes()
}()

type stubStream struct {
	id      string
	mu      sync.Mutex
	stopped bool
	err     error
}

func (s *stubStream) DeviceID() string { return s.id }

func (s *stubStream) Snapshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, device.ErrStreamClosed
	}
	if s.err != nil {
		return nil, s.err
	}
	return testJPEG, nil
}

func (s *stubStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

type stubPlatform struct {
	mu         sync.Mutex
	devicesErr error
	openErr    map[string]error
	snapErr    error
	streams    []*stubStream
}

func (p *stubPlatform) Devices(ctx context.Context) ([]device.CaptureDevice, error) {
	if p.devicesErr != nil {
		return nil, p.devicesErr
	}
	return []device.CaptureDevice{{ID: "cam-0", Label: "Front"}, {ID: "cam-1"}}, nil
}

func (p *stubPlatform) Open(ctx context.Context, deviceID string, hint device.Resolution) (device.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openErr[deviceID]; err != nil {
		return nil, err
	}
	if deviceID == "" {
		deviceID = "cam-0"
	}
	s := &stubStream{id: deviceID, err: p.snapErr}
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *stubPlatform) live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.streams {
		s.mu.Lock()
		if !s.stopped {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

type stubRepository struct {
	mu        sync.Mutex
	savedLogs []*repository.AttemptLog
	saveErr   error
	findLog   *repository.AttemptLog
	findCalls int
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.AttemptLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByAttemptID(ctx context.Context, attemptID string) (*repository.AttemptLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findLog != nil && s.findLog.AttemptID == attemptID {
		return s.findLog, nil
	}
	return nil, repository.ErrNotFound
}

type stubCache struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

// blockingSubmitter holds every submission until release is closed.
type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
	body    []byte
}

func (s *blockingSubmitter) Submit(ctx context.Context, payload *packager.Payload, route verification.Route) ([]byte, error) {
	close(s.entered)
	select {
	case <-s.release:
		return s.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type harness struct {
	orch     *Orchestrator
	platform *stubPlatform
	form     *form.Form
	repo     *stubRepository
	cache    *stubCache

	mu     sync.Mutex
	states []State
}

func (h *harness) seen(s State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, got := range h.states {
		if got == s {
			return true
		}
	}
	return false
}

type harnessConfig struct {
	backendURL  string
	authTimeout time.Duration
	submitter   Submitter
	platform    *stubPlatform
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	if cfg.platform == nil {
		cfg.platform = &stubPlatform{}
	}
	logger := zap.NewNop()
	h := &harness{
		platform: cfg.platform,
		form:     form.New(nil),
		repo:     &stubRepository{},
		cache:    &stubCache{},
	}
	normalizer, err := outcome.New(outcome.SchemaCoded, 0.70)
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}
	submitter := cfg.submitter
	if submitter == nil {
		submitter = verification.NewClient(verification.Options{
			BaseURL:             cfg.backendURL,
			AuthenticateTimeout: cfg.authTimeout,
		}, logger)
	}
	burst := capture.Options{FrameCount: 1, FrameDelay: time.Millisecond}
	h.orch = New(Dependencies{
		Devices:    device.NewManager(cfg.platform, device.Resolution{Width: 1280, Height: 720}, logger),
		Capturer:   capture.NewBurster(logger),
		Packager:   packager.New(packager.Options{}, logger),
		Submitter:  submitter,
		Normalizer: normalizer,
		Identity:   h.form,
		Repo:       h.repo,
		Cache:      h.cache,
	}, Options{
		EnrollCapture:       burst,
		AuthenticateCapture: burst,
		OnChange: func(s Snapshot) {
			h.mu.Lock()
			h.states = append(h.states, s.State)
			h.mu.Unlock()
		},
	}, logger)
	t.Cleanup(h.orch.Close)
	if err := h.orch.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return h
}

func backend(t *testing.T, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEnrollmentSucceeds(t *testing.T) {
	var firstName, lastName string
	var images int
	server := backend(t, `{"code":0,"message":"ok","anti_spoofing":{"is_real":true,"antispoof_score":0.98,"confidence":0.95}}`, func(r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		firstName, lastName = r.FormValue("firstName"), r.FormValue("lastName")
		images = len(r.MultipartForm.File["image"])
	})
	h := newHarness(t, harnessConfig{backendURL: server.URL})
	h.form.Update(form.Fields{FirstName: "Jane", LastName: "Doe"})

	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Enroll}); err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}

	snap := h.orch.Snapshot()
	if snap.State != Succeeded {
		t.Fatalf("expected Succeeded, got %s (error=%+v)", snap.State, snap.Error)
	}
	if snap.Frames != 1 || snap.Outcome == nil || snap.Outcome.Code != outcome.Success || snap.Error != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if as := snap.Outcome.AntiSpoofing; as == nil || !as.IsReal || as.AntispoofScore != 0.98 {
		t.Fatalf("anti-spoofing not passed through: %+v", as)
	}
	if firstName != "Jane" || lastName != "Doe" || images != 1 {
		t.Fatalf("backend saw firstName=%q lastName=%q images=%d", firstName, lastName, images)
	}
	for _, want := range []State{Capturing, Submitting, Succeeded} {
		if !h.seen(want) {
			t.Fatalf("state %s never observed: %v", want, h.states)
		}
	}
}

func TestAuthenticationSpoofingFails(t *testing.T) {
	server := backend(t, `{"code":4,"message":"spoof detected"}`, nil)
	h := newHarness(t, harnessConfig{backendURL: server.URL})

	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate}); err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}

	snap := h.orch.Snapshot()
	if snap.State != Failed {
		t.Fatalf("expected Failed, got %s", snap.State)
	}
	if snap.Outcome == nil || snap.Outcome.Match != nil {
		t.Fatalf("expected outcome without match, got %+v", snap.Outcome)
	}
	if snap.Error == nil || snap.Error.Code != outcome.SpoofingDetected || snap.Error.Message != "spoof detected" {
		t.Fatalf("unexpected error %+v", snap.Error)
	}
}

func TestAuthenticationTimeoutFails(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	h := newHarness(t, harnessConfig{backendURL: server.URL, authTimeout: 50 * time.Millisecond})

	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate}); err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}

	snap := h.orch.Snapshot()
	if snap.State != Failed || snap.Error == nil || snap.Error.Code != outcome.Timeout {
		t.Fatalf("expected Failed with TIMEOUT, got %+v", snap)
	}
	if h.seen(Succeeded) {
		t.Fatal("workflow must never reach Succeeded after a timeout")
	}
	if snap.Outcome != nil {
		t.Fatalf("timeout must not carry an outcome, got %+v", snap.Outcome)
	}
}

func TestAuthenticationSuccessCarriesMatch(t *testing.T) {
	server := backend(t, `{"code":0,"message":"ok","match":{"id":"u-9","score":0.91,"metadata":{"firstName":"Jane"}},"similarity_score":0.91}`, nil)
	h := newHarness(t, harnessConfig{backendURL: server.URL})

	_ = h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate})

	snap := h.orch.Snapshot()
	if snap.State != Succeeded || snap.Outcome.Match == nil || snap.Outcome.Match.IdentityID != "u-9" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.AttemptID == "" {
		t.Fatal("expected an attempt id")
	}
}

func TestSecondCaptureWhileSubmittingIsRejected(t *testing.T) {
	sub := &blockingSubmitter{entered: make(chan struct{}), release: make(chan struct{}), body: []byte(`{"code":5}`)}
	h := newHarness(t, harnessConfig{submitter: sub})

	if err := h.orch.StartCapture(CaptureRequest{Route: verification.Authenticate}); err != nil {
		t.Fatalf("StartCapture returned error: %v", err)
	}
	<-sub.entered

	if s := h.orch.Snapshot().State; s != Submitting {
		t.Fatalf("expected Submitting, got %s", s)
	}
	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := h.orch.Retry(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from Retry, got %v", err)
	}
	if err := h.orch.SwitchDevice(context.Background(), "cam-1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from SwitchDevice, got %v", err)
	}

	close(sub.release)
	h.orch.Wait()
	snap := h.orch.Snapshot()
	if snap.State != Failed || snap.Error.Code != outcome.NoMatch {
		t.Fatalf("expected Failed with NO_MATCH, got %+v", snap)
	}
}

func TestCaptureFromTerminalStateNeedsRetry(t *testing.T) {
	server := backend(t, `{"code":5}`, nil)
	h := newHarness(t, harnessConfig{backendURL: server.URL})

	_ = h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate})
	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate}); !errors.Is(err, ErrNeedsRetry) {
		t.Fatalf("expected ErrNeedsRetry, got %v", err)
	}
}

func TestEnrollmentWaitsForIdentity(t *testing.T) {
	var calls atomic.Int32
	server := backend(t, `{"code":0,"message":"ok"}`, func(*http.Request) { calls.Add(1) })
	h := newHarness(t, harnessConfig{backendURL: server.URL})
	h.form.Update(form.Fields{FirstName: "Jane"})

	_ = h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Enroll})

	snap := h.orch.Snapshot()
	if snap.State != Idle || !snap.Pending || snap.Frames != 1 || calls.Load() != 0 {
		t.Fatalf("expected Idle with pending frames and no request, got %+v calls=%d", snap, calls.Load())
	}
	if err := h.orch.Submit(context.Background()); !errors.Is(err, ErrIncompleteIdentity) {
		t.Fatalf("expected ErrIncompleteIdentity, got %v", err)
	}

	h.form.Update(form.Fields{FirstName: "Jane", LastName: "Doe"})
	if err := h.orch.Submit(context.Background()); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if snap := h.orch.Snapshot(); snap.State != Succeeded || snap.Pending || calls.Load() != 1 {
		t.Fatalf("expected Succeeded after submit, got %+v calls=%d", snap, calls.Load())
	}
	if err := h.orch.Submit(context.Background()); !errors.Is(err, ErrNothingToSubmit) {
		t.Fatalf("expected ErrNothingToSubmit, got %v", err)
	}
}

func TestIdentityChangeSubmitsPendingFrames(t *testing.T) {
	server := backend(t, `{"code":0,"message":"ok"}`, nil)
	h := newHarness(t, harnessConfig{backendURL: server.URL})

	_ = h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Enroll})
	if h.orch.IdentityChanged() {
		t.Fatal("must not submit with an empty form")
	}

	h.form.Update(form.Fields{FirstName: "Jane", LastName: "Doe"})
	if !h.orch.IdentityChanged() {
		t.Fatal("expected a submission to start")
	}
	h.orch.Wait()
	if s := h.orch.Snapshot().State; s != Succeeded {
		t.Fatalf("expected Succeeded, got %s", s)
	}
}

func TestRetryReacquiresFreshStream(t *testing.T) {
	server := backend(t, `{"code":2,"message":"no face"}`, nil)
	h := newHarness(t, harnessConfig{backendURL: server.URL})

	_ = h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate})
	if s := h.orch.Snapshot(); s.State != Failed || s.Error.Code != outcome.NoFaceDetected {
		t.Fatalf("unexpected snapshot %+v", s)
	}

	first := h.platform.streams[0]
	for i := 0; i < 2; i++ {
		if err := h.orch.Retry(context.Background()); err != nil {
			t.Fatalf("Retry returned error: %v", err)
		}
	}

	snap := h.orch.Snapshot()
	if snap.State != Idle || snap.Outcome != nil || snap.Error != nil || snap.Frames != 0 {
		t.Fatalf("Retry must fully reset, got %+v", snap)
	}
	if len(h.platform.streams) != 3 || !first.stopped {
		t.Fatalf("expected fresh streams with the old one stopped, opened=%d", len(h.platform.streams))
	}
	if live := h.platform.live(); live != 1 {
		t.Fatalf("expected exactly one live stream, got %d", live)
	}
}

func TestInitFailureSurfacesDeviceCode(t *testing.T) {
	platform := &stubPlatform{devicesErr: errors.New("no v4l2")}
	h := newHarness(t, harnessConfig{backendURL: "http://127.0.0.1:1", platform: platform})

	snap := h.orch.Snapshot()
	if snap.State != Failed || snap.Error == nil || snap.Error.Code != outcome.DeviceEnumerationError {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate}); !errors.Is(err, ErrNeedsRetry) {
		t.Fatalf("expected ErrNeedsRetry, got %v", err)
	}
}

func TestPermissionDeniedOnInit(t *testing.T) {
	platform := &stubPlatform{openErr: map[string]error{"": device.ErrPermissionDenied}}
	h := newHarness(t, harnessConfig{backendURL: "http://127.0.0.1:1", platform: platform})

	if code := h.orch.Snapshot().Error.Code; code != outcome.PermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %s", code)
	}
}

func TestCaptureInterruptedDiscardsFrames(t *testing.T) {
	platform := &stubPlatform{snapErr: device.ErrStreamClosed}
	h := newHarness(t, harnessConfig{backendURL: "http://127.0.0.1:1", platform: platform})

	_ = h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate})

	snap := h.orch.Snapshot()
	if snap.State != Failed || snap.Error.Code != outcome.CaptureInterrupted || snap.Frames != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, ok := h.orch.Preview(); ok {
		t.Fatal("no preview expected after an interrupted capture")
	}
}

func TestSwitchDeviceFailureLeavesNoStream(t *testing.T) {
	platform := &stubPlatform{openErr: map[string]error{"cam-1": errors.New("busy")}}
	h := newHarness(t, harnessConfig{backendURL: "http://127.0.0.1:1", platform: platform})

	if err := h.orch.SwitchDevice(context.Background(), "cam-1"); err != nil {
		t.Fatalf("SwitchDevice returned error: %v", err)
	}
	snap := h.orch.Snapshot()
	if snap.State != Failed || snap.Error.Code != outcome.DeviceUnavailable {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.orch.ActiveStreams() != 0 || platform.live() != 0 {
		t.Fatal("failed switch must leave no live stream")
	}

	if err := h.orch.SwitchDevice(context.Background(), "cam-0"); err != nil {
		t.Fatalf("SwitchDevice returned error: %v", err)
	}
	if snap := h.orch.Snapshot(); snap.State != Idle || snap.Error != nil || snap.DeviceID != "cam-0" {
		t.Fatalf("expected Idle on cam-0, got %+v", snap)
	}
}

func TestSwitchDeviceKeepsAttemptFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	h := newHarness(t, harnessConfig{backendURL: server.URL, authTimeout: 50 * time.Millisecond})
	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate}); err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	failed := h.orch.Snapshot()
	if failed.State != Failed || failed.Error == nil || failed.Error.Code != outcome.Timeout {
		t.Fatalf("expected Failed with TIMEOUT, got %+v", failed)
	}

	if err := h.orch.SwitchDevice(context.Background(), "cam-1"); err != nil {
		t.Fatalf("SwitchDevice returned error: %v", err)
	}
	snap := h.orch.Snapshot()
	if snap.State != Failed || snap.Error == nil || snap.Error.Code != outcome.Timeout {
		t.Fatalf("a device switch must not clear an attempt failure, got %+v", snap)
	}
	if snap.DeviceID != "cam-1" || snap.AttemptID != failed.AttemptID {
		t.Fatalf("unexpected snapshot after switch %+v", snap)
	}
	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate}); !errors.Is(err, ErrNeedsRetry) {
		t.Fatalf("expected ErrNeedsRetry, got %v", err)
	}

	if err := h.orch.Retry(context.Background()); err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if snap := h.orch.Snapshot(); snap.State != Idle || snap.Error != nil || snap.Frames != 0 || snap.RequestTimeMs != 0 {
		t.Fatalf("expected a clean Idle after Retry, got %+v", snap)
	}
}

func TestAuthenticationIgnoresMultiFrameMode(t *testing.T) {
	server := backend(t, `{"code":0,"match":{"id":"u-1","score":0.9}}`, func(r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if len(r.MultipartForm.File["image"]) != 1 || len(r.MultipartForm.File["images"]) != 0 {
			t.Errorf("authentication must send one image part, got %v", r.MultipartForm.File)
		}
	})
	h := newHarness(t, harnessConfig{backendURL: server.URL})

	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate, Mode: packager.MultiFrame}); err != nil {
		t.Fatalf("Capture returned error: %v", err)
	}
	if snap := h.orch.Snapshot(); snap.State != Succeeded {
		t.Fatalf("expected Succeeded, got %+v", snap)
	}
}

func TestCloseWaitsForBackgroundCapture(t *testing.T) {
	sub := &blockingSubmitter{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, harnessConfig{submitter: sub})

	if err := h.orch.StartCapture(CaptureRequest{Route: verification.Authenticate}); err != nil {
		t.Fatalf("StartCapture returned error: %v", err)
	}
	<-sub.entered

	h.orch.Close()

	h.mu.Lock()
	seen := len(h.states)
	h.mu.Unlock()
	if h.platform.live() != 0 {
		t.Fatal("Close must release the stream")
	}
	if snap := h.orch.Snapshot(); snap.State != Failed {
		t.Fatalf("cancelled submission should have settled before Close returned, got %s", snap.State)
	}

	time.Sleep(20 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) != seen {
		t.Fatalf("state changed after Close: %v", h.states[seen:])
	}
	if err := h.orch.StartCapture(CaptureRequest{Route: verification.Authenticate}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestAttemptIsRecordedAndReadable(t *testing.T) {
	server := backend(t, `{"code":0,"match":{"id":"u-1","score":0.8},"anti_spoofing":{"is_real":true,"antispoof_score":0.9,"confidence":0.9}}`, nil)
	h := newHarness(t, harnessConfig{backendURL: server.URL})

	_ = h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate})
	attemptID := h.orch.Snapshot().AttemptID

	if len(h.repo.savedLogs) != 1 {
		t.Fatalf("expected one attempt log, got %d", len(h.repo.savedLogs))
	}
	saved := h.repo.savedLogs[0]
	if saved.AttemptID != attemptID || saved.Code != "SUCCESS" || saved.Route != "authenticate" || *saved.Score != 0.8 || !*saved.IsReal {
		t.Fatalf("unexpected log %+v", saved)
	}

	rec, err := h.orch.GetAttempt(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("GetAttempt returned error: %v", err)
	}
	if rec.Code != outcome.Success || h.repo.findCalls != 0 {
		t.Fatalf("expected cached record without repo lookup, got %+v calls=%d", rec, h.repo.findCalls)
	}
}

func TestGetAttemptFallsBackToRepository(t *testing.T) {
	h := newHarness(t, harnessConfig{backendURL: "http://127.0.0.1:1"})
	h.repo.findLog = &repository.AttemptLog{AttemptID: "att-7", Route: "enroll", Code: "STORAGE_ERROR", DurationMs: 42}

	rec, err := h.orch.GetAttempt(context.Background(), "att-7")
	if err != nil {
		t.Fatalf("GetAttempt returned error: %v", err)
	}
	if rec.Code != outcome.StorageError || rec.DurationMs != 42 || h.repo.findCalls != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := h.orch.GetAttempt(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditFailuresDoNotChangeOutcome(t *testing.T) {
	server := backend(t, `{"code":0,"message":"ok"}`, nil)
	h := newHarness(t, harnessConfig{backendURL: server.URL})
	h.repo.saveErr = errors.New("db down")
	h.cache.setErr = errors.New("redis down")
	h.form.Update(form.Fields{FirstName: "Jane", LastName: "Doe"})

	_ = h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Enroll})
	if s := h.orch.Snapshot().State; s != Succeeded {
		t.Fatalf("expected Succeeded despite audit failures, got %s", s)
	}
}

func TestSnapshotJSON(t *testing.T) {
	h := newHarness(t, harnessConfig{backendURL: "http://127.0.0.1:1"})
	raw, err := json.Marshal(h.orch.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	if decoded["state"] != "idle" || decoded["device_id"] != "cam-0" {
		t.Fatalf("unexpected snapshot json %s", raw)
	}
}

func TestClosedOrchestratorRejectsActions(t *testing.T) {
	h := newHarness(t, harnessConfig{backendURL: "http://127.0.0.1:1"})
	h.orch.Close()
	if err := h.orch.Capture(context.Background(), CaptureRequest{Route: verification.Authenticate}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if h.platform.live() != 0 {
		t.Fatal("Close must release the stream")
	}
}
