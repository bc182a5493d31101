// Package usecase sequences device, capture, packaging, submission and
// normalization for one kiosk session.
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/capture"
	"github.com/example/faceid/internal/device"
	"github.com/example/faceid/internal/logging"
	"github.com/example/faceid/internal/metrics"
	"github.com/example/faceid/internal/outcome"
	"github.com/example/faceid/internal/packager"
	"github.com/example/faceid/internal/repository"
	"github.com/example/faceid/internal/retry"
	"github.com/example/faceid/internal/verification"
)

// Devices is the device manager owned by the session.
type Devices interface {
	ListDevices(ctx context.Context) ([]device.CaptureDevice, error)
	AcquireStream(ctx context.Context, deviceID string) (device.Stream, error)
	SwitchDevice(ctx context.Context, deviceID string) (device.Stream, error)
	Active() device.Stream
	Selected() string
	Release()
}

// Capturer takes one burst from a stream.
type Capturer interface {
	Capture(ctx context.Context, stream capture.Sampler, opts capture.Options, onCountdown capture.CountdownFunc) (capture.FrameSet, error)
}

// Packager builds transport payloads.
type Packager interface {
	Package(frames capture.FrameSet, mode packager.Mode, identity *packager.Identity) (*packager.Payload, error)
}

// Submitter sends a payload to the verification service.
type Submitter interface {
	Submit(ctx context.Context, payload *packager.Payload, route verification.Route) ([]byte, error)
}

// Normalizer turns a raw response into an outcome.
type Normalizer interface {
	Normalize(raw []byte, route verification.Route) (outcome.Outcome, error)
}

// IdentitySource reports the enrollment identity and whether it may be submitted.
type IdentitySource interface {
	Identity() (packager.Identity, bool)
}

// AttemptRepository defines the persistence operations needed by the orchestrator.
type AttemptRepository interface {
	SaveLog(ctx context.Context, log *repository.AttemptLog) error
	FindByAttemptID(ctx context.Context, attemptID string) (*repository.AttemptLog, error)
}

// Dependencies wires the orchestrator. Repo, Cache and Metrics are optional.
type Dependencies struct {
	Devices    Devices
	Capturer   Capturer
	Packager   Packager
	Submitter  Submitter
	Normalizer Normalizer
	Identity   IdentitySource
	Repo       AttemptRepository
	Cache      Cache
	Metrics    *metrics.Metrics
}

// Options tunes the workflow.
type Options struct {
	EnrollCapture       capture.Options
	AuthenticateCapture capture.Options
	// OnChange is called after every state change with a fresh snapshot.
	OnChange func(Snapshot)
}

// CaptureRequest starts one attempt.
type CaptureRequest struct {
	Route verification.Route
	// Mode selects which frames are sent. Zero is single-frame.
	Mode packager.Mode
}

// Orchestrator is the single owner of workflow state for one session. All
// actions are serialized: at most one capture or submission is in flight.
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger *zap.Logger

	now   func() time.Time
	newID func() string

	// base is cancelled by Close and parents background actions.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cacheRetry retry.Policy
	cacheTTL   time.Duration

	mu          sync.Mutex
	closed      bool
	state       State
	route       verification.Route
	mode        packager.Mode
	countdown   int
	frames      capture.FrameSet
	pending     bool
	result      *outcome.Outcome
	failure     *ErrorInfo
	// cameraFault marks a failure raised while opening a stream rather than
	// during an attempt. Only such a failure is cleared by a working device.
	cameraFault bool
	attemptID   string
	requestTime time.Duration
}

// New constructs an orchestrator in Idle. Call Init before the first capture.
func New(deps Dependencies, opts Options, logger *zap.Logger) *Orchestrator {
	if deps.Cache == nil {
		deps.Cache = nopCache{}
	}
	if deps.Repo == nil {
		deps.Repo = nopRepository{}
	}
	if opts.EnrollCapture.FrameCount == 0 {
		opts.EnrollCapture = capture.EnrollmentOptions()
	}
	if opts.AuthenticateCapture.FrameCount == 0 {
		opts.AuthenticateCapture = capture.AuthenticationOptions()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:       deps,
		opts:       opts,
		logger:     logger.Named("orchestrator"),
		now:        time.Now,
		newID:      uuid.NewString,
		base:       base,
		cancel:     cancel,
		cacheRetry: cacheRetryPolicy(),
		cacheTTL:   5 * time.Minute,
	}
}

// Snapshot returns the current read-only view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         o.state,
		Countdown:     o.countdown,
		Frames:        len(o.frames),
		Pending:       o.pending,
		AttemptID:     o.attemptID,
		DeviceID:      o.deps.Devices.Selected(),
		RequestTime:   o.requestTime,
		RequestTimeMs: o.requestTime.Milliseconds(),
	}
	if o.state != Idle || o.pending || o.result != nil {
		snap.Route = o.route.String()
	}
	if o.result != nil {
		res := *o.result
		snap.Outcome = &res
	}
	if o.failure != nil {
		f := *o.failure
		snap.Error = &f
	}
	return snap
}

// Preview returns the last captured frame.
func (o *Orchestrator) Preview() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	frame, ok := o.frames.Preview()
	return frame.Data, ok
}

// ActiveStreams returns the number of live streams, zero or one.
func (o *Orchestrator) ActiveStreams() int {
	if o.deps.Devices.Active() != nil {
		return 1
	}
	return 0
}

// Devices lists capture devices and the current selection.
func (o *Orchestrator) Devices(ctx context.Context) ([]device.CaptureDevice, string, error) {
	devices, err := o.deps.Devices.ListDevices(ctx)
	if err != nil {
		return nil, "", err
	}
	return devices, o.deps.Devices.Selected(), nil
}

// Init enumerates devices and acquires the first stream. It is the same
// transition as Retry. Camera failures are reported through the snapshot.
func (o *Orchestrator) Init(ctx context.Context) error {
	return o.reset(ctx, "usecase.init")
}

// Retry discards frames, outcome and error and re-acquires a fresh stream.
// It may be called from any state that has no action in flight, any number of times.
func (o *Orchestrator) Retry(ctx context.Context) error {
	return o.reset(ctx, "usecase.retry")
}

func (o *Orchestrator) reset(ctx context.Context, operation string) error {
	o.mu.Lock()
	if err := o.guardLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = Initializing
	o.clearLocked()
	o.attemptID = ""
	o.mu.Unlock()
	o.notify()

	opLogger := logging.WithOperation(o.logger, operation, "")
	err := o.acquire(ctx)

	o.mu.Lock()
	if err != nil {
		info := classify(err)
		o.state = Failed
		o.failure = &info
		o.cameraFault = true
		opLogger.Warn("camera unavailable", zap.String("code", string(info.Code)), zap.Error(err))
	} else {
		o.state = Idle
	}
	o.mu.Unlock()
	o.notify()
	o.deps.Metrics.SetActiveStreams(o.ActiveStreams())
	return nil
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	if _, err := o.deps.Devices.ListDevices(ctx); err != nil {
		return err
	}
	_, err := o.deps.Devices.AcquireStream(ctx, "")
	return err
}

// SwitchDevice changes the camera. The old stream is stopped first; when the
// new one cannot be opened the session is left without a stream in Failed.
func (o *Orchestrator) SwitchDevice(ctx context.Context, deviceID string) error {
	o.mu.Lock()
	if err := o.guardLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = Initializing
	o.mu.Unlock()
	o.notify()

	_, err := o.deps.Devices.SwitchDevice(ctx, deviceID)

	o.mu.Lock()
	if err != nil {
		info := classify(err)
		o.state = Failed
		o.failure = &info
		o.cameraFault = true
		o.logger.Warn("device switch failed", zap.String("device_id", deviceID), zap.Error(err))
	} else if o.cameraFault {
		o.failure = nil
		o.cameraFault = false
		o.state = Idle
	} else {
		o.state = o.settledStateLocked()
	}
	o.mu.Unlock()
	o.notify()
	o.deps.Metrics.SetActiveStreams(o.ActiveStreams())
	return nil
}

// settledStateLocked is the state implied by the current outcome.
func (o *Orchestrator) settledStateLocked() State {
	switch {
	case o.result != nil && o.result.Succeeded():
		return Succeeded
	case o.result != nil || o.failure != nil:
		return Failed
	default:
		return Idle
	}
}

// Capture runs one attempt to completion: burst, then submission when the
// route allows it. The returned error is only for rejected actions; pipeline
// failures land in the snapshot.
func (o *Orchestrator) Capture(ctx context.Context, req CaptureRequest) error {
	if err := o.begin(req); err != nil {
		return err
	}
	defer o.wg.Done()
	o.run(ctx, req)
	return nil
}

// StartCapture is Capture with the pipeline running in the background. The
// state transition to Capturing has happened when it returns.
func (o *Orchestrator) StartCapture(req CaptureRequest) error {
	if err := o.begin(req); err != nil {
		return err
	}
	go func() {
		defer o.wg.Done()
		o.run(o.base, req)
	}()
	return nil
}

// begin moves to Capturing and registers the action with wg; the caller must
// call wg.Done when the action ends.
func (o *Orchestrator) begin(req CaptureRequest) error {
	o.mu.Lock()
	if err := o.guardLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	if o.state != Idle {
		o.mu.Unlock()
		return ErrNeedsRetry
	}
	o.clearLocked()
	o.state = Capturing
	o.route = req.Route
	o.mode = req.Mode
	if req.Route == verification.Authenticate {
		// Authentication always sends the single last frame.
		o.mode = packager.SingleFrame
	}
	o.attemptID = o.newID()
	o.wg.Add(1)
	o.mu.Unlock()
	o.notify()
	return nil
}

func (o *Orchestrator) run(ctx context.Context, req CaptureRequest) {
	attemptID := o.currentAttempt()
	opLogger := logging.WithOperation(o.logger, "usecase.capture", attemptID).With(zap.String("route", req.Route.String()))

	opts := o.opts.AuthenticateCapture
	if req.Route == verification.Enroll {
		opts = o.opts.EnrollCapture
	}

	stream := o.deps.Devices.Active()
	if stream == nil {
		o.fail(fmt.Errorf("%w: no active stream", device.ErrDeviceUnavailable), opLogger)
		o.deps.Metrics.ObserveCapture(req.Route.String(), false)
		return
	}

	frames, err := o.deps.Capturer.Capture(ctx, stream, opts, o.setCountdown)
	o.deps.Metrics.ObserveCapture(req.Route.String(), err == nil)
	if err != nil {
		o.fail(err, opLogger)
		return
	}
	opLogger.Info("burst captured", zap.Int("frames", len(frames)))

	o.mu.Lock()
	o.frames = frames
	o.countdown = 0
	if req.Route == verification.Enroll {
		if _, ok := o.identity(); !ok {
			// Frames wait for the identity form; Submit or an identity
			// change picks them up.
			o.state = Idle
			o.pending = true
			o.mu.Unlock()
			o.notify()
			opLogger.Info("waiting for identity form")
			return
		}
	}
	o.state = Submitting
	o.mu.Unlock()
	o.notify()

	o.submit(ctx, req.Route, frames, attemptID)
}

// Submit sends enrollment frames that were captured while the identity form
// was incomplete.
func (o *Orchestrator) Submit(ctx context.Context) error {
	frames, attemptID, err := o.beginPendingSubmit()
	if err != nil {
		return err
	}
	defer o.wg.Done()
	o.submit(ctx, verification.Enroll, frames, attemptID)
	return nil
}

// StartSubmit is Submit with the request running in the background.
func (o *Orchestrator) StartSubmit() error {
	frames, attemptID, err := o.beginPendingSubmit()
	if err != nil {
		return err
	}
	go func() {
		defer o.wg.Done()
		o.submit(o.base, verification.Enroll, frames, attemptID)
	}()
	return nil
}

// IdentityChanged submits waiting enrollment frames in the background once
// the identity form turns valid. It reports whether a submission started.
func (o *Orchestrator) IdentityChanged() bool {
	return o.StartSubmit() == nil
}

func (o *Orchestrator) beginPendingSubmit() (capture.FrameSet, string, error) {
	o.mu.Lock()
	if err := o.guardLocked(); err != nil {
		o.mu.Unlock()
		return nil, "", err
	}
	if !o.pending || o.state != Idle || len(o.frames) == 0 {
		o.mu.Unlock()
		return nil, "", ErrNothingToSubmit
	}
	if _, ok := o.identity(); !ok {
		o.mu.Unlock()
		return nil, "", ErrIncompleteIdentity
	}
	o.pending = false
	o.state = Submitting
	frames, attemptID := o.frames, o.attemptID
	o.wg.Add(1)
	o.mu.Unlock()
	o.notify()
	return frames, attemptID, nil
}

func (o *Orchestrator) submit(ctx context.Context, route verification.Route, frames capture.FrameSet, attemptID string) {
	opLogger := logging.WithOperation(o.logger, "usecase.submit", attemptID).With(zap.String("route", route.String()))

	var identity *packager.Identity
	if route == verification.Enroll {
		id, ok := o.identity()
		if !ok {
			o.fail(ErrIncompleteIdentity, opLogger)
			return
		}
		identity = &id
	}

	o.mu.Lock()
	mode := o.mode
	o.mu.Unlock()

	payload, err := o.deps.Packager.Package(frames, mode, identity)
	if err != nil {
		o.fail(fmt.Errorf("%w: %v", errPackaging, err), opLogger)
		return
	}

	started := o.now()
	raw, err := o.deps.Submitter.Submit(verification.WithRequestID(ctx, attemptID), payload, route)
	elapsed := o.now().Sub(started)
	o.deps.Metrics.ObserveSubmit(route.String(), elapsed)

	o.mu.Lock()
	o.requestTime = elapsed
	o.mu.Unlock()

	if err != nil {
		info := o.fail(err, opLogger)
		o.record(ctx, route, attemptID, info.Code, nil, elapsed)
		return
	}

	result, err := o.deps.Normalizer.Normalize(raw, route)
	if err != nil {
		info := o.fail(err, opLogger)
		o.record(ctx, route, attemptID, info.Code, nil, elapsed)
		return
	}

	o.mu.Lock()
	o.result = &result
	if result.Succeeded() {
		o.state = Succeeded
		o.failure = nil
	} else {
		o.state = Failed
		o.failure = &ErrorInfo{Code: result.Code, Message: result.Message}
	}
	o.mu.Unlock()
	o.notify()

	opLogger.Info("attempt resolved", zap.String("code", string(result.Code)), zap.Duration("request_time", elapsed))
	o.deps.Metrics.ObserveOutcome(route.String(), string(result.Code))
	o.record(ctx, route, attemptID, result.Code, &result, elapsed)
}

// fail moves the session to Failed with err classified.
func (o *Orchestrator) fail(err error, opLogger *zap.Logger) ErrorInfo {
	info := classify(err)
	o.mu.Lock()
	o.state = Failed
	o.failure = &info
	o.countdown = 0
	route := o.route
	o.mu.Unlock()
	o.notify()

	opLogger.Warn("attempt failed", zap.String("code", string(info.Code)), zap.Error(err))
	o.deps.Metrics.ObserveOutcome(route.String(), string(info.Code))
	return info
}

func (o *Orchestrator) identity() (packager.Identity, bool) {
	if o.deps.Identity == nil {
		return packager.Identity{}, false
	}
	return o.deps.Identity.Identity()
}

func (o *Orchestrator) setCountdown(remaining int) {
	o.mu.Lock()
	o.countdown = remaining
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) currentAttempt() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attemptID
}

func (o *Orchestrator) guardLocked() error {
	if o.closed {
		return ErrClosed
	}
	if o.state.InFlight() {
		return ErrBusy
	}
	return nil
}

func (o *Orchestrator) clearLocked() {
	o.frames = nil
	o.pending = false
	o.result = nil
	o.failure = nil
	o.cameraFault = false
	o.countdown = 0
	o.requestTime = 0
}

func (o *Orchestrator) notify() {
	if o.opts.OnChange == nil {
		return
	}
	o.opts.OnChange(o.Snapshot())
}

// Wait blocks until running captures and submissions have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels background work and releases the camera.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
	o.deps.Devices.Release()
	o.deps.Metrics.SetActiveStreams(0)
}
