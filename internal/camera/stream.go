package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/example/faceid/internal/device"
)

// ffmpegStream keeps the newest frame decoded from a running ffmpeg process.
type ffmpegStream struct {
	deviceID string
	cmd      *exec.Cmd
	stderr   *bytes.Buffer
	logger   *zap.Logger

	mu     sync.Mutex
	latest []byte
	ready  chan struct{}
	done   chan struct{}

	readyOnce sync.Once
	stopOnce  sync.Once
}

func startStream(deviceID string, cmd *exec.Cmd, logger *zap.Logger) (*ffmpegStream, error) {
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
	}

	s := &ffmpegStream{
		deviceID: deviceID,
		cmd:      cmd,
		stderr:   stderr,
		logger:   logger.With(zap.String("device_id", deviceID)),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		err := readFrames(stdout, s.publish)
		if err != nil {
			s.logger.Warn("frame reader stopped", zap.Error(err))
		}
	}()
	return s, nil
}

func (s *ffmpegStream) publish(frame []byte) {
	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *ffmpegStream) DeviceID() string { return s.deviceID }

// Snapshot waits for the first frame, then returns the newest one. Once the
// process has exited the stream is invalid.
func (s *ffmpegStream) Snapshot(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
		return nil, device.ErrStreamClosed
	default:
	}

	select {
	case <-s.ready:
	case <-s.done:
		return nil, device.ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

// Stop kills ffmpeg and reaps it so the device node is released.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.done
		if err := s.cmd.Wait(); err != nil && s.stderr.Len() > 0 {
			s.logger.Debug("ffmpeg exited", zap.String("stderr", s.stderr.String()))
		}
	})
	return nil
}
