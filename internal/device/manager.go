package device

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager holds the device list, the current selection and at most one live stream.
type Manager struct {
	platform Platform
	hint     Resolution
	logger   *zap.Logger

	mu       sync.Mutex
	devices  []CaptureDevice
	listed   bool
	selected string
	active   Stream
}

// NewManager returns a Manager for one session.
func NewManager(platform Platform, hint Resolution, logger *zap.Logger) *Manager {
	return &Manager{
		platform: platform,
		hint:     hint,
		logger:   logger.Named("device_manager"),
	}
}

// ListDevices enumerates the platform once and returns the cached list afterwards.
// Re-enumeration requires a fresh Manager.
func (m *Manager) ListDevices(ctx context.Context) ([]CaptureDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listed {
		return append([]CaptureDevice(nil), m.devices...), nil
	}

	devices, err := m.platform.Devices(ctx)
	if err != nil {
		m.logger.Error("device enumeration failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	listed := make([]CaptureDevice, len(devices))
	for i, d := range devices {
		if d.Label == "" {
			d.Label = fmt.Sprintf("Camera %d", i+1)
		}
		listed[i] = d
	}
	m.devices = listed
	m.listed = true
	m.logger.Info("devices enumerated", zap.Int("count", len(listed)))
	return append([]CaptureDevice(nil), listed...), nil
}

// AcquireStream opens a stream on deviceID, or on the current selection when
// deviceID is empty. Any stream already held is stopped first.
func (m *Manager) AcquireStream(ctx context.Context, deviceID string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if deviceID == "" {
		deviceID = m.selected
	}
	if err := m.checkKnownLocked(deviceID); err != nil {
		return nil, err
	}

	m.stopActiveLocked()

	stream, err := m.platform.Open(ctx, deviceID, m.hint)
	if err != nil {
		m.logger.Error("stream acquisition failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil, err
	}
	m.active = stream
	m.selected = stream.DeviceID()
	m.logger.Info("stream acquired", zap.String("device_id", m.selected))
	return stream, nil
}

// SwitchDevice tears down the current stream and opens deviceID. If the new
// stream cannot be opened the old one is not restored and no stream is active.
func (m *Manager) SwitchDevice(ctx context.Context, deviceID string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopActiveLocked()
	m.selected = deviceID

	if err := m.checkKnownLocked(deviceID); err != nil {
		return nil, err
	}

	stream, err := m.platform.Open(ctx, deviceID, m.hint)
	if err != nil {
		m.logger.Error("device switch failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	m.active = stream
	m.logger.Info("switched device", zap.String("device_id", deviceID))
	return stream, nil
}

// Active returns the live stream, or nil.
func (m *Manager) Active() Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Selected returns the id of the selected device. Empty means platform default.
func (m *Manager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Release stops the live stream, if any.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopActiveLocked()
}

func (m *Manager) checkKnownLocked(deviceID string) error {
	if deviceID == "" || !m.listed {
		return nil
	}
	for _, d := range m.devices {
		if d.ID == deviceID {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown device %q", ErrDeviceUnavailable, deviceID)
}

func (m *Manager) stopActiveLocked() {
	if m.active == nil {
		return
	}
	if err := m.active.Stop(); err != nil {
		m.logger.Warn("stream stop reported an error", zap.String("device_id", m.active.DeviceID()), zap.Error(err))
	}
	m.active = nil
}
