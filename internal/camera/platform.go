// Package camera implements the local capture platform: V4L2 devices read
// through an ffmpeg child process that emits MJPEG on stdout.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/faceid/internal/device"
)

// V4L2 lists /dev/video* nodes and streams them with ffmpeg.
type V4L2 struct {
	ffmpegPath string
	devDir     string
	sysfsDir   string
	logger     *zap.Logger
}

// NewV4L2 returns the local platform using the given ffmpeg binary.
func NewV4L2(ffmpegPath string, logger *zap.Logger) *V4L2 {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &V4L2{
		ffmpegPath: ffmpegPath,
		devDir:     "/dev",
		sysfsDir:   "/sys/class/video4linux",
		logger:     logger.Named("v4l2"),
	}
}

var _ device.Platform = (*V4L2)(nil)

// Devices lists capture nodes ordered by their index.
func (v *V4L2) Devices(ctx context.Context) ([]device.CaptureDevice, error) {
	if _, err := exec.LookPath(v.ffmpegPath); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}

	nodes, err := filepath.Glob(filepath.Join(v.devDir, "video*"))
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodeIndex(nodes[i]) < nodeIndex(nodes[j])
	})

	devices := make([]device.CaptureDevice, 0, len(nodes))
	for _, node := range nodes {
		name := filepath.Base(node)
		label := ""
		if raw, err := os.ReadFile(filepath.Join(v.sysfsDir, name, "name")); err == nil {
			label = strings.TrimSpace(string(raw))
		}
		devices = append(devices, device.CaptureDevice{ID: node, Label: label})
	}
	return devices, nil
}

// Open starts ffmpeg on deviceID. An empty id opens the first listed node.
func (v *V4L2) Open(ctx context.Context, deviceID string, hint device.Resolution) (device.Stream, error) {
	if deviceID == "" {
		devices, err := v.Devices(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
		}
		if len(devices) == 0 {
			return nil, fmt.Errorf("%w: no capture devices", device.ErrDeviceUnavailable)
		}
		deviceID = devices[0].ID
	}

	if err := probeNode(deviceID); err != nil {
		return nil, err
	}

	cmd := exec.Command(v.ffmpegPath, ffmpegArgs(deviceID, hint)...)
	return startStream(deviceID, cmd, v.logger)
}

func ffmpegArgs(node string, hint device.Resolution) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if hint.Width > 0 && hint.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", hint.Width, hint.Height))
	}
	return append(args, "-i", node, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "2", "-")
}

func probeNode(node string) error {
	f, err := os.OpenFile(node, os.O_RDWR, 0)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
		default:
			return fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
		}
	}
	return f.Close()
}

func nodeIndex(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return 1 << 30
	}
	return n
}
