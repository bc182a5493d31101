package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/faceid/internal/device"
	"github.com/example/faceid/internal/logging"
)

// ServiceName is the fully qualified gRPC service exposed by a camera agent.
const ServiceName = "faceid.camera.v1.CameraAgent"

const (
	methodListDevices = "/" + ServiceName + "/ListDevices"
	methodOpen        = "/" + ServiceName + "/Open"
	methodSnapshot    = "/" + ServiceName + "/Snapshot"
	methodClose       = "/" + ServiceName + "/Close"
)

// DialCameraAgent returns a device.Platform backed by a remote camera agent.
// The messages are protobuf well-known types so no generated stubs are needed.
func DialCameraAgent(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*CameraAgent, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_camera_agent", "", err)
		logger.Error("failed to dial camera agent", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &CameraAgent{conn: conn, logger: logger.Named("camera_agent")}, conn, nil
}

// CameraAgent implements device.Platform over gRPC.
type CameraAgent struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

var _ device.Platform = (*CameraAgent)(nil)

// Devices calls ListDevices, which answers with a list of {id, label} structs.
func (a *CameraAgent) Devices(ctx context.Context) ([]device.CaptureDevice, error) {
	out := &structpb.ListValue{}
	if err := a.conn.Invoke(ctx, methodListDevices, &emptypb.Empty{}, out); err != nil {
		a.logger.Error("list devices failed", zap.Error(err))
		return nil, mapStatus(err)
	}

	devices := make([]device.CaptureDevice, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		fields := v.GetStructValue().GetFields()
		id := fields["id"].GetStringValue()
		if id == "" {
			continue
		}
		devices = append(devices, device.CaptureDevice{ID: id, Label: fields["label"].GetStringValue()})
	}
	return devices, nil
}

// Open asks the agent to start streaming deviceID and returns a handle-bound stream.
func (a *CameraAgent) Open(ctx context.Context, deviceID string, hint device.Resolution) (device.Stream, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"device_id": deviceID,
		"width":     hint.Width,
		"height":    hint.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
	}

	handle := &wrapperspb.StringValue{}
	if err := a.conn.Invoke(ctx, methodOpen, req, handle); err != nil {
		a.logger.Error("open failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil, mapStatus(err)
	}
	if deviceID == "" {
		deviceID = handle.GetValue()
	}
	return &agentStream{agent: a, handle: handle.GetValue(), deviceID: deviceID}, nil
}

type agentStream struct {
	agent    *CameraAgent
	handle   string
	deviceID string
}

func (s *agentStream) DeviceID() string { return s.deviceID }

func (s *agentStream) Snapshot(ctx context.Context) ([]byte, error) {
	out := &wrapperspb.BytesValue{}
	if err := s.agent.conn.Invoke(ctx, methodSnapshot, wrapperspb.String(s.handle), out); err != nil {
		switch status.Code(err) {
		case codes.NotFound, codes.FailedPrecondition, codes.Unavailable:
			return nil, fmt.Errorf("%w: %v", device.ErrStreamClosed, err)
		}
		return nil, err
	}
	return out.GetValue(), nil
}

// Stop closes the remote handle. A handle the agent no longer knows is already stopped.
func (s *agentStream) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.agent.conn.Invoke(ctx, methodClose, wrapperspb.String(s.handle), &emptypb.Empty{})
	if err != nil && status.Code(err) != codes.NotFound {
		return logging.NewOperationError("grpcclient.close_stream", "", err)
	}
	return nil
}

func mapStatus(err error) error {
	switch status.Code(err) {
	case codes.Unimplemented:
		return fmt.Errorf("%w: %v", device.ErrEnumeration, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
	}
}
