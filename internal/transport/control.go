package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"tributary/source/nakadi"
)

const (
	ControlService = "tributary.v1.Control"

	controlPauseMethod  = "/" + ControlService + "/Pause"
	controlResumeMethod = "/" + ControlService + "/Resume"
	controlStatusMethod = "/" + ControlService + "/Status"
)

// Controller is the part of a running pipeline the control service drives.
type Controller interface {
	SetPaused(bool)
	Paused() bool
	State() nakadi.State
	EventType() string
	Delivered() uint64
	DecodeErrors() uint64
}

// RegisterControl exposes Pause, Resume and Status for c. Call it before Serve.
func (s *Server) RegisterControl(c Controller) {
	s.grpc.RegisterService(&controlServiceDesc, &controlServer{c: c})
}

type controlServer struct {
	c Controller
}

func (s *controlServer) pause(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s.c.SetPaused(true)
	return s.status()
}

func (s *controlServer) resume(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s.c.SetPaused(false)
	return s.status()
}

func (s *controlServer) statusRPC(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return s.status()
}

// status reports the requested pause flag; the reader state follows it
// within one pause interval.
func (s *controlServer) status() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"event_type":    s.c.EventType(),
		"paused":        s.c.Paused(),
		"state":         s.c.State().String(),
		"delivered":     float64(s.c.Delivered()),
		"decode_errors": float64(s.c.DecodeErrors()),
	})
}

func controlHandler(method string, call func(*controlServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(*controlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(*controlServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlService,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Pause", Handler: controlHandler(controlPauseMethod, (*controlServer).pause)},
		{MethodName: "Resume", Handler: controlHandler(controlResumeMethod, (*controlServer).resume)},
		{MethodName: "Status", Handler: controlHandler(controlStatusMethod, (*controlServer).statusRPC)},
	},
	Streams: []grpc.StreamDesc{},
}

// Pause asks the engine at addr to drop its stream until resumed.
func Pause(ctx context.Context, addr string) (*structpb.Struct, error) {
	return invokeControl(ctx, addr, controlPauseMethod)
}

func Resume(ctx context.Context, addr string) (*structpb.Struct, error) {
	return invokeControl(ctx, addr, controlResumeMethod)
}

func Status(ctx context.Context, addr string) (*structpb.Struct, error) {
	return invokeControl(ctx, addr, controlStatusMethod)
}

func invokeControl(ctx context.Context, addr, method string) (*structpb.Struct, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, &emptypb.Empty{}, out, grpc.StaticMethod()); err != nil {
		return nil, err
	}
	return out, nil
}
