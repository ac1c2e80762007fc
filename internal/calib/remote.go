package calib

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc
// The calibration service carries structpb messages so no generated stubs are
// needed. Lookup request fields: name, variation, vars {label: [values]}.
// Response: values [..]. Describe request: name. Response: labels [..].
const (
	serviceName    = "stau.calib.v1.CalibrationService"
	lookupMethod   = "/" + serviceName + "/Lookup"
	describeMethod = "/" + serviceName + "/Describe"
)

// CalibrationServer is the server side of the calibration service.
type CalibrationServer interface {
	Lookup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Describe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func lookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalibrationServer).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lookupMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CalibrationServer).Lookup(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalibrationServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CalibrationServer).Describe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the calibration service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CalibrationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Lookup", Handler: lookupHandler},
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// #endregion service-desc

// #region server
// Server exposes a Provider over gRPC.
type Server struct {
	provider Provider
}

// NewServer wraps a provider.
func NewServer(p Provider) *Server {
	return &Server{provider: p}
}

// Register attaches the service to a gRPC server.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
}

func (s *Server) Lookup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	name := fields["name"].GetStringValue()
	variation := fields["variation"].GetStringValue()
	vars := map[string][]float64{}
	for label, v := range fields["vars"].GetStructValue().GetFields() {
		list := v.GetListValue().GetValues()
		col := make([]float64, len(list))
		for i, x := range list {
			col[i] = x.GetNumberValue()
		}
		vars[label] = col
	}

	values, err := s.provider.Lookup(ctx, name, vars, variation)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]*structpb.Value, len(values))
	for i, v := range values {
		out[i] = structpb.NewNumberValue(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"values": structpb.NewListValue(&structpb.ListValue{Values: out}),
	}}, nil
}

func (s *Server) Describe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	labels, err := s.provider.Describe(ctx, req.GetFields()["name"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]*structpb.Value, len(labels))
	for i, l := range labels {
		out[i] = structpb.NewStringValue(l)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"labels": structpb.NewListValue(&structpb.ListValue{Values: out}),
	}}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrMissingCalibration):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrBadVariable):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// #endregion server

// #region client
// RemoteProvider is a Provider backed by a calibration service.
type RemoteProvider struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// NewRemoteProvider connects to a calibration service at addr.
func NewRemoteProvider(addr string) (*RemoteProvider, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteProvider{conn: conn, cc: conn}, nil
}

// NewRemoteProviderWithConn uses an existing connection. The caller owns it.
func NewRemoteProviderWithConn(cc grpc.ClientConnInterface) *RemoteProvider {
	return &RemoteProvider{cc: cc}
}

// Close shuts down a connection opened by NewRemoteProvider.
func (r *RemoteProvider) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *RemoteProvider) Lookup(ctx context.Context, name string, vars map[string][]float64, variation string) ([]float64, error) {
	varFields := make(map[string]*structpb.Value, len(vars))
	for label, col := range vars {
		list := make([]*structpb.Value, len(col))
		for i, x := range col {
			list[i] = structpb.NewNumberValue(x)
		}
		varFields[label] = structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":      structpb.NewStringValue(name),
		"variation": structpb.NewStringValue(variation),
		"vars":      structpb.NewStructValue(&structpb.Struct{Fields: varFields}),
	}}
	resp := new(structpb.Struct)
	if err := r.cc.Invoke(ctx, lookupMethod, req, resp); err != nil {
		return nil, fromStatus("lookup rpc", name, err)
	}
	list := resp.GetFields()["values"].GetListValue().GetValues()
	out := make([]float64, len(list))
	for i, v := range list {
		out[i] = v.GetNumberValue()
	}
	return out, nil
}

func (r *RemoteProvider) Describe(ctx context.Context, name string) ([]string, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"name": structpb.NewStringValue(name),
	}}
	resp := new(structpb.Struct)
	if err := r.cc.Invoke(ctx, describeMethod, req, resp); err != nil {
		return nil, fromStatus("describe rpc", name, err)
	}
	list := resp.GetFields()["labels"].GetListValue().GetValues()
	out := make([]string, len(list))
	for i, v := range list {
		out[i] = v.GetStringValue()
	}
	return out, nil
}

func fromStatus(op, name string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s %s: %w", op, name, ErrMissingCalibration)
	case codes.InvalidArgument:
		return fmt.Errorf("%s %s: %w: %s", op, name, ErrBadVariable, status.Convert(err).Message())
	default:
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
}

// #endregion client
