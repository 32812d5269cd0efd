package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SceneServiceName is the fully qualified gRPC service name.
const SceneServiceName = "cloudmotion.visualiser.SceneService"

const streamScenesMethod = "/" + SceneServiceName + "/StreamScenes"

// SceneServiceServer is the server API for the scene stream. The request
// may carry a "kind" string field ("dynamic" or "detection") to subscribe
// to one pipeline only; an empty request subscribes to both.
type SceneServiceServer interface {
	StreamScenes(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// SceneServiceDesc describes the scene service for grpc.Server.RegisterService.
// Messages are well-known Struct values, so no generated code is needed.
var SceneServiceDesc = grpc.ServiceDesc{
	ServiceName: SceneServiceName,
	HandlerType: (*SceneServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamScenes",
			Handler:       streamScenesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "cloudmotion/visualiser/scene.proto",
}

func streamScenesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SceneServiceServer).StreamScenes(req, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// RegisterSceneService registers srv on s.
func RegisterSceneService(s grpc.ServiceRegistrar, srv SceneServiceServer) {
	s.RegisterService(&SceneServiceDesc, srv)
}

// SubscribeRequest builds a StreamScenes request. An empty kind subscribes
// to every scene kind.
func SubscribeRequest(kind string) *structpb.Struct {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if kind != "" {
		req.Fields["kind"] = structpb.NewStringValue(kind)
	}
	return req
}

// StreamScenes opens a scene stream on cc.
func StreamScenes(ctx context.Context, cc grpc.ClientConnInterface, req *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := cc.NewStream(ctx, &SceneServiceDesc.Streams[0], streamScenesMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
