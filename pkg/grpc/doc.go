// Package grpc implements the inbound gRPC listener.
//
// The listener owns one grpc.Server and its port exclusively. It serves
// inbound.EventService, compiled at startup from the embedded event.proto
// and handled with dynamicpb messages:
//
//   - process: runs the sequence synchronously and returns its response
//   - consume: hands the event off and returns google.protobuf.Empty
//   - consumeStream: hands off every event of a client stream
//
// Admission is enforced by unary and stream interceptors. While the
// listener is paused, connections are still accepted but every new call
// fails with codes.Unavailable carrying an errdetails.RetryInfo.
//
// Parameters:
//
//	port            listening port (default 8888, 0 picks a free port)
//	host            bind address (default all interfaces)
//	reflection      register server reflection (default false)
//	maxRecvMsgSize  maximum request size in bytes (default grpc default)
//	contentType     content type when the event has no Content-Type header
//	                (default application/json)
package grpc
