package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
)

// gated reports whether a method is subject to admission control. Server
// reflection stays available while paused.
func gated(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/"+ServiceName+"/")
}

func (l *Listener) unaryAdmission(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !gated(info.FullMethod) {
		return handler(ctx, req)
	}
	release, ok := l.Admit()
	if !ok {
		return nil, pausedStatus(l.Name())
	}
	defer release()
	return handler(ctx, req)
}

func (l *Listener) streamAdmission(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if !gated(info.FullMethod) {
		return handler(srv, ss)
	}
	release, ok := l.Admit()
	if !ok {
		return pausedStatus(l.Name())
	}
	defer release()
	return handler(srv, ss)
}
