package websocket

import "errors"

var (
	// ErrPortSecurityMismatch is returned when a plain and a TLS listener
	// ask for the same port.
	ErrPortSecurityMismatch = errors.New("port is already bound with a different TLS setting")
	// ErrPathInUse is returned when the (port, path) route is taken.
	ErrPathInUse = errors.New("path is already registered on this port")
	// ErrRouteNotFound is returned when releasing an unknown route.
	ErrRouteNotFound = errors.New("route not found")
)
