package api

import (
	"time"

	"github.com/getmockd/inbound/pkg/httputil"
	"github.com/getmockd/inbound/pkg/protocol"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Listeners int       `json:"listeners"`
}

// ListenersResponse is returned by GET /listeners.
type ListenersResponse struct {
	Listeners []protocol.Status `json:"listeners"`
	Count     int               `json:"count"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse = httputil.ErrorBody

// Action is a lifecycle transition exposed over POST.
type Action string

// Supported actions.
const (
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
)
