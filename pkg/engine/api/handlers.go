package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/httputil"
	"github.com/getmockd/inbound/pkg/protocol"
)

const maxRequestBodySize = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Listeners: len(s.ctrl.List()),
	})
}

func (s *Server) handleListListeners(w http.ResponseWriter, _ *http.Request) {
	list := s.ctrl.List()
	writeJSON(w, http.StatusOK, ListenersResponse{Listeners: list, Count: len(list)})
}

func (s *Server) handleGetListener(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status(r.PathValue("name"))
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var cfg config.ListenerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	l, err := s.ctrl.Deploy(r.Context(), cfg)
	if err != nil {
		s.log.Warn("deploy failed", "listener", cfg.Name, "error", err)
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.StatusOf(l))
}

// handleUndeploy drains on a context detached from the request so a client
// that disconnects does not cut the drain short.
func (s *Server) handleUndeploy(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Undeploy(context.WithoutCancel(r.Context()), r.PathValue("name")); err != nil {
		writeControlError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var err error
	switch Action(r.PathValue("action")) {
	case ActionPause:
		err = s.ctrl.Pause(name)
	case ActionResume:
		err = s.ctrl.Resume(r.Context(), name)
	case ActionActivate:
		err = s.ctrl.Activate(r.Context(), name)
	case ActionDeactivate:
		err = s.ctrl.Deactivate(context.WithoutCancel(r.Context()), name)
	default:
		writeError(w, http.StatusNotFound, "unknown_action", fmt.Sprintf("unknown action %q", r.PathValue("action")))
		return
	}
	if err != nil {
		writeControlError(w, err)
		return
	}
	st, err := s.ctrl.Status(name)
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// writeControlError maps lifecycle and configuration errors to HTTP statuses.
func writeControlError(w http.ResponseWriter, err error) {
	var (
		cfgErr  *protocol.ConfigurationError
		bindErr *protocol.TransportBindError
		valErr  *config.ValidationError
	)
	switch {
	case errors.Is(err, protocol.ErrListenerNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, protocol.ErrListenerExists):
		writeError(w, http.StatusConflict, "exists", err.Error())
	case errors.Is(err, protocol.ErrDraining), errors.Is(err, protocol.ErrNotStarted), errors.Is(err, protocol.ErrAlreadyStarted):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.As(err, &cfgErr), errors.As(err, &valErr), errors.Is(err, protocol.ErrUnknownProtocol):
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
	case errors.As(err, &bindErr):
		writeError(w, http.StatusBadGateway, "bind_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	httputil.WriteError(w, status, code, message)
}
