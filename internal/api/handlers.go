package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/SpatiumPortae/quickshare/internal/conn"
	"github.com/SpatiumPortae/quickshare/internal/dispatch"
	"github.com/SpatiumPortae/quickshare/internal/logger"
	"github.com/SpatiumPortae/quickshare/internal/router"
	"github.com/SpatiumPortae/quickshare/internal/session"
	"github.com/SpatiumPortae/quickshare/protocol/transfer"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// eventsBuffer is how many notifications a slow websocket client may lag
// behind before it starts missing them.
const eventsBuffer = 64

var validate = validator.New()

var actions = map[string]session.Action{
	"accept":  session.ConsentAccept,
	"decline": session.ConsentDecline,
	"cancel":  session.TransferCancel,
}

type errorResponse struct {
	Error string `json:"error"`
}

type sendBody struct {
	ID          transfer.ID    `json:"id"`
	DisplayName string         `json:"display_name"`
	Address     string         `json:"address" validate:"required,hostname_port"`
	Files       []string       `json:"files" validate:"omitempty,dive,required"`
	Text        *transfer.Text `json:"text" validate:"required_without=Files"`
}

type sendResponse struct {
	ID transfer.ID `json:"id"`
}

func (s *Server) ping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}
}

func (s *Server) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, s.version)
	}
}

func (s *Server) handleSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		snaps, err := s.coordinator.Sessions(ctx)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, snaps)
	}
}

func (s *Server) handleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		snap, err := s.coordinator.Session(ctx, transfer.ID(mux.Vars(r)["id"]))
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, snap)
	}
}

func (s *Server) handleDismiss() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := s.coordinator.Dismiss(ctx, transfer.ID(mux.Vars(r)["id"])); err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vars := mux.Vars(r)
		action, ok := actions[vars["action"]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := s.coordinator.Act(ctx, transfer.ID(vars["id"]), action); err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleEndpoints() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		eps, err := s.coordinator.Endpoints(ctx)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, eps)
	}
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var body sendBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
			return
		}
		if err := validate.Struct(body); err != nil {
			writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		id, err := s.coordinator.Send(ctx, transfer.SendRequest{
			ID:          body.ID,
			DisplayName: body.DisplayName,
			Address:     body.Address,
			Files:       body.Files,
			Text:        body.Text,
		})
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusAccepted, sendResponse{ID: id})
	}
}

// handleEvents streams notifications to a websocket client until it leaves.
// A new client first receives every tracked session.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger, err := logger.FromContext(ctx)
		if err != nil {
			return
		}
		c, err := conn.FromContext(ctx)
		if err != nil {
			logger.Error("getting Conn from request context", zap.Error(err))
			return
		}
		ws, ok := c.(*conn.WS)
		if !ok {
			logger.Error("events require a websocket connection")
			return
		}
		// The client never writes; reading only watches for it going away.
		ctx = ws.Conn.CloseRead(ctx)

		notes, unsubscribe := s.coordinator.Subscribe(eventsBuffer)
		defer unsubscribe()
		logger.Info("events subscriber connected")

		// Replay the current sessions so the client starts from a full view.
		snaps, err := s.coordinator.Sessions(ctx)
		if err != nil {
			logger.Warn("listing sessions for new subscriber", zap.Error(err))
			return
		}
		for i := range snaps {
			n := router.Notification{Kind: router.SessionChanged, Session: &snaps[i]}
			if err := ws.WriteJSON(ctx, n); err != nil {
				logger.Warn("writing notification", zap.Error(err))
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				logger.Info("events subscriber left")
				return
			case n, ok := <-notes:
				if !ok {
					_ = ws.Conn.Close(websocket.StatusGoingAway, "coordinator stopped")
					return
				}
				if err := ws.WriteJSON(ctx, n); err != nil {
					logger.Warn("writing notification", zap.Error(err))
					return
				}
			}
		}
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		if logger, lerr := logger.FromContext(ctx); lerr == nil {
			logger.Warn("encoding response", zap.Error(err))
		}
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, router.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, router.ErrDuplicateTransfer):
		status = http.StatusConflict
	case errors.Is(err, router.ErrClosed), errors.Is(err, dispatch.ErrEngineBusy):
		status = http.StatusServiceUnavailable
	}
	if logger, lerr := logger.FromContext(ctx); lerr == nil && status == http.StatusInternalServerError {
		logger.Error("handling request", zap.Error(err))
	}
	writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}
