package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"intakebot/internal/mw"
	"intakebot/internal/session"
)

// Reconciler runs one pass of the error notification scanner.
type Reconciler interface {
	RunOnce(ctx context.Context) (int, error)
}

// ReconcileTimeout bounds a manual run. It outlasts the server's write
// timeout, so the handler extends its own deadline.
const ReconcileTimeout = 2 * time.Minute

type reconcileResponse struct {
	Notified int `json:"notified"`
}

func ReconcileHandler(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, _ := r.Context().Value(mw.OperatorCtxKey).(string)

		deadline := time.Now().Add(ReconcileTimeout)
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			slog.Warn("failed to extend write deadline", "error", err)
		}
		ctx, cancel := context.WithDeadline(r.Context(), deadline)
		defer cancel()

		n, err := rec.RunOnce(ctx)
		if err != nil {
			slog.Error("manual reconciliation failed", "operator", operator, "error", err)
			http.Error(w, "reconciliation failed", http.StatusBadGateway)
			return
		}
		slog.Info("manual reconciliation finished", "operator", operator, "notified", n)
		writeJSON(w, http.StatusOK, reconcileResponse{Notified: n})
	}
}

func GetSessionHandler(store session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		sess, ok, err := store.Get(r.Context(), userID)
		if err != nil {
			slog.Error("failed to load session", "user", userID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func DeleteSessionHandler(store session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		operator, _ := r.Context().Value(mw.OperatorCtxKey).(string)

		_, ok, err := store.Get(r.Context(), userID)
		if err != nil {
			slog.Error("failed to load session", "user", userID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		if err := store.Delete(r.Context(), userID); err != nil {
			slog.Error("failed to delete session", "user", userID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		slog.Info("session cleared by operator", "user", userID, "operator", operator)
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
