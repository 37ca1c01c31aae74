package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	studiocli "github.com/atelierhq/studio-realtime/studio-cli"
	studiorest "github.com/atelierhq/studio-realtime/studio-rest"
	"github.com/atelierhq/studio-realtime/studio-ws/notificationdao"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const defaultFeedLimit = 100

// NotificationStore is the feed surface the REST API needs.
type NotificationStore interface {
	Recent(ctx context.Context, userID string, limit int) ([]notificationdao.Notification, error)
	MarkRead(ctx context.Context, userID, sortKey string) error
	Delete(ctx context.Context, userID, sortKey string) error
}

// Routes builds the notifications feed router.
func Routes(store NotificationStore) chi.Router {
	router := chi.NewRouter()
	studiorest.Middlewares(service, router)

	router.Route("/notifications", func(r chi.Router) {
		r.Get("/", listNotifications(store))
		r.Patch("/read", markNotificationRead(store))
		r.Delete("/", deleteNotification(store))
	})
	return router
}

func listNotifications(store NotificationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID := req.URL.Query().Get("userId")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}

		limit := defaultFeedLimit
		if raw := req.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if parsed < limit {
				limit = parsed
			}
		}

		items, err := store.Recent(req.Context(), userID, limit)
		if err != nil {
			logFromContext(req).Error().Err(err).Msg("failed to list notifications")
			writeError(w, http.StatusInternalServerError, "failed to list notifications")
			return
		}
		if items == nil {
			items = []notificationdao.Notification{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	}
}

type readRequest struct {
	UserID  string `json:"userId"`
	SortKey string `json:"timestamp#uuid"`
}

func markNotificationRead(store NotificationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body readRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if body.UserID == "" || body.SortKey == "" {
			writeError(w, http.StatusBadRequest, "userId and timestamp#uuid are required")
			return
		}

		if err := store.MarkRead(req.Context(), body.UserID, body.SortKey); err != nil {
			logFromContext(req).Error().Err(err).Msg("failed to mark notification read")
			writeError(w, http.StatusInternalServerError, "failed to mark notification read")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func deleteNotification(store NotificationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID := req.URL.Query().Get("userId")
		sortKey := req.URL.Query().Get("sortKey")
		if userID == "" || sortKey == "" {
			writeError(w, http.StatusBadRequest, "userId and sortKey are required")
			return
		}

		if err := store.Delete(req.Context(), userID, sortKey); err != nil {
			logFromContext(req).Error().Err(err).Msg("failed to delete notification")
			writeError(w, http.StatusInternalServerError, "failed to delete notification")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func logFromContext(req *http.Request) *zerolog.Logger {
	if logger := zerolog.Ctx(req.Context()); logger != nil {
		return logger
	}
	logger := studiocli.Logger(service)
	return &logger
}
