package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"playbook/api/internal/reconcile"
	"playbook/api/internal/store"
)

// userHeader carries the id of the caller, set by the authenticating gateway
// in front of this service.
const userHeader = "X-User-ID"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.With().Str("component", "http").Logger()}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withRequestLog)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireUser)
	api.HandleFunc("/playbooks/{id}", s.handleGetPlaybook).Methods(http.MethodGet)
	api.HandleFunc("/playbooks/{id}/tasks", s.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/playbooks/{id}/sync", s.handleLastSync).Methods(http.MethodGet)
	api.HandleFunc("/playbooks/{id}/phases", s.handleSyncPhases).Methods(http.MethodPut)
	api.HandleFunc("/playbooks/{id}/tasks/{taskId}", s.handleUpdateTask).Methods(http.MethodPatch)
	api.HandleFunc("/playbooks/{id}/visibility", s.handleSetVisibility).Methods(http.MethodPut)
	api.HandleFunc("/playbooks/{id}/title", s.handleUpdateTitle).Methods(http.MethodPut)
	api.HandleFunc("/playbooks/{id}/members", s.handleListMembers).Methods(http.MethodGet)
	api.HandleFunc("/playbooks/{id}/members", s.handleAddMember).Methods(http.MethodPost)
	api.HandleFunc("/playbooks/{id}/members/{userId}", s.handleRemoveMember).Methods(http.MethodDelete)
	api.HandleFunc("/folders/{id}/members", s.handleGrantFolder).Methods(http.MethodPost)
	api.HandleFunc("/folders/{id}/members/{userId}", s.handleRevokeFolder).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: splitOrigins(s.corsOrigin),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", userHeader},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return c.Handler(r)
}

func splitOrigins(raw string) []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err == nil {
			checks[name] = map[string]any{"status": "ok"}
			continue
		}
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks[name] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	playbook, err := s.service.GetPlaybook(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"playbook": extractionView(playbook.Extraction),
		"role":     playbook.Role,
		"tasks":    taskViews(playbook.Tasks),
	})
}

func (s *HTTPServer) handleLastSync(w http.ResponseWriter, r *http.Request) {
	event, ok, err := s.service.LastSync(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"lastSync": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lastSync": event})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.service.ListTasks(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": taskViews(tasks)})
}

func (s *HTTPServer) handleSyncPhases(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phases []store.Phase `json:"phases"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.SyncPhases(r.Context(), mux.Vars(r)["id"], userID(r), body.Phases)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phases":   result.Phases,
		"tasks":    taskViews(result.Tasks),
		"inserted": nonNil(result.Inserted),
		"updated":  nonNil(result.Updated),
		"deleted":  nonNil(result.Deleted),
		"cleared":  result.Cleared,
		"fallback": result.UsedFallback,
	})
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body TaskUpdate
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	task, err := s.service.UpdateTask(r.Context(), vars["id"], userID(r), vars["taskId"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": taskView(task)})
}

func (s *HTTPServer) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visibility string `json:"visibility"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	extraction, err := s.service.SetVisibility(r.Context(), mux.Vars(r)["id"], userID(r), body.Visibility)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playbook": extractionView(extraction)})
}

func (s *HTTPServer) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	extraction, err := s.service.UpdateTitle(r.Context(), mux.Vars(r)["id"], userID(r), body.Title)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playbook": extractionView(extraction)})
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.ListMembers(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": memberViews(members)})
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	members, err := s.service.AddMember(r.Context(), mux.Vars(r)["id"], userID(r), body.UserID, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": memberViews(members)})
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.service.RemoveMember(r.Context(), vars["id"], userID(r), vars["userId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleGrantFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.GrantFolderAccess(r.Context(), mux.Vars(r)["id"], userID(r), body.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRevokeFolder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.service.RevokeFolderAccess(r.Context(), vars["id"], userID(r), vars["userId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", requestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", id)
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userHeader))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, reconcile.ErrSyncFailed) {
		return http.StatusInternalServerError, "SYNC_FAILED", "Synchronization failed", nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
