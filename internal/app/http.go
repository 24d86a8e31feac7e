package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reviewdeck/api/internal/auth"
	"reviewdeck/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/github/url" {
		url, err := s.service.GitHubAuthURL()
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/github/callback" {
		var body struct {
			Code string `json:"code"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Code == "" {
			body.Code = strings.TrimSpace(r.URL.Query().Get("code"))
		}
		session, err := s.service.GitHubCallback(r.Context(), body.Code)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"user_id":       session.UserID,
			"username":      session.Username,
			"avatar_url":    session.AvatarURL,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	// The event stream authenticates via query parameter because browsers
	// cannot set Authorization headers on WebSocket upgrades.
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "workspaces" && parts[3] == "ws" {
		s.handleWorkspaceSocket(w, r, parts[2])
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "workspaces" {
		s.handleWorkspaceRoutes(w, r, session, parts[2], parts[3:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "tasks" {
		s.handleTaskRoutes(w, r, session, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProjectRoutes(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWorkspaceRoutes(w http.ResponseWriter, r *http.Request, session Session, workspaceID string, rest []string) {
	if len(rest) == 0 || rest[0] != "conversations" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	rest = rest[1:]

	// /api/workspaces/{id}/conversations
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			if filePath := strings.TrimSpace(r.URL.Query().Get("file_path")); filePath != "" {
				items, err := s.service.ListConversationsByFilePath(r.Context(), workspaceID, filePath)
				s.writeResult(w, map[string]any{"conversations": items}, err)
				return
			}
			items, err := s.service.ListConversations(r.Context(), workspaceID)
			s.writeResult(w, map[string]any{"conversations": items}, err)
			return
		case http.MethodPost:
			var body CreateConversationInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			conversation, err := s.service.CreateConversation(r.Context(), session, workspaceID, body)
			s.writeResult(w, map[string]any{"conversation": conversation}, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 && rest[0] == "unresolved" && r.Method == http.MethodGet {
		items, err := s.service.ListUnresolvedConversations(r.Context(), workspaceID)
		s.writeResult(w, map[string]any{"conversations": items}, err)
		return
	}

	if len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}
		payload, err := s.service.SearchConversations(r.Context(), workspaceID, q, limit, offset)
		s.writeResult(w, payload, err)
		return
	}

	conversationID := rest[0]
	rest = rest[1:]

	// /api/workspaces/{id}/conversations/{cid}
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			conversation, err := s.service.GetConversation(r.Context(), workspaceID, conversationID)
			s.writeResult(w, map[string]any{"conversation": conversation}, err)
			return
		case http.MethodDelete:
			err := s.service.DeleteConversation(r.Context(), session, workspaceID, conversationID)
			s.writeResult(w, map[string]any{"deleted": true}, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 && rest[0] == "messages" && r.Method == http.MethodPost {
		var body AddMessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		conversation, err := s.service.AddMessage(r.Context(), session, workspaceID, conversationID, body)
		s.writeResult(w, map[string]any{"conversation": conversation}, err)
		return
	}

	if len(rest) == 2 && rest[0] == "messages" && r.Method == http.MethodDelete {
		conversation, err := s.service.DeleteMessage(r.Context(), session, workspaceID, conversationID, rest[1])
		s.writeResult(w, map[string]any{"conversation": conversation}, err)
		return
	}

	if len(rest) == 1 && rest[0] == "resolve" && r.Method == http.MethodPost {
		var body ResolveConversationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		conversation, err := s.service.ResolveConversation(r.Context(), session, workspaceID, conversationID, body)
		s.writeResult(w, map[string]any{"conversation": conversation}, err)
		return
	}

	if len(rest) == 1 && rest[0] == "unresolve" && r.Method == http.MethodPost {
		conversation, err := s.service.UnresolveConversation(r.Context(), session, workspaceID, conversationID)
		s.writeResult(w, map[string]any{"conversation": conversation}, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTaskRoutes(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	// /api/tasks
	if len(rest) == 0 {
		if r.Method == http.MethodPost {
			var body CreateTaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateTask(r.Context(), session, body)
			s.writeResult(w, payload, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	taskID := rest[0]
	rest = rest[1:]

	// /api/tasks/{id}
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			task, err := s.service.GetTask(r.Context(), taskID)
			s.writeResult(w, map[string]any{"task": task}, err)
			return
		case http.MethodDelete:
			err := s.service.DeleteTask(r.Context(), session, taskID)
			s.writeResult(w, map[string]any{"deleted": true}, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 && rest[0] == "status" && (r.Method == http.MethodPut || r.Method == http.MethodPost) {
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.UpdateTaskStatus(r.Context(), session, taskID, store.TaskStatus(body.Status))
		s.writeResult(w, map[string]any{"task": task}, err)
		return
	}

	if len(rest) == 1 && rest[0] == "approvals" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.TaskApprovals(r.Context(), taskID)
			s.writeResult(w, payload, err)
			return
		case http.MethodPost:
			approval, err := s.service.ApproveTask(r.Context(), session, taskID)
			s.writeResult(w, map[string]any{"approval": approval}, err)
			return
		case http.MethodDelete:
			removed, err := s.service.UnapproveTask(r.Context(), session, taskID)
			s.writeResult(w, map[string]any{"removed": removed}, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProjectRoutes(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	// /api/projects
	if len(rest) == 0 {
		if r.Method == http.MethodPost {
			var body CreateProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.CreateProject(r.Context(), session, body)
			s.writeResult(w, map[string]any{"project": project}, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	projectID := rest[0]
	rest = rest[1:]

	// /api/projects/{id}
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			project, err := s.service.GetProject(r.Context(), projectID)
			s.writeResult(w, map[string]any{"project": project}, err)
			return
		case http.MethodPatch:
			var body struct {
				MinApprovalsRequired *int `json:"min_approvals_required"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.MinApprovalsRequired == nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "min_approvals_required is required", nil)
				return
			}
			project, err := s.service.SetProjectMinApprovals(r.Context(), session, projectID, *body.MinApprovalsRequired)
			s.writeResult(w, map[string]any{"project": project}, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":         session.Token,
		"refresh_token": session.RefreshToken,
		"user_id":       session.UserID,
		"username":      session.Username,
		"avatar_url":    session.AvatarURL,
		"expires_at":    session.ExpiresAt.Unix(),
	}
}

// writeResult applies the envelope protocol. Review-flow outcomes, success
// or business error, are HTTP 200; only auth, malformed input, and infra
// failures use error status codes.
func (s *HTTPServer) writeResult(w http.ResponseWriter, data any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
		return
	}
	var errorData *ErrorData
	if errors.As(err, &errorData) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error_data": errorData})
		return
	}
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
