package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"redline/engine/internal/autosave"
	"redline/engine/internal/export"
	"redline/engine/internal/search"
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

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "Missing q parameter", nil)
			return
		}
		response := s.service.Search(search.Query{
			Text:   query,
			Limit:  queryInt(r, "limit", 20),
			Offset: queryInt(r, "offset", 0),
		})
		writeJSON(w, http.StatusOK, response)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/documents" {
		items, err := s.service.ListDocuments(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list documents", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/documents" {
		var body struct {
			Title   string          `json:"title"`
			Content json.RawMessage `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateDocument(r.Context(), body.Title, body.Content)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocument(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, documentID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.GetDocument(ctx, documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	switch rest[0] {
	case "revisions":
		s.handleRevisions(w, r, documentID, rest[1:])
		return

	case "changes":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			Content json.RawMessage `json:"content"`
			Trigger string          `json:"trigger"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		trigger := autosave.TriggerUserInput
		if body.Trigger != "" {
			parsed, err := autosave.ParseTrigger(body.Trigger)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_TRIGGER", err.Error(), nil)
				return
			}
			trigger = parsed
		}
		if err := s.service.ApplyChange(ctx, documentID, body.Content, trigger); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case "events":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			Trigger string `json:"trigger"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		trigger, err := autosave.ParseTrigger(body.Trigger)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_TRIGGER", err.Error(), nil)
			return
		}
		if err := s.service.NotifyChange(ctx, documentID, trigger); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		return

	case "save":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			Trigger string `json:"trigger"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		trigger := autosave.TriggerManual
		if body.Trigger != "" {
			parsed, err := autosave.ParseTrigger(body.Trigger)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_TRIGGER", err.Error(), nil)
				return
			}
			trigger = parsed
		}
		status, err := s.service.ForceSave(ctx, documentID, trigger)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return

	case "save-state":
		if r.Method != http.MethodGet {
			break
		}
		status, err := s.service.SaveStatus(ctx, documentID)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return

	case "saves":
		if r.Method != http.MethodGet {
			break
		}
		records, err := s.service.RecentSaves(ctx, documentID, queryInt(r, "limit", 50))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saves": records})
		return

	case "history":
		if r.Method != http.MethodGet {
			break
		}
		if len(rest) == 2 {
			content, err := s.service.SnapshotByHash(ctx, documentID, rest[1])
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"content": content})
			return
		}
		commits, err := s.service.History(ctx, documentID, queryInt(r, "limit", 50))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
		return

	case "stream":
		if r.Method != http.MethodPost {
			break
		}
		var body StreamInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ProcessStream(ctx, documentID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return

	case "export":
		if r.Method != http.MethodGet {
			break
		}
		format := export.Format(r.URL.Query().Get("format"))
		if format == "" {
			format = export.FormatHTML
		}
		result, err := s.service.Export(ctx, documentID, format)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRevisions(w http.ResponseWriter, r *http.Request, documentID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			revisions, err := s.service.PendingRevisions(ctx, documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
			return
		case http.MethodPost:
			var body ProposeInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			revID, err := s.service.ProposeRevision(ctx, documentID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"id": revID})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "accept-all":
		count, err := s.service.ResolveAllRevisions(ctx, documentID, true)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolved": count})
		return

	case len(rest) == 1 && rest[0] == "reject-all":
		count, err := s.service.ResolveAllRevisions(ctx, documentID, false)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolved": count})
		return

	case len(rest) == 2 && (rest[1] == "accept" || rest[1] == "reject"):
		err := s.service.ResolveRevision(ctx, documentID, rest[0], rest[1] == "accept")
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
		// An absent body leaves the target at its zero value.
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
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
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available", nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
