package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"akademik/api/internal/search"
	"akademik/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     log.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	isGet := r.Method == http.MethodGet || r.Method == http.MethodHead

	if isGet && (r.URL.Path == "/health" || r.URL.Path == "/live") {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ok", "timestamp": time.Now().UTC()})
		return
	}

	if isGet && r.URL.Path == "/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "v1" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	userID := requestUserID(r)
	rest := parts[2:]

	switch rest[0] {
	case "templates":
		s.handleTemplates(w, r, rest)
	case "projects":
		s.handleProjects(w, r, userID, rest)
	case "sections":
		s.handleSections(w, r, userID, rest)
	case "ai":
		s.handleAI(w, r, rest)
	case "diff":
		if len(rest) == 1 && r.Method == http.MethodPost {
			var body struct {
				Original string `json:"original"`
				Modified string `json:"modified"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			writeJSON(w, http.StatusOK, s.service.Diff(body.Original, body.Modified))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	case "search":
		if len(rest) == 1 && isGet {
			s.handleSearch(w, r, userID)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	case "debug":
		if len(rest) == 2 && rest[1] == "models" && isGet && !s.service.cfg.IsProduction() {
			models, err := s.service.Models(r.Context())
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"models": models})
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ready(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	switch len(parts) {
	case 1:
		writeJSON(w, http.StatusOK, map[string]any{"templates": s.service.ListTemplates()})
	case 2:
		tpl, err := s.service.GetTemplate(parts[1])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tpl)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			page := queryInt(r, "page", 1)
			limit := queryInt(r, "limit", 20)
			payload, err := s.service.ListProjects(ctx, userID, page, limit)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body CreateProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.CreateProject(ctx, userID, body)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, project)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	projectID := parts[1]

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			project, err := s.service.GetProject(ctx, userID, projectID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, project)
		case http.MethodPatch:
			var body struct {
				Title string `json:"title"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			writeResult(w, http.StatusOK)(s.service.UpdateTitle(ctx, userID, projectID, body.Title))
		case http.MethodDelete:
			if err := s.service.DeleteProject(ctx, userID, projectID); err != nil {
				writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[2] {
	case "general-info", "keywords", "scientific-merit", "project-management", "wide-impact":
		if len(parts) != 3 || r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleProjectPatch(w, r, userID, projectID, parts[2])
	case "progress":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.Progress(ctx, userID, projectID))
	case "history":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if len(parts) == 4 {
			writeResult(w, http.StatusOK)(s.service.Snapshot(ctx, userID, projectID, parts[3]))
			return
		}
		commits, err := s.service.History(ctx, userID, projectID, queryInt(r, "limit", 50))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits, "total": len(commits)})
	case "editor":
		s.handleEditor(w, r, userID, projectID, parts[3:])
	case "notifications":
		s.handleNotifications(w, r, userID, projectID, parts[3:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProjectPatch(w http.ResponseWriter, r *http.Request, userID, projectID, field string) {
	ctx := r.Context()
	switch field {
	case "general-info":
		var body store.GeneralInfo
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.UpdateGeneralInfo(ctx, userID, projectID, body))
	case "keywords":
		var body struct {
			Keywords string `json:"keywords"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.UpdateKeywords(ctx, userID, projectID, body.Keywords))
	case "scientific-merit":
		var body store.ScientificMerit
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.UpdateScientificMerit(ctx, userID, projectID, body))
	case "project-management":
		var body store.ProjectManagement
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.UpdateProjectManagement(ctx, userID, projectID, body))
	case "wide-impact":
		var body struct {
			WideImpact []store.WideImpactRow `json:"wideImpact"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.UpdateWideImpact(ctx, userID, projectID, body.WideImpact))
	}
}

func (s *HTTPServer) handleEditor(w http.ResponseWriter, r *http.Request, userID, projectID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.Editor(ctx, userID, projectID))
		return
	}

	if len(parts) != 3 || parts[0] != "fields" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	fieldID, op := parts[1], parts[2]

	if op == "diff" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.FieldDiff(ctx, userID, projectID, fieldID))
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body FieldInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.FieldOp(ctx, userID, projectID, fieldID, op, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeJSON(w, status, map[string]any{
			"code":    code,
			"error":   message,
			"details": details,
			"state":   result.State,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, userID, projectID string, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if _, err := s.service.GetProject(r.Context(), userID, projectID); err != nil {
		writeServiceError(w, err)
		return
	}

	switch {
	case len(parts) == 0:
		active, err := s.service.Bus().Active(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": active})
	case len(parts) == 1 && parts[0] == "ws":
		s.streamNotifications(w, r, projectID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	sectionID := parts[1]

	if len(parts) == 2 {
		if r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			DraftContent string `json:"draftContent"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.SaveSectionDraft(ctx, userID, sectionID, body.DraftContent))
		return
	}
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[2] == "revisions" && r.Method == http.MethodGet:
		writeResult(w, http.StatusOK)(s.service.Revisions(ctx, userID, sectionID))
	case parts[2] == "generate" && r.Method == http.MethodPost:
		var body GenerateSectionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.GenerateSection(ctx, userID, sectionID, body))
	case parts[2] == "revise" && r.Method == http.MethodPost:
		var body ReviseSectionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.ReviseSection(ctx, userID, sectionID, body))
	case parts[2] == "accept" && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.AcceptSection(ctx, userID, sectionID, body.Content))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAI(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	switch parts[1] {
	case "generate":
		var body GenerateTextInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.GenerateText(ctx, body))
	case "revise":
		var body ReviseTextInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeResult(w, http.StatusOK)(s.service.ReviseText(ctx, body))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, userID string) {
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "q is required", nil)
		return
	}
	filter := search.ResultType(query.Get("type"))
	if filter != "" && filter != search.ResultProject && filter != search.ResultSection {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "type must be project or section", nil)
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), userID, search.Query{
		Text:       text,
		FilterType: filter,
		Limit:      limit,
		Offset:     offset,
	}))
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

		s.logger.Info().
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

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// requestUserID reads the caller from X-User-ID. Missing ids fall back to the
// configured default user inside the service.
func requestUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
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

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

// writeResult returns a writer for a (payload, error) pair so handlers can
// pass service calls straight through.
func writeResult(w http.ResponseWriter, status int) func(any, error) {
	return func(payload any, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, status, payload)
	}
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

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
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
