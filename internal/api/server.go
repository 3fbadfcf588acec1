package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Volpestyle/vuhlp-code/internal/config"
	"github.com/Volpestyle/vuhlp-code/internal/ids"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
	"github.com/Volpestyle/vuhlp-code/internal/observability"
	"github.com/Volpestyle/vuhlp-code/internal/spec"
	"github.com/Volpestyle/vuhlp-code/internal/store"
	"github.com/Volpestyle/vuhlp-code/internal/workspace"
)

const (
	treeMaxFiles      = 800
	treeMaxDepth      = 8
	maxAttachmentSize = 25 << 20
)

// RunStarter schedules a run for asynchronous execution.
type RunStarter interface {
	StartRun(runID string)
}

// SessionTurnStarter schedules a session turn for asynchronous execution.
type SessionTurnStarter interface {
	StartTurn(sessionID, turnID string) error
}

// SpecGenerator drafts a spec document from a natural-language prompt.
type SpecGenerator interface {
	GenerateSpec(ctx context.Context, workspacePath, specName, prompt string) (string, error)
}

// ModelService exposes the model catalog and the routing policy.
type ModelService interface {
	ListModels() []kit.ModelRecord
	GetPolicy() config.ModelPolicy
	SetPolicy(policy config.ModelPolicy) error
}

// Server is the daemon's HTTP surface. All fields except Store are
// optional; handlers that need a missing collaborator answer 500.
type Server struct {
	Logger        *slog.Logger
	Store         *store.Store
	Runner        RunStarter
	SessionRunner SessionTurnStarter
	SpecGen       SpecGenerator
	ModelSvc      ModelService
	AuthToken     string
	Metrics       *observability.Metrics
}

// Handler builds the route table and wraps it in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("GET /hello", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "hello"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("POST /v1/runs", s.handleCreateRun)
	mux.HandleFunc("GET /v1/runs/{runID}", s.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{runID}/events", s.handleRunEvents)
	mux.HandleFunc("POST /v1/runs/{runID}/approve", s.handleApproveRun)
	mux.HandleFunc("POST /v1/runs/{runID}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /v1/runs/{runID}/export", s.handleExportRun)

	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{sessionID}", s.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/mode", s.handleSessionMode)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/events", s.handleSessionEvents)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/messages", s.handleSessionMessage)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/approve", s.handleSessionApprove)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/cancel", s.handleSessionCancel)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/attachments", s.handleSessionAttachment)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/export", s.handleExportSession)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/turns/{turnID}/retry", s.handleTurnRetry)

	mux.HandleFunc("POST /v1/specs/generate", s.handleSpecGenerate)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /v1/model-policy", s.handleGetModelPolicy)
	mux.HandleFunc("POST /v1/model-policy", s.handleSetModelPolicy)
	mux.HandleFunc("GET /v1/workspace/tree", s.handleWorkspaceTree)

	var h http.Handler = mux
	h = CORSMiddleware()(h)
	h = AuthMiddleware(s.AuthToken)(h)
	h = LoggingMiddleware(s.Logger, s.Metrics)(h)
	h = RecoverMiddleware(s.Logger)(h)
	return h
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.ListRuns())
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	run, err := s.Store.CreateRun(req.WorkspacePath, req.SpecPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.Runner != nil {
		s.Runner.StartRun(run.ID)
	}
	writeJSON(w, http.StatusOK, CreateRunResponse{RunID: run.ID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.PathValue("runID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, s.Store.ReadEvents(runID, queryMax(r)))
		return
	}
	history := s.Store.ReadEvents(runID, sseReplayLimit)
	streamEvents(w, r, history, func(handler func(store.Event)) func() {
		return s.Store.Subscribe(runID, handler)
	})
}

func (s *Server) handleApproveRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.StepID) == "" {
		writeError(w, http.StatusBadRequest, "step_id required")
		return
	}
	if err := s.Store.Approve(runID, req.StepID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.Metrics != nil {
		s.Metrics.RecordApproval("approve")
	}
	_ = s.Store.AppendEvent(runID, store.Event{
		TS:    nowRFC3339(),
		RunID: runID,
		Type:  "approval_granted",
		Data:  map[string]any{"step_id": req.StepID},
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	s.Store.CancelRun(runID)
	_ = s.Store.AppendEvent(runID, store.Event{
		TS:    nowRFC3339(),
		RunID: runID,
		Type:  "run_cancel_requested",
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	data, err := s.Store.ExportRun(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID+".zip"))
	_, _ = w.Write(data)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.ListSessions())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = store.ModeChat
	}
	specPath := strings.TrimSpace(req.SpecPath)
	if specPath != "" {
		resolved, err := resolveSpecPath(req.WorkspacePath, specPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		specPath = resolved
	}

	session, err := s.Store.CreateSession(req.WorkspacePath, req.SystemPrompt, mode, specPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.Mode == store.ModeSpec && strings.TrimSpace(session.SpecPath) == "" {
		defaultPath, err := spec.DefaultPath(session.WorkspacePath, "session-"+session.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		session.SpecPath = defaultPath
		if err := s.Store.UpdateSession(session); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		_ = s.Store.AppendSessionEvent(session.ID, store.SessionEvent{
			TS:        nowRFC3339(),
			SessionID: session.ID,
			Type:      "spec_path_set",
			Data:      map[string]any{"spec_path": session.SpecPath},
		})
		created, err := spec.EnsureFile(session.SpecPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if created {
			_ = s.Store.AppendSessionEvent(session.ID, store.SessionEvent{
				TS:        nowRFC3339(),
				SessionID: session.ID,
				Type:      "spec_created",
				Data:      map[string]any{"spec_path": session.SpecPath},
			})
		}
	}
	writeJSON(w, http.StatusOK, CreateSessionResponse{SessionID: session.ID, SpecPath: session.SpecPath})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.Store.GetSession(r.PathValue("sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionMode(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	var req UpdateSessionModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		writeError(w, http.StatusBadRequest, "mode is required")
		return
	}
	if mode != store.ModeChat && mode != store.ModeSpec {
		writeError(w, http.StatusBadRequest, "mode must be chat or spec")
		return
	}
	session, err := s.Store.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	specPath := strings.TrimSpace(req.SpecPath)
	if mode == store.ModeSpec {
		switch {
		case specPath != "":
			resolved, err := resolveSpecPath(session.WorkspacePath, specPath)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			specPath = resolved
		case strings.TrimSpace(session.SpecPath) == "":
			defaultPath, err := spec.DefaultPath(session.WorkspacePath, "session-"+session.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			specPath = defaultPath
		default:
			specPath = session.SpecPath
		}
	} else if specPath != "" {
		resolved, err := resolveSpecPath(session.WorkspacePath, specPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		specPath = resolved
	}
	session.Mode = mode
	if strings.TrimSpace(specPath) != "" {
		session.SpecPath = specPath
	}
	if err := s.Store.UpdateSession(session); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = s.Store.AppendSessionEvent(sessionID, store.SessionEvent{
		TS:        nowRFC3339(),
		SessionID: sessionID,
		Type:      "session_mode_set",
		Data:      map[string]any{"mode": session.Mode, "spec_path": session.SpecPath},
	})
	if session.Mode == store.ModeSpec && strings.TrimSpace(session.SpecPath) != "" {
		created, err := spec.EnsureFile(session.SpecPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if created {
			_ = s.Store.AppendSessionEvent(sessionID, store.SessionEvent{
				TS:        nowRFC3339(),
				SessionID: sessionID,
				Type:      "spec_created",
				Data:      map[string]any{"spec_path": session.SpecPath},
			})
		}
	}
	writeJSON(w, http.StatusOK, UpdateSessionModeResponse{
		SessionID: session.ID,
		Mode:      session.Mode,
		SpecPath:  session.SpecPath,
	})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, s.Store.ReadSessionEvents(sessionID, queryMax(r)))
		return
	}
	history := s.Store.ReadSessionEvents(sessionID, sseReplayLimit)
	streamEvents(w, r, history, func(handler func(store.SessionEvent)) func() {
		return s.Store.SubscribeSession(sessionID, handler)
	})
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		writeError(w, http.StatusBadRequest, "role required")
		return
	}
	parts := make([]store.MessagePart, 0, len(req.Parts))
	for _, part := range req.Parts {
		parts = append(parts, store.MessagePart{
			Type:     part.Type,
			Text:     part.Text,
			Ref:      part.Ref,
			MimeType: part.MimeType,
		})
	}
	msg := store.Message{
		ID:        ids.NewMessage(),
		Role:      role,
		Parts:     parts,
		CreatedAt: nowRFC3339(),
	}
	if _, err := s.Store.AppendMessage(sessionID, msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = s.Store.AppendSessionEvent(sessionID, store.SessionEvent{
		TS:        nowRFC3339(),
		SessionID: sessionID,
		Type:      "message_added",
		Data:      map[string]any{"message_id": msg.ID, "role": msg.Role},
	})

	turnID, err := s.Store.AddTurn(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.AutoRun == nil || *req.AutoRun {
		if s.SessionRunner == nil {
			writeError(w, http.StatusInternalServerError, "session runner not configured")
			return
		}
		if err := s.SessionRunner.StartTurn(sessionID, turnID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, AddMessageResponse{MessageID: msg.ID, TurnID: turnID})
}

func (s *Server) handleSessionApprove(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	var req SessionApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ToolCallID) == "" {
		writeError(w, http.StatusBadRequest, "tool_call_id required")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		req.Action = "approve"
	}
	if err := s.Store.ApproveSessionToolCall(sessionID, req.ToolCallID, store.ApprovalDecision{
		Action: req.Action,
		Reason: req.Reason,
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.Metrics != nil {
		s.Metrics.RecordApproval(req.Action)
	}
	evType := "approval_granted"
	if req.Action == "deny" {
		evType = "approval_denied"
	}
	_ = s.Store.AppendSessionEvent(sessionID, store.SessionEvent{
		TS:        nowRFC3339(),
		SessionID: sessionID,
		TurnID:    req.TurnID,
		Type:      evType,
		Data:      map[string]any{"tool_call_id": req.ToolCallID, "reason": req.Reason},
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	s.Store.CancelSession(sessionID)
	_ = s.Store.AppendSessionEvent(sessionID, store.SessionEvent{
		TS:        nowRFC3339(),
		SessionID: sessionID,
		Type:      "session_canceled",
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSessionAttachment(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file required")
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		att, err := s.Store.SaveSessionAttachment(sessionID, header.Filename, header.Header.Get("Content-Type"), content)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, AttachmentUploadResponse{Ref: att.Ref, MimeType: att.MimeType})
		return
	}

	var req AttachmentUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.ContentBase64) == "" {
		writeError(w, http.StatusBadRequest, "content_base64 required")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base64 content")
		return
	}
	att, err := s.Store.SaveSessionAttachment(sessionID, req.Name, req.MimeType, content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AttachmentUploadResponse{Ref: att.Ref, MimeType: att.MimeType})
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	data, err := s.Store.ExportSession(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sessionID+".zip"))
	_, _ = w.Write(data)
}

func (s *Server) handleTurnRetry(w http.ResponseWriter, r *http.Request) {
	if s.SessionRunner == nil {
		writeError(w, http.StatusInternalServerError, "session runner not configured")
		return
	}
	if err := s.SessionRunner.StartTurn(r.PathValue("sessionID"), r.PathValue("turnID")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSpecGenerate(w http.ResponseWriter, r *http.Request) {
	if s.SpecGen == nil {
		writeError(w, http.StatusInternalServerError, "spec generator not configured")
		return
	}
	var req GenerateSpecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ws := strings.TrimSpace(req.WorkspacePath)
	specName := strings.TrimSpace(req.SpecName)
	prompt := strings.TrimSpace(req.Prompt)
	if ws == "" || specName == "" || prompt == "" {
		writeError(w, http.StatusBadRequest, "workspace_path, spec_name, and prompt are required")
		return
	}
	if !spec.SafeName(specName) {
		writeError(w, http.StatusBadRequest, "spec_name must be alphanumeric with dashes or underscores")
		return
	}
	if info, err := os.Stat(ws); err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "workspace_path must be a directory")
		return
	}
	specRel := filepath.ToSlash(filepath.Join("specs", specName, "spec.md"))
	specAbs, err := safeWorkspaceJoin(ws, specRel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Overwrite {
		if _, err := os.Stat(specAbs); err == nil {
			writeError(w, http.StatusConflict, "spec already exists")
			return
		}
	}

	content, err := s.SpecGen.GenerateSpec(r.Context(), ws, specName, prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.MkdirAll(filepath.Dir(specAbs), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.MkdirAll(filepath.Join(filepath.Dir(specAbs), "diagrams"), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(specAbs, []byte(content), 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GenerateSpecResponse{SpecPath: specAbs, Content: content})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.ModelSvc == nil {
		writeError(w, http.StatusInternalServerError, "model service not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.ModelSvc.ListModels(),
		"policy": s.ModelSvc.GetPolicy(),
	})
}

func (s *Server) handleGetModelPolicy(w http.ResponseWriter, r *http.Request) {
	if s.ModelSvc == nil {
		writeError(w, http.StatusInternalServerError, "model service not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.ModelSvc.GetPolicy())
}

func (s *Server) handleSetModelPolicy(w http.ResponseWriter, r *http.Request) {
	if s.ModelSvc == nil {
		writeError(w, http.StatusInternalServerError, "model service not configured")
		return
	}
	var policy config.ModelPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.ModelSvc.SetPolicy(policy); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ModelSvc.GetPolicy())
}

func (s *Server) handleWorkspaceTree(w http.ResponseWriter, r *http.Request) {
	ws := strings.TrimSpace(r.URL.Query().Get("workspace_path"))
	if ws == "" {
		writeError(w, http.StatusBadRequest, "workspace_path required")
		return
	}
	if info, err := os.Stat(ws); err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "workspace_path must be a directory")
		return
	}
	opts := workspace.DefaultWalkOptions()
	opts.MaxFiles = treeMaxFiles
	opts.MaxDepth = treeMaxDepth
	files, err := workspace.Walk(ws, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, WorkspaceTreeResponse{Root: ws, Files: files})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func queryMax(r *http.Request) int {
	raw := r.URL.Query().Get("max")
	if raw == "" {
		return 0
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
		return parsed
	}
	return 0
}

func safeWorkspaceJoin(ws, rel string) (string, error) {
	ws = filepath.Clean(ws)
	abs := filepath.Clean(filepath.Join(ws, rel))
	relPath, err := filepath.Rel(ws, abs)
	if err != nil {
		return "", err
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return abs, nil
}

func resolveSpecPath(ws, specPath string) (string, error) {
	if strings.TrimSpace(specPath) == "" {
		return "", errors.New("spec_path is empty")
	}
	ws = filepath.Clean(ws)
	if filepath.IsAbs(specPath) {
		abs := filepath.Clean(specPath)
		relPath, err := filepath.Rel(ws, abs)
		if err != nil {
			return "", err
		}
		if relPath == ".." || strings.HasPrefix(relPath, ".."+string(os.PathSeparator)) {
			return "", fmt.Errorf("spec_path escapes workspace: %s", specPath)
		}
		return abs, nil
	}
	return safeWorkspaceJoin(ws, specPath)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
