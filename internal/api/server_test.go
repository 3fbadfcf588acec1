package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Volpestyle/vuhlp-code/internal/config"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
	"github.com/Volpestyle/vuhlp-code/internal/store"
)

type stubSpecGen struct {
	content string
}

func (g stubSpecGen) GenerateSpec(ctx context.Context, workspacePath, specName, prompt string) (string, error) {
	return g.content, nil
}

type stubModelSvc struct {
	policy config.ModelPolicy
}

func (m *stubModelSvc) ListModels() []kit.ModelRecord {
	return []kit.ModelRecord{{ID: "anthropic/test-model", Provider: "anthropic"}}
}

func (m *stubModelSvc) GetPolicy() config.ModelPolicy { return m.policy }

func (m *stubModelSvc) SetPolicy(policy config.ModelPolicy) error {
	m.policy = policy
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	return &Server{Store: st}, st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.AuthToken = "secret"
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	out := httptest.NewRecorder()
	srv.Handler().ServeHTTP(out, req)
	if got := out.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected incoming id to be preserved, got %q", got)
	}
}

func TestCreateRunValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["error"] != "invalid json" {
		t.Fatalf("unexpected error body: %v", body)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/runs", CreateRunRequest{WorkspacePath: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing workspace, got %d", rec.Code)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	srv, st := newTestServer(t)
	handler := srv.Handler()

	ws := t.TempDir()
	rec := doJSON(t, handler, http.MethodPost, "/v1/runs", CreateRunRequest{
		WorkspacePath: ws,
		SpecPath:      filepath.Join(ws, "specs", "demo", "spec.md"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var created CreateRunResponse
	decodeBody(t, rec, &created)
	if created.RunID == "" {
		t.Fatal("expected run id")
	}
	if _, err := st.GetRun(created.RunID); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/runs/"+created.RunID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var run store.Run
	decodeBody(t, rec, &run)
	if run.ID != created.RunID {
		t.Fatalf("unexpected run: %+v", run)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/runs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRunEventsJSONFormat(t *testing.T) {
	srv, st := newTestServer(t)
	ws := t.TempDir()
	run, err := st.CreateRun(ws, filepath.Join(ws, "spec.md"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.AppendEvent(run.ID, store.Event{TS: nowRFC3339(), RunID: run.ID, Type: "run_started"}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/runs/"+run.ID+"/events?format=json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var events []store.Event
	decodeBody(t, rec, &events)
	if len(events) != 1 || events[0].Type != "run_started" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSessionMessageWithoutAutoRun(t *testing.T) {
	srv, st := newTestServer(t)
	session, err := st.CreateSession(t.TempDir(), "", store.ModeChat, "")
	if err != nil {
		t.Fatal(err)
	}

	autoRun := false
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+session.ID+"/messages", AddMessageRequest{
		Role:    "user",
		Parts:   []MessagePartRequest{{Type: "text", Text: "hello"}},
		AutoRun: &autoRun,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp AddMessageResponse
	decodeBody(t, rec, &resp)
	if resp.MessageID == "" || resp.TurnID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	got, err := st.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || len(got.Turns) != 1 {
		t.Fatalf("expected 1 message and 1 turn, got %d/%d", len(got.Messages), len(got.Turns))
	}
}

func TestSessionMessageAutoRunRequiresRunner(t *testing.T) {
	srv, st := newTestServer(t)
	session, err := st.CreateSession(t.TempDir(), "", store.ModeChat, "")
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+session.ID+"/messages", AddMessageRequest{
		Role:  "user",
		Parts: []MessagePartRequest{{Type: "text", Text: "hi"}},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without session runner, got %d", rec.Code)
	}
}

func TestSpecModeSessionGetsDefaultSpecPath(t *testing.T) {
	srv, st := newTestServer(t)
	ws := t.TempDir()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions", CreateSessionRequest{
		WorkspacePath: ws,
		Mode:          store.ModeSpec,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp CreateSessionResponse
	decodeBody(t, rec, &resp)
	if !strings.Contains(resp.SpecPath, filepath.Join("specs", "session-"+resp.SessionID)) {
		t.Fatalf("unexpected spec path: %s", resp.SpecPath)
	}
	if _, err := os.Stat(resp.SpecPath); err != nil {
		t.Fatalf("spec file not scaffolded: %v", err)
	}

	events := st.ReadSessionEvents(resp.SessionID, 0)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	joined := strings.Join(types, ",")
	if !strings.Contains(joined, "spec_path_set") || !strings.Contains(joined, "spec_created") {
		t.Fatalf("missing spec events: %v", types)
	}
}

func TestSessionModeRejectsUnknownMode(t *testing.T) {
	srv, st := newTestServer(t)
	session, err := st.CreateSession(t.TempDir(), "", store.ModeChat, "")
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+session.ID+"/mode", UpdateSessionModeRequest{Mode: "agent"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSessionSpecPathEscapeRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions", CreateSessionRequest{
		WorkspacePath: t.TempDir(),
		Mode:          store.ModeSpec,
		SpecPath:      "../outside/spec.md",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for escaping spec path, got %d", rec.Code)
	}
}

func TestSessionAttachmentBase64(t *testing.T) {
	srv, st := newTestServer(t)
	session, err := st.CreateSession(t.TempDir(), "", store.ModeChat, "")
	if err != nil {
		t.Fatal(err)
	}
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/v1/sessions/"+session.ID+"/attachments", AttachmentUploadRequest{
		Name:          "notes.txt",
		MimeType:      "text/plain",
		ContentBase64: "aGVsbG8=",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp AttachmentUploadResponse
	decodeBody(t, rec, &resp)
	if resp.Ref == "" || resp.MimeType != "text/plain" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/sessions/"+session.ID+"/attachments", AttachmentUploadRequest{
		ContentBase64: "%%%not-base64%%%",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad base64, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/sessions/"+session.ID+"/attachments", AttachmentUploadRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d", rec.Code)
	}
}

func TestSpecGenerateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.SpecGen = stubSpecGen{content: "# Goal\n\nDo it\n\n# Constraints / nuances\n\n- none\n\n# Acceptance tests\n\n- make test\n"}
	handler := srv.Handler()
	ws := t.TempDir()

	rec := doJSON(t, handler, http.MethodPost, "/v1/specs/generate", GenerateSpecRequest{
		WorkspacePath: ws,
		SpecName:      "bad name!",
		Prompt:        "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsafe name, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/specs/generate", GenerateSpecRequest{
		WorkspacePath: ws,
		SpecName:      "login-page",
		Prompt:        "build a login page",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp GenerateSpecResponse
	decodeBody(t, rec, &resp)
	if resp.SpecPath != filepath.Join(ws, "specs", "login-page", "spec.md") {
		t.Fatalf("unexpected spec path: %s", resp.SpecPath)
	}
	if _, err := os.Stat(resp.SpecPath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(resp.SpecPath), "diagrams")); err != nil {
		t.Fatal(err)
	}

	// Existing spec without overwrite conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/v1/specs/generate", GenerateSpecRequest{
		WorkspacePath: ws,
		SpecName:      "login-page",
		Prompt:        "again",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/specs/generate", GenerateSpecRequest{
		WorkspacePath: ws,
		SpecName:      "login-page",
		Prompt:        "again",
		Overwrite:     true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with overwrite, got %d", rec.Code)
	}
}

func TestModelPolicyEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	svc := &stubModelSvc{policy: config.DefaultModelPolicy()}
	srv.ModelSvc = svc
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/v1/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var catalog struct {
		Models []kit.ModelRecord  `json:"models"`
		Policy config.ModelPolicy `json:"policy"`
	}
	decodeBody(t, rec, &catalog)
	if len(catalog.Models) != 1 {
		t.Fatalf("unexpected models: %+v", catalog.Models)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/model-policy", config.ModelPolicy{RequireTools: true, MaxCostUSD: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !svc.policy.RequireTools || svc.policy.MaxCostUSD != 2 {
		t.Fatalf("policy not applied: %+v", svc.policy)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/model-policy", nil)
	var got config.ModelPolicy
	decodeBody(t, rec, &got)
	if !got.RequireTools {
		t.Fatalf("unexpected policy: %+v", got)
	}
}

func TestModelEndpointsWithoutService(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/models", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without model service, got %d", rec.Code)
	}
}

func TestWorkspaceTree(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, handler, http.MethodGet, "/v1/workspace/tree", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without workspace_path, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/workspace/tree?workspace_path="+ws, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp WorkspaceTreeResponse
	decodeBody(t, rec, &resp)
	if len(resp.Files) != 1 || resp.Files[0] != "main.go" {
		t.Fatalf("unexpected files: %v", resp.Files)
	}
}

func TestRunApproveEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	ws := t.TempDir()
	run, err := st.CreateRun(ws, filepath.Join(ws, "spec.md"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.RequireApproval(run.ID, "step_1"); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/runs/"+run.ID+"/approve", ApproveRequest{StepID: "step_1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	events := st.ReadEvents(run.ID, 0)
	if len(events) != 1 || events[0].Type != "approval_granted" {
		t.Fatalf("unexpected events: %+v", events)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/runs/"+run.ID+"/approve", ApproveRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without step_id, got %d", rec.Code)
	}
}
