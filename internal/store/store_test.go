package store

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return s
}

func TestCreateRunPersistsAndEmits(t *testing.T) {
	s := newTestStore(t)
	run, err := s.CreateRun("/tmp/ws", "/tmp/spec.md")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != RunQueued {
		t.Fatalf("expected queued, got %s", run.Status)
	}
	if _, err := os.Stat(filepath.Join(s.DataDirectory(), "runs", run.ID, "run.json")); err != nil {
		t.Fatalf("run.json missing: %v", err)
	}
	events := s.ReadEvents(run.ID, 0)
	if len(events) != 1 || events[0].Type != "run_created" {
		t.Fatalf("expected single run_created event, got %+v", events)
	}
	if events[0].Data["spec_path"] != "/tmp/spec.md" {
		t.Fatalf("event data missing spec_path: %+v", events[0].Data)
	}
}

func TestCreateRunValidation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateRun("  ", "/tmp/spec.md"); err == nil {
		t.Fatal("expected error for empty workspace")
	}
	if _, err := s.CreateRun("/tmp/ws", ""); err == nil {
		t.Fatal("expected error for empty spec")
	}
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	run, err := s.CreateRun("/tmp/ws", "/tmp/spec.md")
	if err != nil {
		t.Fatal(err)
	}
	sess, err := s.CreateSession("/tmp/ws", "", ModeChat, "")
	if err != nil {
		t.Fatal(err)
	}

	reloaded := New(dir)
	if err := reloaded.Init(); err != nil {
		t.Fatal(err)
	}
	if _, err := reloaded.GetRun(run.ID); err != nil {
		t.Fatalf("run lost across restart: %v", err)
	}
	if _, err := reloaded.GetSession(sess.ID); err != nil {
		t.Fatalf("session lost across restart: %v", err)
	}
}

func TestAppendEventFansOut(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.CreateRun("/tmp/ws", "/tmp/spec.md")

	var got []Event
	unsub := s.Subscribe(run.ID, func(ev Event) { got = append(got, ev) })
	defer unsub()

	if err := s.AppendEvent(run.ID, Event{Type: "step_started", Data: map[string]any{"step_id": "s1"}}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != "step_started" {
		t.Fatalf("subscriber not called: %+v", got)
	}
	if got[0].RunID != run.ID {
		t.Fatalf("run_id not filled in: %+v", got[0])
	}
	if _, err := time.Parse(time.RFC3339Nano, got[0].TS); err != nil {
		t.Fatalf("ts not normalized: %q", got[0].TS)
	}

	unsub()
	_ = s.AppendEvent(run.ID, Event{Type: "after_unsub"})
	if len(got) != 1 {
		t.Fatal("handler called after unsubscribe")
	}
}

func TestNormalizeTS(t *testing.T) {
	out := normalizeTS("2025-01-14T10:30:00+02:00")
	if !strings.HasPrefix(out, "2025-01-14T08:30:00") || !strings.HasSuffix(out, "Z") {
		t.Fatalf("expected UTC conversion, got %q", out)
	}
	if _, err := time.Parse(time.RFC3339Nano, normalizeTS("garbage")); err != nil {
		t.Fatalf("garbage ts should be replaced with now: %v", err)
	}
}

func TestReadEventsLimitAndCorruption(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.CreateRun("/tmp/ws", "/tmp/spec.md")
	for i := 0; i < 5; i++ {
		_ = s.AppendEvent(run.ID, Event{Type: "tick"})
	}
	// Inject a corrupt line; readers must skip it.
	f, err := os.OpenFile(filepath.Join(s.DataDirectory(), "runs", run.ID, "events.ndjson"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()
	_ = s.AppendEvent(run.ID, Event{Type: "tock"})

	all := s.ReadEvents(run.ID, 0)
	if len(all) != 7 {
		t.Fatalf("expected 7 parseable events, got %d", len(all))
	}
	limited := s.ReadEvents(run.ID, 3)
	if len(limited) != 3 {
		t.Fatalf("expected 3 events, got %d", len(limited))
	}
}

func TestRunApprovalFlow(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.CreateRun("/tmp/ws", "/tmp/spec.md")

	if err := s.RequireApproval(run.ID, "step1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequireApproval(run.ID, "step1"); err == nil {
		t.Fatal("duplicate gate should fail")
	}

	done := make(chan error, 1)
	go func() { done <- s.WaitForApproval(run.ID, "step1", nil) }()
	time.Sleep(20 * time.Millisecond)
	if err := s.Approve(run.ID, "step1"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait never returned")
	}

	if err := s.Approve(run.ID, "step1"); err == nil {
		t.Fatal("second approve should fail")
	}
}

func TestWaitForApprovalCancel(t *testing.T) {
	s := newTestStore(t)
	run, _ := s.CreateRun("/tmp/ws", "/tmp/spec.md")
	if err := s.RequireApproval(run.ID, "step1"); err != nil {
		t.Fatal(err)
	}
	tok := cancel.NewToken()
	done := make(chan error, 1)
	go func() { done <- s.WaitForApproval(run.ID, "step1", tok) }()
	tok.Cancel(nil)
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not observe cancellation")
	}
}

func TestSessionApprovalDecision(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp/ws", "", ModeChat, "")
	if err := s.RequireSessionApproval(sess.ID, "call1"); err != nil {
		t.Fatal(err)
	}
	type result struct {
		decision ApprovalDecision
		err      error
	}
	done := make(chan result, 1)
	go func() {
		d, err := s.WaitForSessionApproval(sess.ID, "call1", nil)
		done <- result{d, err}
	}()
	time.Sleep(20 * time.Millisecond)
	if err := s.ApproveSessionToolCall(sess.ID, "call1", ApprovalDecision{Action: "deny", Reason: "nope"}); err != nil {
		t.Fatal(err)
	}
	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.decision.Action != "deny" || res.decision.Reason != "nope" {
		t.Fatalf("unexpected decision: %+v", res.decision)
	}
	if err := s.ApproveSessionToolCall(sess.ID, "call1", ApprovalDecision{Action: "approve"}); err == nil {
		t.Fatal("resolving twice should fail")
	}
}

func TestCancelSessionMarksState(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp/ws", "", ModeChat, "")
	tok := cancel.NewToken()
	s.SetSessionCancel(sess.ID, tok)
	s.CancelSession(sess.ID)
	if !tok.Cancelled() {
		t.Fatal("token not tripped")
	}
	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != SessionCanceled || got.Error != "canceled" {
		t.Fatalf("session not marked canceled: %+v", got)
	}
}

func TestSaveSessionAttachment(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp/ws", "", ModeChat, "")

	att, err := s.SaveSessionAttachment(sess.ID, "../../evil.txt", "", []byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	if att.Ref != "attachments/evil.txt" {
		t.Fatalf("path not sanitized: %s", att.Ref)
	}
	if att.MimeType != "application/octet-stream" {
		t.Fatalf("default mime missing: %s", att.MimeType)
	}

	// Extensionless names get .bin.
	att, err = s.SaveSessionAttachment(sess.ID, "notes", "text/plain", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if att.Ref != "attachments/notes.bin" {
		t.Fatalf("expected .bin suffix, got %s", att.Ref)
	}

	// Collisions get a fresh name, keeping the extension.
	att2, err := s.SaveSessionAttachment(sess.ID, "evil.txt", "text/plain", []byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	if att2.Ref == "attachments/evil.txt" {
		t.Fatal("collision not renamed")
	}
	if !strings.HasSuffix(att2.Ref, ".txt") {
		t.Fatalf("extension lost on rename: %s", att2.Ref)
	}
}

func TestExportSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp/ws", "", ModeChat, "")
	if _, err := s.SaveSessionAttachment(sess.ID, "a.txt", "text/plain", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	turnID, err := s.AddTurn(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSessionArtifactsDir(sess.ID, turnID); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.SessionArtifactsPath(sess.ID, turnID, "out.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	blob, err := s.ExportSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"session.json", "events.ndjson", "attachments/a.txt", "artifacts/" + turnID + "/out.json"} {
		if !names[want] {
			t.Fatalf("archive missing %s, has %v", want, names)
		}
	}
}

func TestExportRunUnknown(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ExportRun("run_missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestAddTurnTracksLastTurn(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp/ws", "sys", ModeSpec, "specs/x.md")
	turnID, err := s.AddTurn(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSession(sess.ID)
	if got.LastTurnID != turnID {
		t.Fatalf("last_turn_id not updated: %+v", got)
	}
	if len(got.Turns) != 1 || got.Turns[0].Status != TurnPending {
		t.Fatalf("unexpected turns: %+v", got.Turns)
	}
}
