package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
	"github.com/Volpestyle/vuhlp-code/internal/ids"
)

// Store owns the on-disk run and session state. All mutation goes
// through it; callers get defensive copies back.
type Store struct {
	dataDir string

	mu               sync.RWMutex
	runs             map[string]*Run
	sessions         map[string]*Session
	subs             map[string]map[int]func(Event)
	sessionSubs      map[string]map[int]func(SessionEvent)
	approvals        map[string]map[string]chan struct{}
	sessionApprovals map[string]map[string]chan ApprovalDecision
	cancels          map[string]*cancel.Token
	sessionCancels   map[string]*cancel.Token
	nextSub          int
}

// New creates a store rooted at dataDir. Call Init before use.
func New(dataDir string) *Store {
	return &Store{
		dataDir:          dataDir,
		runs:             make(map[string]*Run),
		sessions:         make(map[string]*Session),
		subs:             make(map[string]map[int]func(Event)),
		sessionSubs:      make(map[string]map[int]func(SessionEvent)),
		approvals:        make(map[string]map[string]chan struct{}),
		sessionApprovals: make(map[string]map[string]chan ApprovalDecision),
		cancels:          make(map[string]*cancel.Token),
		sessionCancels:   make(map[string]*cancel.Token),
	}
}

// DataDirectory returns the store root.
func (s *Store) DataDirectory() string { return s.dataDir }

// Init creates the directory layout and loads any existing runs and
// sessions from disk. Corrupt entries are skipped.
func (s *Store) Init() error {
	if strings.TrimSpace(s.dataDir) == "" {
		return fmt.Errorf("data_dir is empty")
	}
	for _, dir := range []string{filepath.Join(s.dataDir, "runs"), filepath.Join(s.dataDir, "sessions")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s.loadExistingRuns()
	s.loadExistingSessions()
	return nil
}

func (s *Store) loadExistingRuns() {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "runs"))
	if err != nil {
		return
	}
	for _, entry := range entries {
		raw, err := os.ReadFile(s.runPath(entry.Name()))
		if err != nil {
			continue
		}
		var run Run
		if err := json.Unmarshal(raw, &run); err != nil || run.ID == "" {
			continue
		}
		s.runs[run.ID] = &run
	}
}

func (s *Store) loadExistingSessions() {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "sessions"))
	if err != nil {
		return
	}
	for _, entry := range entries {
		raw, err := os.ReadFile(s.sessionPath(entry.Name()))
		if err != nil {
			continue
		}
		var session Session
		if err := json.Unmarshal(raw, &session); err != nil || session.ID == "" {
			continue
		}
		s.sessions[session.ID] = &session
	}
}

func (s *Store) runDir(runID string) string    { return filepath.Join(s.dataDir, "runs", runID) }
func (s *Store) runPath(runID string) string   { return filepath.Join(s.runDir(runID), "run.json") }
func (s *Store) eventsPath(runID string) string {
	return filepath.Join(s.runDir(runID), "events.ndjson")
}

// CreateRun persists a new queued run and emits run_created.
func (s *Store) CreateRun(workspacePath, specPath string) (*Run, error) {
	if strings.TrimSpace(workspacePath) == "" {
		return nil, fmt.Errorf("workspace_path is empty")
	}
	if strings.TrimSpace(specPath) == "" {
		return nil, fmt.Errorf("spec_path is empty")
	}
	run := &Run{
		ID:            ids.NewRun(),
		CreatedAt:     now(),
		UpdatedAt:     now(),
		Status:        RunQueued,
		WorkspacePath: workspacePath,
		SpecPath:      specPath,
	}
	if err := os.MkdirAll(s.runDir(run.ID), 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := os.WriteFile(s.eventsPath(run.ID), nil, 0o644); err != nil {
		return nil, fmt.Errorf("create events log: %w", err)
	}
	if err := s.saveRun(run); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	if err := s.AppendEvent(run.ID, Event{
		Type: "run_created",
		Data: map[string]any{"workspace_path": workspacePath, "spec_path": specPath},
	}); err != nil {
		return nil, err
	}
	return run.clone(), nil
}

func (s *Store) saveRun(run *Run) error {
	run.UpdatedAt = now()
	raw, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := os.WriteFile(s.runPath(run.ID), append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

// UpdateRun replaces the stored run and persists it.
func (s *Store) UpdateRun(run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run is nil")
	}
	cp := run.clone()
	s.mu.Lock()
	s.runs[cp.ID] = cp
	s.mu.Unlock()
	return s.saveRun(cp)
}

// GetRun returns a copy of the run, or an error if unknown.
func (s *Store) GetRun(runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return run.clone(), nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() []*Run {
	s.mu.RLock()
	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// AppendEvent normalizes the event, appends it to the run's NDJSON log,
// and delivers it synchronously to every subscriber.
func (s *Store) AppendEvent(runID string, ev Event) error {
	ev.TS = normalizeTS(ev.TS)
	if ev.RunID == "" {
		ev.RunID = runID
	}
	if err := appendNDJSON(s.eventsPath(runID), ev); err != nil {
		return err
	}
	s.mu.RLock()
	handlers := make([]func(Event), 0, len(s.subs[runID]))
	for _, h := range s.subs[runID] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Subscribe registers a live event handler. The returned function
// removes it.
func (s *Store) Subscribe(runID string, handler func(Event)) func() {
	s.mu.Lock()
	if s.subs[runID] == nil {
		s.subs[runID] = make(map[int]func(Event))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[runID][id] = handler
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs[runID], id)
		s.mu.Unlock()
	}
}

// ReadEvents returns up to maxItems events from the run's log, oldest
// first. maxItems <= 0 means all. Malformed lines are skipped.
func (s *Store) ReadEvents(runID string, maxItems int) []Event {
	var out []Event
	forEachNDJSONLine(s.eventsPath(runID), func(line []byte) bool {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return true
		}
		out = append(out, ev)
		return maxItems <= 0 || len(out) < maxItems
	})
	return out
}

// RequireApproval registers a pending approval gate for a step. At most
// one gate may exist per step at a time.
func (s *Store) RequireApproval(runID, stepID string) error {
	if runID == "" || stepID == "" {
		return fmt.Errorf("run_id and step_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approvals[runID] == nil {
		s.approvals[runID] = make(map[string]chan struct{})
	}
	if _, exists := s.approvals[runID][stepID]; exists {
		return fmt.Errorf("approval already pending for step %s", stepID)
	}
	s.approvals[runID][stepID] = make(chan struct{})
	return nil
}

// Approve releases the pending gate for a step. Approving a step with
// no pending gate is an error, which also makes double-approval fail.
func (s *Store) Approve(runID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiter, ok := s.approvals[runID][stepID]
	if !ok {
		return fmt.Errorf("no approval pending for step %s", stepID)
	}
	close(waiter)
	delete(s.approvals[runID], stepID)
	return nil
}

// WaitForApproval blocks until the step is approved or the token fires.
func (s *Store) WaitForApproval(runID, stepID string, token *cancel.Token) error {
	s.mu.RLock()
	waiter, ok := s.approvals[runID][stepID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no approval pending for step %s", stepID)
	}
	select {
	case <-waiter:
		return nil
	case <-token.Done():
		if err := token.Err(); err != nil {
			return err
		}
		return cancel.ErrCanceled
	}
}

// SetRunCancel registers the token that CancelRun will trip.
func (s *Store) SetRunCancel(runID string, token *cancel.Token) {
	s.mu.Lock()
	s.cancels[runID] = token
	s.mu.Unlock()
}

// CancelRun trips the run's cancellation token, if registered.
func (s *Store) CancelRun(runID string) {
	s.mu.RLock()
	token := s.cancels[runID]
	s.mu.RUnlock()
	if token != nil {
		token.Cancel(nil)
	}
}

// RunArtifactsDir returns the artifacts directory for a run, creating
// it if needed.
func (s *Store) RunArtifactsDir(runID string) (string, error) {
	dir := filepath.Join(s.runDir(runID), "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	return dir, nil
}

// ExportRun returns a zip archive of the run directory: run.json,
// events.ndjson, and any artifacts.
func (s *Store) ExportRun(runID string) ([]byte, error) {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	files := map[string][]byte{}
	for _, name := range []string{"run.json", "events.ndjson"} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		files[name] = raw
	}
	if err := addDirToZip(dir, filepath.Join(dir, "artifacts"), files); err != nil {
		return nil, err
	}
	return zipBytes(files)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// normalizeTS rewrites ts as UTC RFC 3339; unparseable input gets the
// current time.
func normalizeTS(ts string) string {
	if ts == "" {
		return now()
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		if parsed, err = time.Parse(time.RFC3339, ts); err != nil {
			return now()
		}
	}
	return parsed.UTC().Format(time.RFC3339Nano)
}

func appendNDJSON(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
