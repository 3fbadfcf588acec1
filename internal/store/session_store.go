package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
	"github.com/Volpestyle/vuhlp-code/internal/ids"
)

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.dataDir, "sessions", sessionID)
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "session.json")
}

func (s *Store) sessionEventsPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "events.ndjson")
}

func (s *Store) sessionAttachmentsDir(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "attachments")
}

func (s *Store) sessionArtifactsDir(sessionID, turnID string) string {
	return filepath.Join(s.sessionDir(sessionID), "artifacts", turnID)
}

// CreateSession persists a new active session and emits session_created.
func (s *Store) CreateSession(workspacePath, systemPrompt, mode, specPath string) (*Session, error) {
	if strings.TrimSpace(workspacePath) == "" {
		return nil, fmt.Errorf("workspace_path is empty")
	}
	if mode == "" {
		mode = ModeChat
	}
	session := &Session{
		ID:            ids.NewSession(),
		CreatedAt:     now(),
		UpdatedAt:     now(),
		Status:        SessionActive,
		Mode:          mode,
		WorkspacePath: workspacePath,
		SystemPrompt:  strings.TrimSpace(systemPrompt),
		SpecPath:      strings.TrimSpace(specPath),
		Messages:      []Message{},
		Turns:         []Turn{},
	}
	if err := os.MkdirAll(s.sessionDir(session.ID), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.sessionEventsPath(session.ID), nil, 0o644); err != nil {
		return nil, fmt.Errorf("create events log: %w", err)
	}
	if err := s.saveSession(session); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	if err := s.AppendSessionEvent(session.ID, SessionEvent{
		Type: "session_created",
		Data: map[string]any{"workspace_path": workspacePath},
	}); err != nil {
		return nil, err
	}
	return session.clone(), nil
}

func (s *Store) saveSession(session *Session) error {
	session.UpdatedAt = now()
	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(s.sessionPath(session.ID), append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write session.json: %w", err)
	}
	return nil
}

// UpdateSession replaces the stored session and persists it.
func (s *Store) UpdateSession(session *Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is nil")
	}
	cp := session.clone()
	s.mu.Lock()
	s.sessions[cp.ID] = cp
	s.mu.Unlock()
	return s.saveSession(cp)
}

// GetSession returns a copy of the session, or an error if unknown.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return session.clone(), nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// AppendMessage adds msg to the session transcript and persists it.
func (s *Store) AppendMessage(sessionID string, msg Message) (*Session, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	session.Messages = append(session.Messages, msg)
	if err := s.UpdateSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// AddTurn appends a pending turn and returns its id.
func (s *Store) AddTurn(sessionID string) (string, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	turn := Turn{ID: ids.NewTurn(), Status: TurnPending}
	session.Turns = append(session.Turns, turn)
	session.LastTurnID = turn.ID
	if err := s.UpdateSession(session); err != nil {
		return "", err
	}
	return turn.ID, nil
}

// AppendSessionEvent normalizes the event, appends it to the session's
// NDJSON log, and delivers it synchronously to every subscriber.
func (s *Store) AppendSessionEvent(sessionID string, ev SessionEvent) error {
	ev.TS = normalizeTS(ev.TS)
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}
	if err := appendNDJSON(s.sessionEventsPath(sessionID), ev); err != nil {
		return err
	}
	s.mu.RLock()
	handlers := make([]func(SessionEvent), 0, len(s.sessionSubs[sessionID]))
	for _, h := range s.sessionSubs[sessionID] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// SubscribeSession registers a live event handler. The returned
// function removes it.
func (s *Store) SubscribeSession(sessionID string, handler func(SessionEvent)) func() {
	s.mu.Lock()
	if s.sessionSubs[sessionID] == nil {
		s.sessionSubs[sessionID] = make(map[int]func(SessionEvent))
	}
	id := s.nextSub
	s.nextSub++
	s.sessionSubs[sessionID][id] = handler
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.sessionSubs[sessionID], id)
		s.mu.Unlock()
	}
}

// ReadSessionEvents returns up to maxItems events from the session's
// log, oldest first. maxItems <= 0 means all.
func (s *Store) ReadSessionEvents(sessionID string, maxItems int) []SessionEvent {
	var out []SessionEvent
	forEachNDJSONLine(s.sessionEventsPath(sessionID), func(line []byte) bool {
		var ev SessionEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return true
		}
		out = append(out, ev)
		return maxItems <= 0 || len(out) < maxItems
	})
	return out
}

// Attachment describes a stored upload.
type Attachment struct {
	Ref      string `json:"ref"`
	MimeType string `json:"mime_type"`
}

// SaveSessionAttachment stores an upload under the session's
// attachments directory. The filename is reduced to its base name;
// extensionless names get ".bin"; collisions get a fresh generated
// name with the original extension.
func (s *Store) SaveSessionAttachment(sessionID, filename, mimeType string, content []byte) (*Attachment, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id required")
	}
	dir := s.sessionAttachmentsDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	name := strings.TrimSpace(filename)
	if name == "" {
		name = ids.NewAttachment()
	}
	name = filepath.Base(name)
	if name == "." || name == "/" || name == string(filepath.Separator) {
		name = ids.NewAttachment()
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	ext := filepath.Ext(name)
	if ext == "" {
		name += ".bin"
	}
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		name = ids.NewAttachment() + ext
		target = filepath.Join(dir, name)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return nil, fmt.Errorf("write attachment: %w", err)
	}
	return &Attachment{Ref: "attachments/" + name, MimeType: mimeType}, nil
}

// RequireSessionApproval registers a pending approval gate for a tool
// call. At most one gate may exist per tool call at a time.
func (s *Store) RequireSessionApproval(sessionID, toolCallID string) error {
	if sessionID == "" || toolCallID == "" {
		return fmt.Errorf("session_id and tool_call_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionApprovals[sessionID] == nil {
		s.sessionApprovals[sessionID] = make(map[string]chan ApprovalDecision)
	}
	if _, exists := s.sessionApprovals[sessionID][toolCallID]; exists {
		return fmt.Errorf("approval already pending for tool call %s", toolCallID)
	}
	s.sessionApprovals[sessionID][toolCallID] = make(chan ApprovalDecision, 1)
	return nil
}

// ApproveSessionToolCall resolves a pending gate with the given
// decision. Resolving a gate twice is an error.
func (s *Store) ApproveSessionToolCall(sessionID, toolCallID string, decision ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiter, ok := s.sessionApprovals[sessionID][toolCallID]
	if !ok {
		return fmt.Errorf("no approval pending for tool call %s", toolCallID)
	}
	waiter <- decision
	delete(s.sessionApprovals[sessionID], toolCallID)
	return nil
}

// WaitForSessionApproval blocks until the tool call is resolved or the
// token fires.
func (s *Store) WaitForSessionApproval(sessionID, toolCallID string, token *cancel.Token) (ApprovalDecision, error) {
	s.mu.RLock()
	waiter, ok := s.sessionApprovals[sessionID][toolCallID]
	s.mu.RUnlock()
	if !ok {
		return ApprovalDecision{}, fmt.Errorf("no approval pending for tool call %s", toolCallID)
	}
	select {
	case decision := <-waiter:
		if decision.Action == "" {
			decision.Action = "approve"
		}
		return decision, nil
	case <-token.Done():
		err := token.Err()
		if err == nil {
			err = cancel.ErrCanceled
		}
		return ApprovalDecision{}, err
	}
}

// SetSessionCancel registers the token that CancelSession will trip.
func (s *Store) SetSessionCancel(sessionID string, token *cancel.Token) {
	s.mu.Lock()
	s.sessionCancels[sessionID] = token
	s.mu.Unlock()
}

// CancelSession trips the session's token and, when the session is
// still in flight, marks it canceled on disk.
func (s *Store) CancelSession(sessionID string) {
	s.mu.RLock()
	token := s.sessionCancels[sessionID]
	s.mu.RUnlock()
	if token != nil {
		token.Cancel(nil)
	}
	session, err := s.GetSession(sessionID)
	if err != nil {
		return
	}
	if session.Status == SessionActive || session.Status == SessionWaitingApproval {
		session.Status = SessionCanceled
		if session.Error == "" {
			session.Error = "canceled"
		}
		_ = s.UpdateSession(session)
	}
}

// ExportSession returns a zip archive of the session directory:
// session.json, events.ndjson, attachments, and per-turn artifacts.
func (s *Store) ExportSession(sessionID string) ([]byte, error) {
	dir := s.sessionDir(sessionID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	files := map[string][]byte{}
	for _, name := range []string{"session.json", "events.ndjson"} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		files[name] = raw
	}
	if err := addDirToZip(dir, filepath.Join(dir, "attachments"), files); err != nil {
		return nil, err
	}
	if err := addDirToZip(dir, filepath.Join(dir, "artifacts"), files); err != nil {
		return nil, err
	}
	return zipBytes(files)
}

// SessionArtifactsPath returns the path of a named artifact within a
// turn's artifact directory.
func (s *Store) SessionArtifactsPath(sessionID, turnID, name string) string {
	return filepath.Join(s.sessionArtifactsDir(sessionID, turnID), name)
}

// EnsureSessionArtifactsDir creates the artifact directory for a turn.
func (s *Store) EnsureSessionArtifactsDir(sessionID, turnID string) error {
	return os.MkdirAll(s.sessionArtifactsDir(sessionID, turnID), 0o755)
}

func forEachNDJSONLine(path string, fn func(line []byte) bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !fn([]byte(line)) {
			return
		}
	}
}
