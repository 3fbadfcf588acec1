package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
	"github.com/Volpestyle/vuhlp-code/internal/config"
	"github.com/Volpestyle/vuhlp-code/internal/ids"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
	"github.com/Volpestyle/vuhlp-code/internal/observability"
	"github.com/Volpestyle/vuhlp-code/internal/spec"
	"github.com/Volpestyle/vuhlp-code/internal/store"
)

// maxTurnIterations bounds model/tool round trips within one turn.
const maxTurnIterations = 8

// RegistryFactory builds the toolset for a turn.
type RegistryFactory func(workspacePath string, verify VerifyPolicy) *Registry

// SessionRunner drives conversational turns: call the model, execute
// requested tools with approval gates, feed results back, repeat until
// the model stops asking for tools. One goroutine per turn; a session
// runs at most one turn at a time.
type SessionRunner struct {
	store   *store.Store
	kit     *kit.Kit
	logger  *slog.Logger
	metrics *observability.Metrics

	ToolsFactory   RegistryFactory
	VerifyPolicy   VerifyPolicy
	ApprovalPolicy ApprovalPolicy

	mu      sync.Mutex
	policy  config.ModelPolicy
	running map[string]bool
}

// NewSessionRunner wires a turn engine to the store and kit.
func NewSessionRunner(st *store.Store, k *kit.Kit, policy config.ModelPolicy, logger *slog.Logger) *SessionRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRunner{
		store:  st,
		kit:    k,
		logger: logger,
		ToolsFactory: func(workspacePath string, verify VerifyPolicy) *Registry {
			return DefaultRegistry(workspacePath, verify.Commands)
		},
		VerifyPolicy:   DefaultVerifyPolicy(),
		ApprovalPolicy: DefaultApprovalPolicy(),
		policy:         policy,
		running:        map[string]bool{},
	}
}

// SetMetrics attaches turn, tool, and LLM metrics. Optional.
func (r *SessionRunner) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// SetPolicy swaps the model policy for future turns.
func (r *SessionRunner) SetPolicy(policy config.ModelPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// StartTurn launches the turn in the background. A session can only
// run one turn at a time.
func (r *SessionRunner) StartTurn(sessionID, turnID string) error {
	r.mu.Lock()
	if r.running[sessionID] {
		r.mu.Unlock()
		return fmt.Errorf("session already running: %s", sessionID)
	}
	r.running[sessionID] = true
	r.mu.Unlock()

	token := cancel.NewToken()
	r.store.SetSessionCancel(sessionID, token)
	go r.executeTurn(sessionID, turnID, token)
	return nil
}

func (r *SessionRunner) executeTurn(sessionID, turnID string, token *cancel.Token) {
	if r.metrics != nil {
		r.metrics.TurnStarted()
	}
	defer func() {
		r.mu.Lock()
		delete(r.running, sessionID)
		r.mu.Unlock()
	}()

	if err := r.runTurn(sessionID, turnID, token); err != nil {
		if token.Cancelled() {
			r.cancelTurn(sessionID, turnID, token.Err())
			return
		}
		r.failTurn(sessionID, turnID, err)
	}
}

func (r *SessionRunner) runTurn(sessionID, turnID string, token *cancel.Token) error {
	session, err := r.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	turnIdx := -1
	for i, turn := range session.Turns {
		if turn.ID == turnID {
			turnIdx = i
		}
	}
	if turnIdx == -1 {
		return fmt.Errorf("turn not found: %s", turnID)
	}

	session.Status = store.SessionActive
	session.LastTurnID = turnID
	session.Turns[turnIdx].Status = store.TurnRunning
	session.Turns[turnIdx].StartedAt = nowRFC3339()
	session.Turns[turnIdx].Error = ""
	if err := r.store.UpdateSession(session); err != nil {
		return err
	}
	r.appendSessionEvent(sessionID, turnID, "turn_started", "", nil)

	bundle := GatherContext(session.WorkspacePath, token)

	r.mu.Lock()
	policy := r.policy
	r.mu.Unlock()
	model, err := resolveModel(r.kit, policy)
	if err != nil {
		return err
	}
	r.appendSessionEvent(sessionID, turnID, "model_resolved", "", map[string]any{"model": model.ID})

	registry := r.ToolsFactory(session.WorkspacePath, r.VerifyPolicy)
	if session.Mode == store.ModeSpec {
		if err := r.ensureSessionSpec(session, turnID); err != nil {
			return err
		}
		RegisterSpecTools(registry, session.SpecPath)
	}

	workspaceDirty := false
	toolCallCounts := map[string]int{}

	for iteration := 0; iteration < maxTurnIterations; iteration++ {
		if token.Cancelled() {
			return token.Err()
		}

		messages, err := r.buildKitMessages(session, bundle)
		if err != nil {
			return err
		}
		assistantText, toolCalls, cost, err := r.runModel(sessionID, turnID, model, messages, registry.KitDefinitions())
		if err != nil {
			return err
		}
		r.recordSessionCost(session, cost)

		// Dedup before execution: a repeated (tool, input) pair within
		// the turn carries no new information.
		var callsToRun []ToolCall
		for _, call := range toolCalls {
			if registry.Get(call.Name) == nil {
				return fmt.Errorf("unknown tool: %s", call.Name)
			}
			key := ToolCallKey(call.Name, call.Input)
			if toolCallCounts[key] > 0 {
				r.appendSkippedTool(sessionID, turnID, call, "duplicate tool call: no new info")
				continue
			}
			toolCallCounts[key]++
			callsToRun = append(callsToRun, call)
		}

		var assistantParts []store.MessagePart
		if strings.TrimSpace(assistantText) != "" {
			assistantParts = append(assistantParts, store.MessagePart{Type: "text", Text: assistantText})
		}
		for _, call := range callsToRun {
			assistantParts = append(assistantParts, store.MessagePart{
				Type:       "tool_use",
				ToolCallID: call.ID,
				ToolName:   call.Name,
				ToolInput:  parseToolInput(call.Input),
			})
		}
		if len(assistantParts) > 0 {
			if err := r.appendSessionMessage(session, turnID, store.Message{
				ID:        ids.NewMessage(),
				Role:      "assistant",
				Parts:     assistantParts,
				CreatedAt: nowRFC3339(),
			}); err != nil {
				return err
			}
		}

		if len(toolCalls) == 0 {
			if r.VerifyPolicy.AutoVerify && workspaceDirty {
				ok, err := r.invokeVerify(session, turnID, registry, token)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			return r.completeTurn(sessionID, turnID)
		}

		ranTool := false
		for _, call := range callsToRun {
			tool := registry.Get(call.Name)
			def := tool.Definition()
			ranTool = true

			if r.ApprovalPolicy.RequiresApproval(def) {
				denied, err := r.awaitApproval(session, turnID, call, token)
				if err != nil {
					return err
				}
				if denied {
					return fmt.Errorf("approval denied")
				}
			}

			result := r.invokeTool(sessionID, turnID, registry, call, token)
			if err := r.appendSessionMessage(session, turnID, store.Message{
				ID:         ids.NewMessage(),
				Role:       "tool",
				ToolCallID: call.ID,
				Parts:      result.Parts,
				CreatedAt:  nowRFC3339(),
			}); err != nil {
				return err
			}

			specWrite := session.Mode == store.ModeSpec && call.Name == "write_spec"
			if (def.Kind == KindWrite || def.Kind == KindExec) && !specWrite {
				workspaceDirty = true
			}

			if specWrite {
				ok, err := r.invokeSpecValidate(session, turnID, registry, token)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}

			if !result.OK {
				break
			}
		}

		if !ranTool {
			// All requested calls were duplicates; nothing new will
			// come from another identical iteration.
			if r.VerifyPolicy.AutoVerify && workspaceDirty {
				ok, err := r.invokeVerify(session, turnID, registry, token)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			return r.completeTurn(sessionID, turnID)
		}
	}
	return fmt.Errorf("max turn iterations reached")
}

func (r *SessionRunner) ensureSessionSpec(session *store.Session, turnID string) error {
	if strings.TrimSpace(session.SpecPath) == "" {
		path, err := spec.DefaultPath(session.WorkspacePath, "session-"+session.ID)
		if err != nil {
			return err
		}
		session.SpecPath = path
		if err := r.store.UpdateSession(session); err != nil {
			return err
		}
		r.appendSessionEvent(session.ID, turnID, "spec_path_set", "", map[string]any{"spec_path": session.SpecPath})
	}
	created, err := spec.EnsureFile(session.SpecPath)
	if err != nil {
		return err
	}
	if created {
		r.appendSessionEvent(session.ID, turnID, "spec_created", "", map[string]any{"spec_path": session.SpecPath})
	}
	return nil
}

// awaitApproval pauses the session for a human decision on call.
// Returns denied=true when the human rejects it.
func (r *SessionRunner) awaitApproval(session *store.Session, turnID string, call ToolCall, token *cancel.Token) (bool, error) {
	r.setSessionAndTurnStatus(session, turnID, store.SessionWaitingApproval, store.TurnWaitingApproval)
	if err := r.store.RequireSessionApproval(session.ID, call.ID); err != nil {
		return false, err
	}
	r.appendSessionEvent(session.ID, turnID, "approval_requested", "", map[string]any{
		"tool": call.Name, "tool_call_id": call.ID,
	})
	decision, err := r.store.WaitForSessionApproval(session.ID, call.ID, token)
	if err != nil {
		return false, err
	}
	if decision.Action == "deny" {
		r.appendSessionEvent(session.ID, turnID, "approval_denied", "", map[string]any{
			"tool": call.Name, "tool_call_id": call.ID, "reason": decision.Reason,
		})
		return true, nil
	}
	r.setSessionAndTurnStatus(session, turnID, store.SessionActive, store.TurnRunning)
	r.appendSessionEvent(session.ID, turnID, "approval_granted", "", map[string]any{
		"tool": call.Name, "tool_call_id": call.ID, "reason": decision.Reason,
	})
	return false, nil
}

func (r *SessionRunner) invokeTool(sessionID, turnID string, registry *Registry, call ToolCall, token *cancel.Token) *ToolResult {
	r.appendSessionEvent(sessionID, turnID, "tool_call_started", "", map[string]any{
		"tool": call.Name, "tool_call_id": call.ID,
	})
	start := time.Now()
	result := registry.Invoke(call, token)
	if r.metrics != nil {
		status := "success"
		if !result.OK {
			status = "error"
		}
		r.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	}
	r.appendSessionEvent(sessionID, turnID, "tool_call_completed", "", map[string]any{
		"tool": call.Name, "tool_call_id": call.ID, "ok": result.OK, "error": result.Error,
	})
	return result
}

func (r *SessionRunner) invokeVerify(session *store.Session, turnID string, registry *Registry, token *cancel.Token) (bool, error) {
	call := ToolCall{ID: ids.NewToolCall(), Name: "verify", Input: "{}"}
	tool := registry.Get("verify")
	if tool == nil {
		return false, fmt.Errorf("verify tool not configured")
	}
	if r.ApprovalPolicy.RequiresApproval(tool.Definition()) {
		if err := r.store.RequireSessionApproval(session.ID, call.ID); err != nil {
			return false, err
		}
		r.appendSessionEvent(session.ID, turnID, "approval_requested", "", map[string]any{
			"tool": call.Name, "tool_call_id": call.ID,
		})
		decision, err := r.store.WaitForSessionApproval(session.ID, call.ID, token)
		if err != nil {
			return false, err
		}
		if decision.Action == "deny" {
			return false, fmt.Errorf("verification denied")
		}
	}
	result := r.invokeTool(session.ID, turnID, registry, call, token)
	if err := r.appendSessionMessage(session, turnID, store.Message{
		ID:         ids.NewMessage(),
		Role:       "tool",
		ToolCallID: call.ID,
		Parts:      result.Parts,
		CreatedAt:  nowRFC3339(),
	}); err != nil {
		return false, err
	}
	return result.OK, nil
}

func (r *SessionRunner) invokeSpecValidate(session *store.Session, turnID string, registry *Registry, token *cancel.Token) (bool, error) {
	call := ToolCall{ID: ids.NewToolCall(), Name: "validate_spec", Input: "{}"}
	if registry.Get("validate_spec") == nil {
		return false, fmt.Errorf("validate_spec tool not configured")
	}
	result := r.invokeTool(session.ID, turnID, registry, call, token)
	r.appendSessionEvent(session.ID, turnID, "spec_validated", "", map[string]any{
		"ok": result.OK, "error": result.Error,
	})
	if err := r.appendSessionMessage(session, turnID, store.Message{
		ID:         ids.NewMessage(),
		Role:       "tool",
		ToolCallID: call.ID,
		Parts:      result.Parts,
		CreatedAt:  nowRFC3339(),
	}); err != nil {
		return false, err
	}
	return result.OK, nil
}

// appendSessionMessage persists msg, emits message_added, and mirrors
// it into the in-memory session used for prompt building.
func (r *SessionRunner) appendSessionMessage(session *store.Session, turnID string, msg store.Message) error {
	if _, err := r.store.AppendMessage(session.ID, msg); err != nil {
		return err
	}
	r.appendSessionEvent(session.ID, turnID, "message_added", "", map[string]any{
		"message_id": msg.ID, "role": msg.Role,
	})
	session.Messages = append(session.Messages, msg)
	return nil
}

func (r *SessionRunner) runModel(sessionID, turnID string, model kit.ModelRecord, messages []kit.Message, tools []kit.ToolDefinition) (string, []ToolCall, *kit.Cost, error) {
	start := time.Now()
	out, err := r.kit.Generate(context.Background(), kit.GenerateInput{
		Provider: model.Provider,
		Model:    model.ProviderModelID,
		Messages: messages,
		Tools:    tools,
	})
	if r.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		var promptTokens, completionTokens int
		if err == nil && out.Usage != nil {
			promptTokens = out.Usage.InputTokens
			completionTokens = out.Usage.OutputTokens
		}
		r.metrics.RecordLLMRequest(model.Provider, model.ProviderModelID, status, time.Since(start).Seconds(), promptTokens, completionTokens)
	}
	if err != nil {
		return "", nil, nil, err
	}
	if out.Text != "" {
		r.appendSessionEvent(sessionID, turnID, "model_output_delta", "", map[string]any{"delta": out.Text})
	}
	r.appendSessionEvent(sessionID, turnID, "model_output_completed", "", map[string]any{
		"finish_reason": out.FinishReason,
	})
	var calls []ToolCall
	for _, tc := range out.ToolCalls {
		call := FromKitCall(tc)
		if call.ID == "" {
			call.ID = ids.NewToolCall()
		}
		calls = append(calls, call)
	}
	return out.Text, calls, out.Cost, nil
}

func (r *SessionRunner) recordSessionCost(session *store.Session, cost *kit.Cost) {
	if cost == nil {
		return
	}
	if cost.InputCostUSD == nil && cost.OutputCostUSD == nil && cost.TotalCostUSD == nil {
		return
	}
	if session.Cost == nil {
		zero := 0.0
		in, out, total := zero, zero, zero
		session.Cost = &store.SessionCost{InputCostUSD: &in, OutputCostUSD: &out, TotalCostUSD: &total}
	}
	input := deref(cost.InputCostUSD)
	output := deref(cost.OutputCostUSD)
	total := input + output
	if cost.TotalCostUSD != nil {
		total = *cost.TotalCostUSD
	}
	*session.Cost.InputCostUSD = roundUSD(deref(session.Cost.InputCostUSD) + input)
	*session.Cost.OutputCostUSD = roundUSD(deref(session.Cost.OutputCostUSD) + output)
	*session.Cost.TotalCostUSD = roundUSD(deref(session.Cost.TotalCostUSD) + total)
	_ = r.store.UpdateSession(session)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func roundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// buildKitMessages assembles the prompt: system blocks (system prompt,
// spec-mode instructions, workspace context, current spec), then the
// prepared transcript.
func (r *SessionRunner) buildKitMessages(session *store.Session, bundle ContextBundle) ([]kit.Message, error) {
	var prelude []store.Message
	addSystem := func(text string) {
		prelude = append(prelude, store.Message{
			ID:        ids.NewMessage(),
			Role:      "system",
			Parts:     []store.MessagePart{{Type: "text", Text: text}},
			CreatedAt: nowRFC3339(),
		})
	}
	if strings.TrimSpace(session.SystemPrompt) != "" {
		addSystem(session.SystemPrompt)
	}
	if session.Mode == store.ModeSpec {
		addSystem(specModePrompt(session.SpecPath))
	}
	if text := bundle.Text(); text != "" {
		addSystem(text)
	}
	if session.Mode == store.ModeSpec && session.SpecPath != "" {
		if raw, err := os.ReadFile(session.SpecPath); err == nil && strings.TrimSpace(string(raw)) != "" {
			addSystem(fmt.Sprintf("CURRENT SPEC (%s):\n%s", session.SpecPath, raw))
		}
	}
	prepared := prepareSessionMessages(session.Messages, false)
	return r.toKitMessages(session.ID, append(prelude, prepared...)), nil
}

// prepareSessionMessages normalizes a transcript for a provider. When
// the provider has no tool protocol, tool_use parts are stripped and
// tool messages become labelled user text.
func prepareSessionMessages(messages []store.Message, supportsTools bool) []store.Message {
	var out []store.Message
	seenToolUses := map[string]bool{}
	for _, msg := range messages {
		normalized := msg
		for _, part := range normalized.Parts {
			if part.Type == "tool_use" && part.ToolCallID != "" {
				seenToolUses[part.ToolCallID] = true
			}
		}
		if !supportsTools && len(normalized.Parts) > 0 {
			var filtered []store.MessagePart
			for _, part := range normalized.Parts {
				if part.Type != "tool_use" {
					filtered = append(filtered, part)
				}
			}
			if len(filtered) == 0 {
				continue
			}
			normalized.Parts = filtered
		}
		if normalized.Role != "tool" {
			out = append(out, normalized)
			continue
		}
		if supportsTools && normalized.ToolCallID != "" && seenToolUses[normalized.ToolCallID] {
			out = append(out, normalized)
			continue
		}
		text := toolMessageText(normalized.Parts)
		if strings.TrimSpace(text) == "" {
			text = "(no output)"
		}
		label := "TOOL OUTPUT"
		if normalized.ToolCallID != "" {
			label = fmt.Sprintf("TOOL OUTPUT (%s)", normalized.ToolCallID)
		}
		out = append(out, store.Message{
			ID:        normalized.ID,
			Role:      "user",
			Parts:     []store.MessagePart{{Type: "text", Text: label + ":\n" + text}},
			CreatedAt: normalized.CreatedAt,
		})
	}
	for i, msg := range out {
		if msg.Role == "assistant" {
			out[i].Parts = trimTextParts(msg.Parts)
		}
	}
	return out
}

func (r *SessionRunner) toKitMessages(sessionID string, messages []store.Message) []kit.Message {
	out := make([]kit.Message, 0, len(messages))
	for _, msg := range messages {
		var parts []kit.ContentPart
		for _, part := range msg.Parts {
			switch part.Type {
			case "text":
				parts = append(parts, kit.ContentPart{Type: "text", Text: part.Text})
			case "tool_use":
				continue
			case "image":
				if img := r.loadImageAttachment(sessionID, part.Ref, part.MimeType); img != nil {
					parts = append(parts, kit.ContentPart{Type: "image", Image: img})
				} else {
					parts = append(parts, kit.ContentPart{Type: "text", Text: fmt.Sprintf("[image: %s]", part.Ref)})
				}
			default:
				if part.Ref != "" {
					parts = append(parts, kit.ContentPart{Type: "text", Text: fmt.Sprintf("[%s: %s]", part.Type, part.Ref)})
				} else if part.Text != "" {
					parts = append(parts, kit.ContentPart{Type: "text", Text: part.Text})
				}
			}
		}
		out = append(out, kit.Message{Role: msg.Role, Content: parts, ToolCallID: msg.ToolCallID})
	}
	return out
}

// loadImageAttachment reads an attachment ref from the session
// directory. Refs that escape the session directory are refused.
func (r *SessionRunner) loadImageAttachment(sessionID, ref, mimeType string) *kit.ImageData {
	if ref == "" {
		return nil
	}
	base := filepath.Join(r.store.DataDirectory(), "sessions", sessionID)
	target := filepath.Join(base, strings.TrimPrefix(ref, "/"))
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &kit.ImageData{
		Base64:    base64.StdEncoding.EncodeToString(data),
		MediaType: mimeType,
	}
}

func (r *SessionRunner) setSessionAndTurnStatus(session *store.Session, turnID, sessionStatus, turnStatus string) {
	session.Status = sessionStatus
	for i := range session.Turns {
		if session.Turns[i].ID == turnID {
			session.Turns[i].Status = turnStatus
		}
	}
	_ = r.store.UpdateSession(session)
}

func (r *SessionRunner) appendSkippedTool(sessionID, turnID string, call ToolCall, reason string) {
	if r.metrics != nil {
		r.metrics.RecordToolExecution(call.Name, "skipped", 0)
	}
	r.appendSessionEvent(sessionID, turnID, "tool_call_skipped", "", map[string]any{
		"tool": call.Name, "tool_call_id": call.ID, "reason": reason,
	})
	r.appendSessionEvent(sessionID, turnID, "tool_call_completed", "", map[string]any{
		"tool": call.Name, "tool_call_id": call.ID, "ok": false, "error": reason, "skipped": true,
	})
}

func (r *SessionRunner) completeTurn(sessionID, turnID string) error {
	session, err := r.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	session.Status = store.SessionActive
	session.Error = ""
	for i := range session.Turns {
		if session.Turns[i].ID == turnID {
			session.Turns[i].Status = store.TurnSucceeded
			session.Turns[i].CompletedAt = nowRFC3339()
		}
	}
	if err := r.store.UpdateSession(session); err != nil {
		return err
	}
	r.appendSessionEvent(sessionID, turnID, "turn_completed", "", nil)
	if r.metrics != nil {
		r.metrics.TurnFinished("succeeded")
	}
	return nil
}

func (r *SessionRunner) failTurn(sessionID, turnID string, cause error) {
	session, err := r.store.GetSession(sessionID)
	if err != nil {
		return
	}
	session.Status = store.SessionFailed
	session.Error = cause.Error()
	for i := range session.Turns {
		if session.Turns[i].ID == turnID {
			session.Turns[i].Status = store.TurnFailed
			session.Turns[i].CompletedAt = nowRFC3339()
			session.Turns[i].Error = cause.Error()
		}
	}
	_ = r.store.UpdateSession(session)
	r.appendSessionEvent(sessionID, turnID, "turn_failed", cause.Error(), nil)
	if r.metrics != nil {
		r.metrics.TurnFinished("failed")
	}
	r.logger.Error("turn failed", "session_id", sessionID, "turn_id", turnID, "error", cause)
}

func (r *SessionRunner) cancelTurn(sessionID, turnID string, cause error) {
	session, err := r.store.GetSession(sessionID)
	if err != nil {
		return
	}
	msg := "canceled"
	if cause != nil {
		msg = cause.Error()
	}
	session.Status = store.SessionCanceled
	session.Error = msg
	for i := range session.Turns {
		if session.Turns[i].ID == turnID {
			session.Turns[i].Status = store.TurnFailed
			session.Turns[i].CompletedAt = nowRFC3339()
			session.Turns[i].Error = msg
		}
	}
	_ = r.store.UpdateSession(session)
	r.appendSessionEvent(sessionID, turnID, "session_canceled", msg, nil)
	if r.metrics != nil {
		r.metrics.TurnFinished("canceled")
	}
	r.logger.Info("turn canceled", "session_id", sessionID, "turn_id", turnID)
}

func (r *SessionRunner) appendSessionEvent(sessionID, turnID, eventType, message string, data map[string]any) {
	_ = r.store.AppendSessionEvent(sessionID, store.SessionEvent{
		TurnID:  turnID,
		Type:    eventType,
		Message: message,
		Data:    data,
	})
}

func toolMessageText(parts []store.MessagePart) string {
	var out []string
	for _, part := range parts {
		if part.Type == "text" && strings.TrimSpace(part.Text) != "" {
			out = append(out, part.Text)
		} else if part.Ref != "" {
			out = append(out, fmt.Sprintf("[%s: %s]", part.Type, part.Ref))
		}
	}
	return strings.Join(out, "\n")
}

func trimTextParts(parts []store.MessagePart) []store.MessagePart {
	out := make([]store.MessagePart, len(parts))
	for i, part := range parts {
		out[i] = part
		if part.Type == "text" {
			out[i].Text = strings.TrimRight(part.Text, " \t\r\n")
		}
	}
	return out
}

// parseToolInput decodes a tool argument string for persistence.
// Unparsable input is kept verbatim.
func parseToolInput(input string) any {
	raw := strings.TrimSpace(input)
	if raw == "" || raw == "null" {
		return map[string]any{}
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

func specModePrompt(specPath string) string {
	var sb strings.Builder
	sb.WriteString("You are in spec-session mode.\n")
	sb.WriteString("Keep the spec as the primary artifact and update it using the write_spec tool.\n")
	sb.WriteString("The spec must include headings: # Goal, # Constraints / nuances, # Acceptance tests.\n")
	if strings.TrimSpace(specPath) != "" {
		sb.WriteString("Spec path: " + specPath + "\n")
	}
	return strings.TrimSpace(sb.String())
}
