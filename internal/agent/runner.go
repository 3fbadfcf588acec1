package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
	"github.com/Volpestyle/vuhlp-code/internal/config"
	"github.com/Volpestyle/vuhlp-code/internal/exec"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
	"github.com/Volpestyle/vuhlp-code/internal/observability"
	"github.com/Volpestyle/vuhlp-code/internal/spec"
	"github.com/Volpestyle/vuhlp-code/internal/store"
)

const stepCommandTimeout = 30 * time.Minute

// Runner executes plan-driven runs: load the spec, gather context,
// generate a plan, and execute the steps with approval gates. One
// goroutine per run; a run id can only execute once at a time.
type Runner struct {
	store   *store.Store
	kit     *kit.Kit
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	policy  config.ModelPolicy
	running map[string]bool
}

// NewRunner wires a run engine to the store and kit.
func NewRunner(st *store.Store, k *kit.Kit, policy config.ModelPolicy, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   st,
		kit:     k,
		logger:  logger,
		policy:  policy,
		running: map[string]bool{},
	}
}

// SetMetrics attaches run outcome metrics. Optional.
func (r *Runner) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// SetPolicy swaps the model policy for future runs.
func (r *Runner) SetPolicy(policy config.ModelPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// StartRun launches the run in the background. Starting an already
// running run is a no-op.
func (r *Runner) StartRun(runID string) {
	r.mu.Lock()
	if r.running[runID] {
		r.mu.Unlock()
		return
	}
	r.running[runID] = true
	r.mu.Unlock()

	token := cancel.NewToken()
	r.store.SetRunCancel(runID, token)
	go r.execute(runID, token)
}

func (r *Runner) execute(runID string, token *cancel.Token) {
	defer func() {
		r.mu.Lock()
		delete(r.running, runID)
		r.mu.Unlock()
	}()

	if err := r.run(runID, token); err != nil {
		if token.Cancelled() {
			r.cancelRun(runID, token.Err())
			return
		}
		r.failRun(runID, err)
	}
}

func (r *Runner) run(runID string, token *cancel.Token) error {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return err
	}
	run.Status = store.RunRunning
	if err := r.store.UpdateRun(run); err != nil {
		return err
	}
	r.appendEvent(runID, "run_started", "run started", nil)

	created, err := spec.EnsureFile(run.SpecPath)
	if err != nil {
		return err
	}
	if created {
		r.appendEvent(runID, "spec_created", "", map[string]any{"spec_path": run.SpecPath})
	}

	raw, err := os.ReadFile(run.SpecPath)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}
	specText := string(raw)
	r.appendEvent(runID, "spec_loaded", "", map[string]any{"bytes": len(specText)})

	bundle := GatherContext(run.WorkspacePath, token)
	r.appendEvent(runID, "context_gathered", "", map[string]any{
		"has_agents_md": bundle.AgentsMD != "",
		"repo_tree_len": lineCount(bundle.RepoTree),
		"repo_map_len":  lineCount(bundle.RepoMap),
	})

	r.mu.Lock()
	policy := r.policy
	r.mu.Unlock()
	model, err := resolveModel(r.kit, policy)
	if err != nil {
		return err
	}
	run.ModelCanonical = model.ID
	if err := r.store.UpdateRun(run); err != nil {
		return err
	}
	r.appendEvent(runID, "model_resolved", "", map[string]any{"model": model.ID})

	plan, err := GeneratePlan(context.Background(), r.kit, model, specText, bundle)
	if err != nil {
		return err
	}
	r.appendEvent(runID, "plan_generated", "", map[string]any{"steps": len(plan.Steps)})

	run.Steps = make([]store.Step, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		run.Steps = append(run.Steps, store.Step{
			ID:            step.ID,
			Title:         step.Title,
			Type:          step.Type,
			NeedsApproval: step.NeedsApproval,
			Command:       step.Command,
			Patch:         step.Patch,
			Status:        store.StepPending,
		})
	}
	if err := r.store.UpdateRun(run); err != nil {
		return err
	}

	for _, step := range plan.Steps {
		if token.Cancelled() {
			return token.Err()
		}
		if err := r.executeStep(runID, step, token); err != nil {
			return err
		}
	}

	run, err = r.store.GetRun(runID)
	if err != nil {
		return err
	}
	run.Status = store.RunSucceeded
	run.Error = ""
	if err := r.store.UpdateRun(run); err != nil {
		return err
	}
	r.appendEvent(runID, "run_succeeded", "run completed successfully", nil)
	if r.metrics != nil {
		r.metrics.RunFinished("succeeded")
	}
	return nil
}

func (r *Runner) executeStep(runID string, step PlanStep, token *cancel.Token) error {
	r.appendEvent(runID, "step_started", "", map[string]any{
		"step_id": step.ID, "title": step.Title, "type": step.Type,
	})
	r.setStepStatus(runID, step.ID, store.StepRunning, true, false)

	if step.NeedsApproval {
		r.setRunAndStepStatus(runID, step.ID, store.RunWaitingApproval, store.StepWaitingApproval)
		if err := r.store.RequireApproval(runID, step.ID); err != nil {
			return err
		}
		r.appendEvent(runID, "approval_requested", "", map[string]any{
			"step_id": step.ID, "title": step.Title,
		})
		if err := r.store.WaitForApproval(runID, step.ID, token); err != nil {
			return err
		}
		r.setRunAndStepStatus(runID, step.ID, store.RunRunning, store.StepRunning)
	}

	switch strings.ToLower(step.Type) {
	case "command":
		return r.execCommandStep(runID, step, token)
	case "patch":
		return r.execPatchStep(runID, step, token)
	case "diagram":
		diagram := step
		diagram.Type = "command"
		diagram.Command = "make diagrams"
		return r.execCommandStep(runID, diagram, token)
	default:
		return r.completeStep(runID, step.ID, true, "")
	}
}

func (r *Runner) execCommandStep(runID string, step PlanStep, token *cancel.Token) error {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(step.Command) == "" {
		return r.completeStep(runID, step.ID, true, "no command (skipped)")
	}

	res, runErr := exec.Run(step.Command, exec.Options{
		Dir:     run.WorkspacePath,
		Timeout: stepCommandTimeout,
		Token:   token,
	})
	var payload any = res
	exitCode := 1
	if res != nil {
		exitCode = res.ExitCode
	}
	if res == nil && runErr != nil {
		payload = map[string]any{"error": runErr.Error()}
	}
	artifactRel, err := r.writeArtifact(runID, step.ID, "command.json", payload)
	if err != nil {
		return err
	}
	r.appendEvent(runID, "command_executed", "", map[string]any{
		"step_id":      step.ID,
		"cmd":          step.Command,
		"exit_code":    exitCode,
		"artifact_rel": artifactRel,
	})
	if runErr != nil {
		if err := r.completeStep(runID, step.ID, false, "command failed"); err != nil {
			return err
		}
		return fmt.Errorf("command failed")
	}
	return r.completeStep(runID, step.ID, true, "")
}

func (r *Runner) execPatchStep(runID string, step PlanStep, token *cancel.Token) error {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(step.Patch) == "" {
		return r.completeStep(runID, step.ID, true, "no patch (skipped)")
	}

	res, applyErr := exec.ApplyUnifiedDiff(run.WorkspacePath, step.Patch, token)
	applied := false
	var payload any = res
	if res != nil {
		applied = res.Applied
	} else {
		payload = map[string]any{"applied": false, "error": applyErr.Error()}
	}
	artifactRel, err := r.writeArtifact(runID, step.ID, "patch_apply.json", payload)
	if err != nil {
		return err
	}
	r.appendEvent(runID, "patch_applied", "", map[string]any{
		"step_id":      step.ID,
		"applied":      applied,
		"artifact_rel": artifactRel,
	})
	if applyErr != nil {
		if err := r.completeStep(runID, step.ID, false, "patch apply error"); err != nil {
			return err
		}
		return fmt.Errorf("patch apply error")
	}
	return r.completeStep(runID, step.ID, true, "")
}

func (r *Runner) completeStep(runID, stepID string, ok bool, msg string) error {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return err
	}
	status := store.StepSucceeded
	eventType := "step_completed"
	if !ok {
		status = store.StepFailed
		eventType = "step_failed"
	}
	for i := range run.Steps {
		if run.Steps[i].ID == stepID {
			run.Steps[i].CompletedAt = nowRFC3339()
			run.Steps[i].Status = status
		}
	}
	if err := r.store.UpdateRun(run); err != nil {
		return err
	}
	r.appendEvent(runID, eventType, msg, map[string]any{"step_id": stepID, "ok": ok})
	return nil
}

func (r *Runner) writeArtifact(runID, stepID, name string, payload any) (string, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	dir, err := r.store.RunArtifactsDir(runID)
	if err != nil {
		return "", err
	}
	stepDir := filepath.Join(dir, stepID)
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stepDir, name), append(raw, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return "artifacts/" + stepID + "/" + name, nil
}

func (r *Runner) setStepStatus(runID, stepID, status string, markStarted, markCompleted bool) {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return
	}
	for i := range run.Steps {
		if run.Steps[i].ID == stepID {
			run.Steps[i].Status = status
			if markStarted {
				run.Steps[i].StartedAt = nowRFC3339()
			}
			if markCompleted {
				run.Steps[i].CompletedAt = nowRFC3339()
			}
		}
	}
	_ = r.store.UpdateRun(run)
}

func (r *Runner) setRunAndStepStatus(runID, stepID, runStatus, stepStatus string) {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return
	}
	run.Status = runStatus
	for i := range run.Steps {
		if run.Steps[i].ID == stepID {
			run.Steps[i].Status = stepStatus
		}
	}
	_ = r.store.UpdateRun(run)
}

func (r *Runner) failRun(runID string, cause error) {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return
	}
	run.Status = store.RunFailed
	run.Error = cause.Error()
	_ = r.store.UpdateRun(run)
	r.appendEvent(runID, "run_failed", cause.Error(), nil)
	if r.metrics != nil {
		r.metrics.RunFinished("failed")
	}
	r.logger.Error("run failed", "run_id", runID, "error", cause)
}

func (r *Runner) cancelRun(runID string, cause error) {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return
	}
	run.Status = store.RunCanceled
	run.Error = ""
	_ = r.store.UpdateRun(run)
	msg := "canceled"
	if cause != nil {
		msg = cause.Error()
	}
	r.appendEvent(runID, "run_canceled", msg, nil)
	if r.metrics != nil {
		r.metrics.RunFinished("canceled")
	}
	r.logger.Info("run canceled", "run_id", runID)
}

func (r *Runner) appendEvent(runID, eventType, message string, data map[string]any) {
	_ = r.store.AppendEvent(runID, store.Event{
		Type:    eventType,
		Message: message,
		Data:    data,
	})
}

func lineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
