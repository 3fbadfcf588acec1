package agent

import (
	"log/slog"
	"sync"

	"github.com/Volpestyle/vuhlp-code/internal/config"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
)

// ModelService exposes the model catalog and owns the live model
// policy. Policy updates propagate to the engines and persist to
// settings.json.
type ModelService struct {
	kit           *kit.Kit
	settingsPath  string
	runner        *Runner
	sessionRunner *SessionRunner
	logger        *slog.Logger

	mu     sync.Mutex
	policy config.ModelPolicy
}

// NewModelService wires the service to the kit and both engines.
// Either engine may be nil.
func NewModelService(k *kit.Kit, policy config.ModelPolicy, settingsPath string, runner *Runner, sessionRunner *SessionRunner, logger *slog.Logger) *ModelService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelService{
		kit:           k,
		settingsPath:  settingsPath,
		runner:        runner,
		sessionRunner: sessionRunner,
		logger:        logger,
		policy:        policy,
	}
}

// ListModels returns the full model catalog, empty when no provider is
// configured.
func (s *ModelService) ListModels() []kit.ModelRecord {
	if s.kit == nil {
		return []kit.ModelRecord{}
	}
	return s.kit.ListModelRecords()
}

// GetPolicy returns the current model policy.
func (s *ModelService) GetPolicy() config.ModelPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy replaces the policy, propagates it to the engines, and
// persists it.
func (s *ModelService) SetPolicy(policy config.ModelPolicy) error {
	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()

	if s.runner != nil {
		s.runner.SetPolicy(policy)
	}
	if s.sessionRunner != nil {
		s.sessionRunner.SetPolicy(policy)
	}
	if err := config.SaveSettings(s.settingsPath, config.Settings{ModelPolicy: policy}); err != nil {
		return err
	}
	s.logger.Info("model policy updated",
		"require_tools", policy.RequireTools,
		"require_vision", policy.RequireVision,
		"max_cost_usd", policy.MaxCostUSD,
		"preferred", policy.PreferredModels,
	)
	return nil
}
