// Package scenario implements the Scenario Runner: an ordered sequence
// of validation steps sharing a single piece of opaque forwarded
// state, after synthetic_runner.py's per-run scenario loop.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Status is the outcome of one step.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusUnknown Status = "UNKNOWN"
)

// StepResult records how one step ran.
type StepResult struct {
	StepID    string
	Name      string
	Status    Status
	Success   bool
	LatencyMS float64
	Details   map[string]interface{}
	Err       string
}

// State is the shared, opaque context steps use to forward values to
// later steps (e.g. alert_id → incident_id → evidence_id).
type State map[string]interface{}

// Step is one unit of scenario work. Implementations read and write
// State to forward identifiers to later steps.
type Step interface {
	ID() string
	Name() string
	// Timeout bounds a single attempt at this step.
	Timeout() time.Duration
	// MaxRetries is how many additional attempts are made after the
	// first failure, with exponential backoff between attempts.
	MaxRetries() int
	Run(ctx context.Context, state State) error
}

// Scenario is an ordered list of steps executed in sequence. A failing
// required step still lets later steps run (so the full result set is
// captured), but the scenario as a whole is recorded as failed.
type Scenario struct {
	ID    string
	Name  string
	Steps []Step
}

// Runner executes a Scenario step by step, retrying each step with
// exponential backoff and rate-limiting how fast a single step may
// re-invoke its underlying endpoint across retries.
type Runner struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRunner returns a Runner. limiter throttles retries within a
// single step, on top of the backoff between those retries; neither
// delays the start of the next step. Pass nil for no additional
// throttling.
func NewRunner(limiter *rate.Limiter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{limiter: limiter, logger: logger}
}

// Run executes every step of s in order against a fresh State,
// returning one StepResult per step and whether every step succeeded.
func (r *Runner) Run(ctx context.Context, s Scenario) ([]StepResult, bool) {
	state := make(State)
	results := make([]StepResult, 0, len(s.Steps))
	allPassed := true

	for _, step := range s.Steps {
		result := r.runStep(ctx, step, state)
		results = append(results, result)
		if !result.Success {
			allPassed = false
		}
	}
	return results, allPassed
}

func (r *Runner) runStep(ctx context.Context, step Step, state State) StepResult {
	start := time.Now()
	var lastErr error

	attempts := step.MaxRetries() + 1
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					lastErr = fmt.Errorf("rate limiter wait: %w", err)
					break
				}
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break
			}
			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout())
		err := step.Run(attemptCtx, state)
		cancel()

		if err == nil {
			return StepResult{
				StepID:    step.ID(),
				Name:      step.Name(),
				Status:    StatusPassed,
				Success:   true,
				LatencyMS: float64(time.Since(start).Milliseconds()),
			}
		}

		lastErr = err
		r.logger.Warn("scenario step attempt failed", "step_id", step.ID(), "attempt", attempt+1, "error", err)
	}

	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return StepResult{
		StepID:    step.ID(),
		Name:      step.Name(),
		Status:    StatusFailed,
		Success:   false,
		LatencyMS: float64(time.Since(start).Milliseconds()),
		Err:       errMsg,
	}
}
