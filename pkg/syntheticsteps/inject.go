// Package syntheticsteps implements the concrete scenario.Step bodies
// the global validator's built-in scenario runs: inject a synthetic
// alert, poll for the downstream incident and evidence records, then
// verify the full chain. Grounded on
// ransomeye_global_validator/validator/synthetic_runner.py's
// step_1..step_4, reshaped onto pkg/scenario.Step so the generic
// runner can retry/time-box each one uniformly.
package syntheticsteps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ransomeye/rebuild-sub001/pkg/chainverify"
	"github.com/ransomeye/rebuild-sub001/pkg/scenario"
)

// SyntheticAlert is the alert payload posted to the injector during the
// inject step — the fields the ingress alert endpoint requires.
type SyntheticAlert struct {
	Source    string            `json:"source"`
	AlertType string            `json:"alert_type"`
	Target    string            `json:"target"`
	Severity  string            `json:"severity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// InjectAlertStep POSTs a synthetic alert to the injector URL and
// records the server-assigned alert_id in shared state for later steps.
type InjectAlertStep struct {
	InjectorURL string
	Client      *http.Client
	Alert       SyntheticAlert
	timeout     time.Duration
	maxRetries  int
}

// NewInjectAlertStep builds the step with the synthetic_runner.py
// defaults: 10s timeout, no retries (a failed injection should fail the
// run immediately rather than mask a broken ingress path).
func NewInjectAlertStep(injectorURL string, alert SyntheticAlert) *InjectAlertStep {
	return &InjectAlertStep{
		InjectorURL: injectorURL,
		Client:      &http.Client{Timeout: 10 * time.Second},
		Alert:       alert,
		timeout:     10 * time.Second,
		maxRetries:  0,
	}
}

func (s *InjectAlertStep) ID() string            { return "step_1" }
func (s *InjectAlertStep) Name() string          { return "inject_alert" }
func (s *InjectAlertStep) Timeout() time.Duration { return s.timeout }
func (s *InjectAlertStep) MaxRetries() int        { return s.maxRetries }

type injectResponse struct {
	AlertID string `json:"alert_id"`
}

func (s *InjectAlertStep) Run(ctx context.Context, state scenario.State) error {
	body, err := json.Marshal(s.Alert)
	if err != nil {
		return fmt.Errorf("marshal synthetic alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.InjectorURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build inject request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("inject alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("injector returned status %d", resp.StatusCode)
	}

	var parsed injectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode injector response: %w", err)
	}
	if parsed.AlertID == "" {
		return fmt.Errorf("injector response missing alert_id")
	}

	state["alert_id"] = parsed.AlertID
	state["expected_incident_id"] = uuid.NewString()
	return nil
}
