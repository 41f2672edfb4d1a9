package syntheticsteps

import (
	"context"
	"fmt"
	"time"

	"github.com/ransomeye/rebuild-sub001/pkg/chainverify"
	"github.com/ransomeye/rebuild-sub001/pkg/scenario"
)

// VerifyIncidentStep polls the downstream incident store for the
// incident expected to result from the injected alert.
type VerifyIncidentStep struct {
	Verifier   *chainverify.Verifier
	timeout    time.Duration
	maxRetries int
}

// NewVerifyIncidentStep builds the step with verify.py's incident
// polling window (up to 30s total, driven by the verifier's own
// exponential backoff).
func NewVerifyIncidentStep(verifier *chainverify.Verifier) *VerifyIncidentStep {
	return &VerifyIncidentStep{Verifier: verifier, timeout: 30 * time.Second, maxRetries: 0}
}

func (s *VerifyIncidentStep) ID() string             { return "step_2" }
func (s *VerifyIncidentStep) Name() string           { return "verify_incident_created" }
func (s *VerifyIncidentStep) Timeout() time.Duration { return s.timeout }
func (s *VerifyIncidentStep) MaxRetries() int         { return s.maxRetries }

func (s *VerifyIncidentStep) Run(ctx context.Context, state scenario.State) error {
	alertID, _ := state["alert_id"].(string)
	if alertID == "" {
		return fmt.Errorf("alert_id not available from inject step")
	}
	incidentID, _ := state["expected_incident_id"].(string)
	if incidentID == "" {
		return fmt.Errorf("expected_incident_id not set")
	}

	record, err := s.Verifier.VerifyIncidentCreated(ctx, incidentID, s.timeout)
	if err != nil {
		return fmt.Errorf("incident %s never appeared: %w", incidentID, err)
	}
	state["expected_incident_id"] = record.IncidentID
	return nil
}

// VerifyEvidenceStep polls the evidence ledger for the record expected
// to result from the injected alert's file hash.
type VerifyEvidenceStep struct {
	Verifier       *chainverify.Verifier
	FileHashSHA256 string
	timeout        time.Duration
	maxRetries     int
}

// NewVerifyEvidenceStep builds the step with verify.py's evidence
// polling window.
func NewVerifyEvidenceStep(verifier *chainverify.Verifier, fileHashSHA256 string) *VerifyEvidenceStep {
	return &VerifyEvidenceStep{Verifier: verifier, FileHashSHA256: fileHashSHA256, timeout: 45 * time.Second, maxRetries: 0}
}

func (s *VerifyEvidenceStep) ID() string            { return "step_3" }
func (s *VerifyEvidenceStep) Name() string          { return "verify_evidence_logged" }
func (s *VerifyEvidenceStep) Timeout() time.Duration { return s.timeout }
func (s *VerifyEvidenceStep) MaxRetries() int        { return s.maxRetries }

func (s *VerifyEvidenceStep) Run(ctx context.Context, state scenario.State) error {
	if s.FileHashSHA256 == "" {
		return fmt.Errorf("file hash not available")
	}
	incidentID, _ := state["expected_incident_id"].(string)

	record, err := s.Verifier.VerifyEvidenceLogged(ctx, s.FileHashSHA256, incidentID, s.timeout)
	if err != nil {
		return fmt.Errorf("evidence for %s never appeared: %w", s.FileHashSHA256, err)
	}
	state["expected_evidence_id"] = record.EvidenceID
	return nil
}

// VerifyChainStep confirms referential integrity across the full
// alert→incident→evidence chain, after the prior steps have populated
// every identifier in shared state.
type VerifyChainStep struct {
	Verifier   *chainverify.Verifier
	timeout    time.Duration
	maxRetries int
}

// NewVerifyChainStep builds the final chain-integrity check.
func NewVerifyChainStep(verifier *chainverify.Verifier) *VerifyChainStep {
	return &VerifyChainStep{Verifier: verifier, timeout: 10 * time.Second, maxRetries: 0}
}

func (s *VerifyChainStep) ID() string            { return "step_4" }
func (s *VerifyChainStep) Name() string          { return "verify_chain_integrity" }
func (s *VerifyChainStep) Timeout() time.Duration { return s.timeout }
func (s *VerifyChainStep) MaxRetries() int        { return s.maxRetries }

func (s *VerifyChainStep) Run(ctx context.Context, state scenario.State) error {
	alertID, _ := state["alert_id"].(string)
	incidentID, _ := state["expected_incident_id"].(string)
	evidenceID, _ := state["expected_evidence_id"].(string)

	result := s.Verifier.VerifyChain(ctx, alertID, incidentID, evidenceID)
	state["chain_result"] = result
	if !result.ChainComplete {
		return fmt.Errorf("chain incomplete: alert=%v incident=%v evidence=%v",
			result.AlertExists, result.IncidentExists, result.EvidenceExists)
	}
	return nil
}

// BuildHappyPathScenario assembles the four-step end-to-end scenario
// synthetic_runner.py calls "happy_path": inject, wait for incident,
// wait for evidence, verify chain integrity.
func BuildHappyPathScenario(injectorURL string, alert SyntheticAlert, fileHashSHA256 string, verifier *chainverify.Verifier) scenario.Scenario {
	return scenario.Scenario{
		ID:   "happy_path",
		Name: "Synthetic ransomware alert end-to-end",
		Steps: []scenario.Step{
			NewInjectAlertStep(injectorURL, alert),
			NewVerifyIncidentStep(verifier),
			NewVerifyEvidenceStep(verifier, fileHashSHA256),
			NewVerifyChainStep(verifier),
		},
	}
}
