package ingress

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ransomeye/rebuild-sub001/pkg/rules"
)

// rawAlertEvent is the unsigned record mirrored into the async write
// buffer alongside the signed ledger entry — cheap to batch and flush,
// unlike the ledger, which fsyncs a signature on every append.
type rawAlertEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	AlertID       string            `json:"alert_id"`
	Source        string            `json:"source"`
	AlertType     string            `json:"alert_type"`
	Target        string            `json:"target"`
	Severity      string            `json:"severity"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        string            `json:"status"`
	DuplicateKind string            `json:"duplicate_kind,omitempty"`
	MatchCount    int               `json:"match_count"`
}

// ingestRequest is the wire shape of POST /ingest — an alert as raised
// by an upstream detector.
type ingestRequest struct {
	Source    string            `json:"source"`
	AlertType string            `json:"alert_type"`
	Target    string            `json:"target"`
	Severity  string            `json:"severity"`
	Metadata  map[string]string `json:"metadata"`
}

type ingestResponse struct {
	AlertID       string        `json:"alert_id"`
	Status        string        `json:"status"`
	Matches       []rules.Match `json:"matches"`
	DuplicateKind string        `json:"duplicate_kind,omitempty"`
}

// handleIngest implements POST /ingest: dedup-check the alert, evaluate
// it against the active ruleset, ledger the outcome, and report what
// fired. A duplicate alert is still evaluated against the ruleset (the
// caller needs to know what a repeat of this alert would trigger) but
// is reported as "duplicate" rather than "processed".
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.Source == "" || req.AlertType == "" || req.Target == "" {
		writeError(w, http.StatusBadRequest, "source, alert_type and target are required")
		return
	}

	alert := rules.Alert{
		Source:    req.Source,
		AlertType: req.AlertType,
		Target:    req.Target,
		Severity:  req.Severity,
		Metadata:  req.Metadata,
	}

	dedupResult := s.cfg.Dedup.Check(r.Context(), req.Source, req.AlertType, req.Target, req.Metadata)
	matches := rules.NewEvaluator().Evaluate(s.cfg.Ruleset, alert)

	alertID := uuid.NewString()
	resp := ingestResponse{AlertID: alertID, Status: "processed", Matches: matches}
	if dedupResult.Duplicate {
		resp.Status = "duplicate"
		resp.DuplicateKind = string(dedupResult.Kind)
	}

	if s.cfg.AuditLog != nil {
		if _, err := s.cfg.AuditLog.Append("alert_ingested", callingService(r.Context()), resp); err != nil {
			s.logger.Error("failed to append ingest ledger entry", "alert_id", alertID, "error", err)
		}
	}

	if s.cfg.RawEvents != nil {
		event := rawAlertEvent{
			Timestamp:     time.Now().UTC(),
			AlertID:       alertID,
			Source:        req.Source,
			AlertType:     req.AlertType,
			Target:        req.Target,
			Severity:      req.Severity,
			Metadata:      req.Metadata,
			Status:        resp.Status,
			DuplicateKind: resp.DuplicateKind,
			MatchCount:    len(matches),
		}
		if err := s.cfg.RawEvents.EnqueueValue(event); err != nil {
			s.logger.Warn("failed to enqueue raw alert event", "alert_id", alertID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
