package attestation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// RunStore persists a validation run's artifacts to disk: the run
// document, the rendered report, and the signed manifest — grounded on
// run_store.py's three-file-per-run layout (`{run_id}_run.json`,
// `{run_id}_report.pdf`, `{run_id}_manifest.json`).
type RunStore struct {
	dir string
}

// NewRunStore creates (if absent) dir and returns a RunStore rooted
// there.
func NewRunStore(dir string) (*RunStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create run store directory %s: %w", dir, err)
	}
	return &RunStore{dir: dir}, nil
}

func (s *RunStore) runPath(runID string) string {
	return filepath.Join(s.dir, runID+"_run.json")
}

// PDFPath returns where a run's report is written.
func (s *RunStore) PDFPath(runID string) string {
	return filepath.Join(s.dir, runID+"_report.pdf")
}

// ManifestPath returns where a run's signed manifest is written.
func (s *RunStore) ManifestPath(runID string) string {
	return filepath.Join(s.dir, runID+"_manifest.json")
}

// StoreRun writes doc as indented JSON to the run's canonical path.
func (s *RunStore) StoreRun(runID string, doc RunDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run document: %w", err)
	}
	if err := os.WriteFile(s.runPath(runID), data, 0o640); err != nil {
		return fmt.Errorf("write run document: %w", err)
	}
	return nil
}

// GetRun reads back a previously stored run document, or (nil, nil)
// if none exists for runID.
func (s *RunStore) GetRun(runID string) (*RunDocument, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run document: %w", err)
	}
	var doc RunDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse run document: %w", err)
	}
	return &doc, nil
}

// WritePDF persists a run's rendered report bytes.
func (s *RunStore) WritePDF(runID string, pdf []byte) error {
	if err := os.WriteFile(s.PDFPath(runID), pdf, 0o640); err != nil {
		return fmt.Errorf("write pdf report: %w", err)
	}
	return nil
}

// WriteManifest persists a run's signed manifest bytes.
func (s *RunStore) WriteManifest(runID string, manifest []byte) error {
	if err := os.WriteFile(s.ManifestPath(runID), manifest, 0o640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ListRuns returns up to limit run summaries, most recently written
// first — the Go analogue of run_store.py's list_runs glob.
func (s *RunStore) ListRuns(limit int) ([]RunSummary, error) {
	entries, err := filepath.Glob(filepath.Join(s.dir, "*_run.json"))
	if err != nil {
		return nil, fmt.Errorf("glob run store: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(entries)))

	var out []RunSummary
	for _, path := range entries {
		if len(out) >= limit {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc RunDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		status := "FAILED"
		if doc.Passed {
			status = "PASSED"
		}
		out = append(out, RunSummary{
			RunID:        doc.RunID,
			StartTime:    doc.StartTime,
			ScenarioType: doc.ScenarioType,
			Status:       status,
		})
	}
	return out, nil
}
