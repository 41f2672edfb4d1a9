// Package ingress implements the Ingress Glue: the HTTP transport
// exposing the representative endpoints over the cores (Registry,
// Dedup Filter, Rule Evaluator, Scenario Runner, Run Attestation,
// Chain Verifier). Routes are deliberately thin — decode/validate,
// call a core, encode — using plain `net/http` + `ServeMux` rather
// than a web framework.
package ingress

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ransomeye/rebuild-sub001/pkg/attestation"
	"github.com/ransomeye/rebuild-sub001/pkg/bundle"
	"github.com/ransomeye/rebuild-sub001/pkg/chainverify"
	"github.com/ransomeye/rebuild-sub001/pkg/dedup"
	"github.com/ransomeye/rebuild-sub001/pkg/ledger"
	"github.com/ransomeye/rebuild-sub001/pkg/registry"
	"github.com/ransomeye/rebuild-sub001/pkg/rules"
	"github.com/ransomeye/rebuild-sub001/pkg/scenario"
)

// DedupChecker is the subset of dedup.Filter the ingest endpoint needs.
type DedupChecker interface {
	Check(ctx context.Context, source, alertType, target string, metadata map[string]string) dedup.Result
}

// ArtifactRegistrar is the subset of registry.Postgres the artifact
// endpoints need.
type ArtifactRegistrar interface {
	Register(ctx context.Context, name, version, manifestHash, path string, metadata map[string]string, uploader string) (string, error)
	Activate(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*registry.Artifact, error)
	List(ctx context.Context, status registry.Status) ([]*registry.Artifact, error)
}

// BundleVerifier is the subset of bundle.Verifier the upload endpoint
// needs.
type BundleVerifier interface {
	Verify(archivePath string) (*bundle.Verified, error)
}

// Materializer is the subset of artifacts.ArtifactStore the upload
// endpoint needs.
type Materializer interface {
	Materialize(ctx context.Context, artifactID, sourceDir string, relPaths []string) (string, error)
}

// ScenarioRunner is the subset of scenario.Runner the run-trigger
// endpoint needs.
type ScenarioRunner interface {
	Run(ctx context.Context, s scenario.Scenario) ([]scenario.StepResult, bool)
}

// Attestor is the subset of attestation.Attestor the run-trigger
// endpoint needs.
type Attestor interface {
	Attest(runID, scenarioType string, sc scenario.Scenario, results []scenario.StepResult, passed bool, startTime time.Time) (*attestation.RunDocument, error)
}

// RunStore is the subset of attestation.RunStore the run-read endpoints
// need.
type RunStore interface {
	GetRun(runID string) (*attestation.RunDocument, error)
	PDFPath(runID string) string
	ManifestPath(runID string) string
}

// ChainVerifier is the subset of chainverify.Verifier the run-verify
// endpoint needs.
type ChainVerifier interface {
	VerifyChain(ctx context.Context, alertID, incidentID, evidenceID string) chainverify.ChainResult
}

// LedgerAppender is the subset of ledger.Ledger every mutating endpoint
// uses to record what it did.
type LedgerAppender interface {
	Append(eventType, actor string, body interface{}) (*ledger.Entry, error)
}

// RawEventLogger is the subset of writebuffer.Buffer the ingest
// endpoint uses to mirror every alert into an unsigned, batched NDJSON
// trail — separate from the signed Audit Ledger, so a burst of alerts
// never makes ingestion latency depend on ledger fsync throughput.
type RawEventLogger interface {
	EnqueueValue(value interface{}) error
}

// Config wires every collaborator a Server needs. Nil optional fields
// disable the endpoints that depend on them (e.g. a deployment running
// only the ingest path can omit the run/artifact collaborators).
type Config struct {
	JWTSecret []byte

	Ruleset    []*rules.CompiledRule
	Dedup      DedupChecker
	AuditLog   LedgerAppender
	RawEvents  RawEventLogger
	LedgerPath string
	PublicKey  *rsa.PublicKey

	Registry       ArtifactRegistrar
	BundleVerify   BundleVerifier
	Materializer   Materializer
	ArchiveWorkDir string

	Scenarios map[string]scenario.Scenario
	Runner    ScenarioRunner
	Attestor  Attestor
	RunStore  RunStore
	Chain     ChainVerifier

	Logger *slog.Logger
}

// Server holds the routed HTTP handlers over one Config.
type Server struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	runStatus map[string]string
}

// NewServer builds a Server and registers its routes on a fresh
// http.ServeMux. Spans are emitted through the globally registered
// TracerProvider; a deployment that never calls
// otel.SetTracerProvider gets the no-op tracer, so tracing is opt-in
// without a constructor parameter.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		logger:    cfg.Logger,
		tracer:    otel.Tracer("ransomeye/ingress"),
		runStatus: make(map[string]string),
	}
}

// Handler returns the routed http.Handler, ready to pass to
// http.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.traced("ingest", requireAuth(s.cfg.JWTSecret, s.handleIngest)))
	mux.HandleFunc("POST /artifacts/upload", s.traced("artifacts.upload", requireAuth(s.cfg.JWTSecret, s.handleUpload)))
	mux.HandleFunc("POST /artifacts/{id}/activate", s.traced("artifacts.activate", requireAuth(s.cfg.JWTSecret, s.handleActivate)))
	mux.HandleFunc("GET /artifacts/active", s.traced("artifacts.list_active", s.handleListActive))
	mux.HandleFunc("POST /runs", s.traced("runs.trigger", requireAuth(s.cfg.JWTSecret, s.handleTriggerRun)))
	mux.HandleFunc("GET /runs/{id}", s.traced("runs.get", s.handleGetRun))
	mux.HandleFunc("GET /runs/{id}/report", s.traced("runs.report", s.handleGetReport))
	mux.HandleFunc("GET /runs/{id}/verify", s.traced("runs.verify", s.handleVerifyRun))
	return mux
}

// statusWriter records the status code a handler wrote, so the span
// closing it can tag success/failure without each handler reporting
// its own outcome.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// traced wraps next in a span named "ingress.<name>", recording the
// HTTP method, route, and final status code, and marking the span as
// an error whenever the handler answers with a 5xx.
func (s *Server) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), "ingress."+name,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
			),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		if sw.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	}
}

func (s *Server) setRunStatus(runID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runStatus[runID] = status
}

func (s *Server) getRunStatus(runID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.runStatus[runID]
	return status, ok
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
