package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/time/rate"

	"github.com/ransomeye/rebuild-sub001/pkg/activeartifact"
	"github.com/ransomeye/rebuild-sub001/pkg/artifacts"
	"github.com/ransomeye/rebuild-sub001/pkg/attestation"
	"github.com/ransomeye/rebuild-sub001/pkg/bundle"
	"github.com/ransomeye/rebuild-sub001/pkg/chainverify"
	"github.com/ransomeye/rebuild-sub001/pkg/config"
	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
	"github.com/ransomeye/rebuild-sub001/pkg/dedup"
	"github.com/ransomeye/rebuild-sub001/pkg/healthscore"
	"github.com/ransomeye/rebuild-sub001/pkg/ingress"
	"github.com/ransomeye/rebuild-sub001/pkg/ledger"
	"github.com/ransomeye/rebuild-sub001/pkg/registry"
	"github.com/ransomeye/rebuild-sub001/pkg/rules"
	"github.com/ransomeye/rebuild-sub001/pkg/scenario"
	"github.com/ransomeye/rebuild-sub001/pkg/syntheticsteps"
	"github.com/ransomeye/rebuild-sub001/pkg/telemetry"
	"github.com/ransomeye/rebuild-sub001/pkg/writebuffer"
)

// instrumentedDedup records an otel counter for every dedup hit before
// delegating to the real Filter — keeps pkg/dedup ignorant of telemetry
// wiring.
type instrumentedDedup struct {
	filter    *dedup.Filter
	telemetry *telemetry.Provider
}

func (d *instrumentedDedup) Check(ctx context.Context, source, alertType, target string, metadata map[string]string) dedup.Result {
	result := d.filter.Check(ctx, source, alertType, target, metadata)
	if result.Duplicate {
		d.telemetry.RecordDedupHit(ctx, string(result.Kind))
	}
	return result
}

// instrumentedRawEvents records an otel counter for every event the
// async write buffer drops under backpressure.
type instrumentedRawEvents struct {
	buffer    *writebuffer.Buffer
	telemetry *telemetry.Provider
}

func (b *instrumentedRawEvents) EnqueueValue(value interface{}) error {
	before := b.buffer.Dropped()
	err := b.buffer.EnqueueValue(value)
	if b.buffer.Dropped() > before {
		b.telemetry.RecordBufferDrop(context.Background())
	}
	return err
}

// swappableScorer adapts an activeartifact.Manager holding a
// healthscore.Scorer into a plain healthscore.Scorer, so a trained
// model can be hot-swapped into the Attestor's pipeline (§4.6) without
// the Attestor ever needing to know a swap happened.
type swappableScorer struct {
	manager *activeartifact.Manager
}

func (s *swappableScorer) Score(metrics scenario.Metrics) healthscore.Result {
	ref := s.manager.Current()
	if ref == nil {
		return healthscore.NewBootstrapScorer().Score(metrics)
	}
	defer ref.Release()
	return ref.Value().(healthscore.Scorer).Score(metrics)
}

func runServerCmd(stdout, stderr io.Writer) {
	fmt.Fprintf(stdout, "%sRansomEye starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()
	logger := slog.Default()
	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.RegistryDSN)
	if err != nil {
		log.Fatalf("connect to registry database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping registry database: %v", err)
	}
	log.Println("[ransomeye] postgres: connected")

	kernel, err := cryptokernel.LoadOrGenerate(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err != nil {
		log.Fatalf("load or generate signing key: %v", err)
	}
	fmt.Fprintf(stdout, "%sTrust root ready at %s%s\n", ColorGreen, cfg.PublicKeyPath, ColorReset)

	reg := registry.NewPostgres(db)
	if err := reg.Init(ctx); err != nil {
		log.Fatalf("init registry schema: %v", err)
	}
	log.Println("[ransomeye] registry: ready")

	auditLedger, err := ledger.Open(cfg.StorageRoot+"/audit.ndjson", kernel)
	if err != nil {
		log.Fatalf("open audit ledger: %v", err)
	}
	log.Println("[ransomeye] ledger: ready")

	mirror, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("init archive mirror store: %v", err)
	}
	artifactStore, err := artifacts.NewArtifactStore(cfg.StorageRoot+"/artifacts", mirror)
	if err != nil {
		log.Fatalf("init artifact store: %v", err)
	}
	bundleVerifier := bundle.NewVerifier(kernel.PublicKey(), cfg.StorageRoot+"/.extracting", bundle.DefaultLimits())
	log.Println("[ransomeye] artifact store: ready")

	telemetryProvider, err := telemetry.New("ransomeye", sdkmetric.NewManualReader())
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer telemetryProvider.Shutdown(ctx)

	dedupBackend := buildDedupBackend(cfg, logger)
	dedupFilter := &instrumentedDedup{filter: dedup.New(dedupBackend, cfg.SimilarityThresh, cfg.DedupTTL, logger), telemetry: telemetryProvider}

	rawEventSink, err := writebuffer.NewNDJSONSink(cfg.StorageRoot + "/raw_events.ndjson")
	if err != nil {
		log.Fatalf("init raw event sink: %v", err)
	}
	rawEventBuffer := writebuffer.New(rawEventSink, writebuffer.Options{Capacity: cfg.BufferCapacity, Logger: logger})
	rawEvents := &instrumentedRawEvents{buffer: rawEventBuffer, telemetry: telemetryProvider}
	defer rawEventBuffer.Close()

	compiledRuleset := loadRuleset(cfg.RulesPath, logger)

	chainV := chainverify.NewVerifier(db, logger)

	runStore, err := attestation.NewRunStore(cfg.StorageRoot + "/runs")
	if err != nil {
		log.Fatalf("init run store: %v", err)
	}
	scorerManager := activeartifact.New()
	scorerManager.Swap(healthscore.NewBootstrapScorer())
	attestor := attestation.NewAttestor(runStore, attestation.DefaultPDFRenderer{}, kernel, auditLedger, &swappableScorer{manager: scorerManager}, logger)

	runner := scenario.NewRunner(rate.NewLimiter(rate.Limit(5), 10), logger)

	scenarios := map[string]scenario.Scenario{
		"happy_path": syntheticsteps.BuildHappyPathScenario(
			cfg.InjectorURL,
			syntheticsteps.SyntheticAlert{Source: "ransomeye-validator", AlertType: "ransomware_behavior", Target: "synthetic-host", Severity: "critical"},
			"",
			chainV,
		),
	}

	server := ingress.NewServer(ingress.Config{
		JWTSecret:      []byte(cfg.JWTSecret),
		Ruleset:        compiledRuleset,
		Dedup:          dedupFilter,
		AuditLog:       auditLedger,
		RawEvents:      rawEvents,
		LedgerPath:     cfg.StorageRoot + "/audit.ndjson",
		PublicKey:      kernel.PublicKey(),
		Registry:       reg,
		BundleVerify:   bundleVerifier,
		Materializer:   artifactStore,
		ArchiveWorkDir: cfg.StorageRoot + "/.extracting",
		Scenarios:      scenarios,
		Runner:         runner,
		Attestor:       attestor,
		RunStore:       runStore,
		Chain:          chainV,
		Logger:         logger,
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler()}
	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: healthHandler(db)}

	go func() {
		log.Printf("[ransomeye] ingress listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ingress server: %v", err)
		}
	}()
	go func() {
		log.Printf("[ransomeye] health listening on %s", cfg.HealthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("[ransomeye] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = healthServer.Shutdown(shutdownCtx)
	_ = auditLedger.Close()
}

func buildDedupBackend(cfg *config.Config, logger *slog.Logger) dedup.Backend {
	memory := dedup.NewMemoryBackend()
	if cfg.RedisAddr == "" {
		return memory
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return dedup.NewFallbackBackend(dedup.NewRedisBackend(client), memory, logger)
}

func loadRuleset(path string, logger *slog.Logger) []*rules.CompiledRule {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("rules file unavailable, starting with an empty ruleset", "path", path, "error", err)
		return nil
	}
	var defs []rules.Rule
	if err := json.Unmarshal(raw, &defs); err != nil {
		logger.Warn("rules file malformed, starting with an empty ruleset", "path", path, "error", err)
		return nil
	}
	result := rules.NewCompiler().Compile(logger, defs)
	if result.Dropped > 0 {
		logger.Warn("some rules failed to compile and were dropped", "dropped", result.Dropped)
	}
	return result.Rules
}

func healthHandler(db *sql.DB) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}
