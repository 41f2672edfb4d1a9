// Package healthscore implements the Health Scorer: a stable,
// swappable prediction contract over a validation run's collected
// metrics, grounded in ransomeye_global_validator/ml/validator_model.py's
// predict_health and ml/shap_support.py's feature-importance explanation.
//
// Training and serving an actual classifier is out of scope; this
// package implements only the output contract — a health score, a healthy
// flag, a human-readable explanation, and a linear per-feature
// contribution map shaped like a SHAP attribution — so a trained
// model can be swapped in later via the Active-Artifact Manager
// (§4.6) without any caller-visible change.
package healthscore

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ransomeye/rebuild-sub001/pkg/scenario"
)

// BootstrapHealthScore is the fixed score BootstrapScorer reports
// until a trained model replaces it — matching predict_health's
// "model not trained yet" branch.
const BootstrapHealthScore = 0.5

// HealthyThreshold is the is_healthy cutoff a trained scorer would use
// (predict_health's health_score >= 0.7). BootstrapScorer does not
// consult it, since its score never varies, but it is exported for
// any future Scorer implementation to share.
const HealthyThreshold = 0.7

// Result is the stable shape every Scorer implementation returns.
type Result struct {
	HealthScore          float64
	IsHealthy            bool
	Explanation          string
	FeatureContributions map[string]float64
}

// Scorer predicts a validation run's health from its collected
// metrics. Implementations must be side-effect free and safe for
// concurrent use — callers obtain one via the Active-Artifact Manager
// and may hold it across many runs.
type Scorer interface {
	Score(metrics scenario.Metrics) Result
}

// attributionWeights are fixed, untrained linear coefficients used to
// populate the contribution map's contract shape. They do not
// influence BootstrapScorer's HealthScore, which stays at the fixed
// bootstrap constant — there is no training step in this port to
// graduate past.
var attributionWeights = map[string]float64{
	"api_latency_avg": -0.0006,
	"api_latency_max": -0.0002,
	"error_count":     -0.08,
	"queue_depth":     -0.01,
	"success_rate":    0.1,
}

// BootstrapScorer is the always-available default Scorer: a fixed
// "not yet trained" response plus a populated linear contribution map,
// rather than the Python source's untrained-model path (which raises
// inside scaler.transform and reports health_score=0.0). The Go port
// treats the untrained state as a known, non-error condition.
type BootstrapScorer struct{}

// NewBootstrapScorer returns a ready-to-use BootstrapScorer.
func NewBootstrapScorer() *BootstrapScorer {
	return &BootstrapScorer{}
}

func (s *BootstrapScorer) Score(metrics scenario.Metrics) Result {
	return Result{
		HealthScore:          BootstrapHealthScore,
		IsHealthy:            true,
		Explanation:          "Model not trained, using default prediction",
		FeatureContributions: contribute(metrics),
	}
}

func contribute(metrics scenario.Metrics) map[string]float64 {
	return map[string]float64{
		"api_latency_avg": attributionWeights["api_latency_avg"] * metrics.APILatencyAvg,
		"api_latency_max": attributionWeights["api_latency_max"] * metrics.APILatencyMax,
		"error_count":     attributionWeights["error_count"] * metrics.ErrorCount,
		"queue_depth":     attributionWeights["queue_depth"] * metrics.QueueDepth,
		"success_rate":    attributionWeights["success_rate"] * metrics.SuccessRate,
	}
}

// Explain renders a SHAP-style "top contributing features" sentence
// from a contribution map: the three largest-magnitude entries above a
// small materiality cutoff, most impactful first, matching
// shap_support.py's sorted_features[:3] explanation text.
func Explain(contributions map[string]float64) string {
	type kv struct {
		name  string
		value float64
	}
	items := make([]kv, 0, len(contributions))
	for k, v := range contributions {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		return math.Abs(items[i].value) > math.Abs(items[j].value)
	})

	var parts []string
	for i, it := range items {
		if i >= 3 {
			break
		}
		if math.Abs(it.value) <= 0.01 {
			continue
		}
		direction := "increased"
		if it.value < 0 {
			direction = "decreased"
		}
		parts = append(parts, fmt.Sprintf("%s %s health score by %.3f", it.name, direction, math.Abs(it.value)))
	}
	if len(parts) == 0 {
		return "All features have minimal impact"
	}
	return "Run health influenced by: " + strings.Join(parts, "; ")
}
