// Package privacy implements calibrated-noise mechanisms for turning
// exact aggregate statistics into privacy-protected ones.
//
// Two mechanisms are supported: Laplace (epsilon-DP) and Gaussian
// ((epsilon, delta)-DP). The engine also tracks a running epsilon
// budget per named statistic and fails closed once the configured
// total is exceeded: a refused query leaks nothing, a degraded one
// would.
package privacy

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"EmpathyChat/internal/audit"
)

// Sentinel errors for the privacy-accounting path. These are refusals,
// never silently clamped or degraded.
var (
	ErrInvalidQuery    = errors.New("invalid query")
	ErrBudgetExhausted = errors.New("privacy budget exhausted")
)

// Mechanism selects the noise distribution.
type Mechanism string

// Supported mechanisms.
const (
	Laplace  Mechanism = "laplace"
	Gaussian Mechanism = "gaussian"
)

// Query describes one protected-statistic request. Sensitivity is the
// maximum change one session's presence or absence can cause in Value;
// it is a caller contract and is never inferred.
type Query struct {
	Name        string
	Value       float64
	Sensitivity float64
	Epsilon     float64
	Mechanism   Mechanism
	Delta       float64 // required for Gaussian
}

// Engine applies calibrated noise and accounts epsilon spend per
// statistic name.
type Engine struct {
	mu     sync.Mutex
	rng    *rand.Rand
	budget float64
	spent  map[string]float64
	audit  *audit.Log
	logger *slog.Logger
}

// NewEngine creates an Engine with the given total epsilon budget per
// named statistic.
func NewEngine(totalBudget float64, aud *audit.Log, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		budget: totalBudget,
		spent:  make(map[string]float64),
		audit:  aud,
		logger: logger,
	}
}

// Protect adds calibrated noise to q.Value and returns the protected
// value. The exact value is never returned: validation and budget
// accounting happen before any noise is drawn, and a failed check
// refuses the query outright.
func (e *Engine) Protect(q Query) (float64, error) {
	if q.Sensitivity <= 0 {
		return 0, fmt.Errorf("%w: sensitivity %v must be > 0", ErrInvalidQuery, q.Sensitivity)
	}
	if q.Epsilon <= 0 {
		return 0, fmt.Errorf("%w: epsilon %v must be > 0", ErrInvalidQuery, q.Epsilon)
	}
	if q.Mechanism == Gaussian && (q.Delta <= 0 || q.Delta >= 1) {
		return 0, fmt.Errorf("%w: gaussian mechanism requires 0 < delta < 1, got %v", ErrInvalidQuery, q.Delta)
	}
	if q.Mechanism != Laplace && q.Mechanism != Gaussian {
		return 0, fmt.Errorf("%w: unknown mechanism %q", ErrInvalidQuery, q.Mechanism)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Check-and-spend must be atomic: two concurrent queries must not
	// both succeed on the last unit of budget.
	if e.spent[q.Name]+q.Epsilon > e.budget {
		return 0, fmt.Errorf("%w: statistic %q spent %.3f of %.3f, requested %.3f",
			ErrBudgetExhausted, q.Name, e.spent[q.Name], e.budget, q.Epsilon)
	}
	e.spent[q.Name] += q.Epsilon

	var noise float64
	switch q.Mechanism {
	case Laplace:
		noise = e.laplaceNoise(q.Sensitivity / q.Epsilon)
	case Gaussian:
		sigma := q.Sensitivity * math.Sqrt(2*math.Log(1.25/q.Delta)) / q.Epsilon
		noise = e.rng.NormFloat64() * sigma
	}

	if e.audit != nil {
		e.audit.Record(audit.KindNoiseApplied, "",
			fmt.Sprintf("statistic=%s mechanism=%s epsilon=%.3f", q.Name, q.Mechanism, q.Epsilon))
	}
	e.logger.Debug("noise applied",
		"statistic", q.Name, "mechanism", q.Mechanism,
		"epsilon", q.Epsilon, "spent", e.spent[q.Name])

	return q.Value + noise, nil
}

// Spent returns the epsilon consumed so far for the named statistic.
func (e *Engine) Spent(name string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spent[name]
}

// laplaceNoise draws from Laplace(0, scale) by inverse-CDF sampling.
// Caller holds e.mu.
func (e *Engine) laplaceNoise(scale float64) float64 {
	for {
		u := e.rng.Float64() - 0.5
		if math.Abs(u) == 0.5 {
			continue
		}
		return -scale * math.Copysign(math.Log(1-2*math.Abs(u)), u)
	}
}
