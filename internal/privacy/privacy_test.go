package privacy

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"EmpathyChat/internal/audit"
)

func newTestEngine(budget float64) *Engine {
	e := NewEngine(budget, audit.New(nil, nil), nil)
	e.rng = rand.New(rand.NewPCG(1, 2))
	return e
}

func TestProtectRejectsInvalidQueries(t *testing.T) {
	e := newTestEngine(100)

	tests := []struct {
		name string
		q    Query
	}{
		{"zero sensitivity", Query{Name: "s", Value: 1, Sensitivity: 0, Epsilon: 1, Mechanism: Laplace}},
		{"negative sensitivity", Query{Name: "s", Value: 1, Sensitivity: -1, Epsilon: 1, Mechanism: Laplace}},
		{"zero epsilon", Query{Name: "s", Value: 1, Sensitivity: 1, Epsilon: 0, Mechanism: Laplace}},
		{"negative epsilon", Query{Name: "s", Value: 1, Sensitivity: 1, Epsilon: -0.5, Mechanism: Laplace}},
		{"gaussian without delta", Query{Name: "s", Value: 1, Sensitivity: 1, Epsilon: 1, Mechanism: Gaussian}},
		{"gaussian delta one", Query{Name: "s", Value: 1, Sensitivity: 1, Epsilon: 1, Mechanism: Gaussian, Delta: 1}},
		{"unknown mechanism", Query{Name: "s", Value: 1, Sensitivity: 1, Epsilon: 1, Mechanism: "exponential"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Protect(tt.q); !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("Protect() error = %v, want ErrInvalidQuery", err)
			}
		})
	}

	if spent := e.Spent("s"); spent != 0 {
		t.Errorf("rejected queries consumed budget: spent = %v", spent)
	}
}

func TestProtectActuallyAddsNoise(t *testing.T) {
	e := newTestEngine(1000)

	q := Query{Name: "n", Value: 100, Sensitivity: 1, Epsilon: 1, Mechanism: Laplace}
	a, err := e.Protect(q)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Protect(q)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("two draws returned the same value %v; noise not applied", a)
	}
}

func TestProtectMeanConvergesToTrueValue(t *testing.T) {
	const trueValue = 100.0
	const draws = 5000

	for _, mech := range []Mechanism{Laplace, Gaussian} {
		t.Run(string(mech), func(t *testing.T) {
			e := newTestEngine(math.Inf(1))
			var sum float64
			for i := 0; i < draws; i++ {
				got, err := e.Protect(Query{
					Name:        "conv",
					Value:       trueValue,
					Sensitivity: 1,
					Epsilon:     1,
					Mechanism:   mech,
					Delta:       1e-5,
				})
				if err != nil {
					t.Fatal(err)
				}
				sum += got
			}
			mean := sum / draws
			if math.Abs(mean-trueValue) > 0.5 {
				t.Errorf("mean over %d draws = %v, want within 0.5 of %v", draws, mean, trueValue)
			}
		})
	}
}

func TestBudgetExhaustion(t *testing.T) {
	e := newTestEngine(2.0)

	q := Query{Name: "crisis_rate", Value: 0.1, Sensitivity: 1, Epsilon: 1, Mechanism: Laplace}
	for i := 0; i < 2; i++ {
		if _, err := e.Protect(q); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}

	_, err := e.Protect(q)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("error = %v, want ErrBudgetExhausted", err)
	}

	// Budget is tracked per statistic name: a different name still works.
	q2 := q
	q2.Name = "total_sessions"
	if _, err := e.Protect(q2); err != nil {
		t.Errorf("independent statistic refused: %v", err)
	}
}

func TestBudgetCheckAndSpendIsAtomic(t *testing.T) {
	e := newTestEngine(1.0)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Protect(Query{Name: "last_unit", Value: 1, Sensitivity: 1, Epsilon: 1, Mechanism: Laplace})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, exhausted int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrBudgetExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || exhausted != workers-1 {
		t.Errorf("got %d successes and %d refusals, want 1 and %d", ok, exhausted, workers-1)
	}
}

func TestNoiseDrawsAreAudited(t *testing.T) {
	aud := audit.New(nil, nil)
	e := NewEngine(10, aud, nil)

	if _, err := e.Protect(Query{Name: "total_turns", Value: 5, Sensitivity: 1, Epsilon: 0.5, Mechanism: Laplace}); err != nil {
		t.Fatal(err)
	}

	recs := aud.Records(audit.KindNoiseApplied)
	if len(recs) != 1 {
		t.Fatalf("got %d noise_applied records, want 1", len(recs))
	}
}
