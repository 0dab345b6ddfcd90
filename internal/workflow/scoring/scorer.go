package scoring

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	minSignal = decimal.Zero
	maxSignal = decimal.NewFromInt(100)
)

// Scorer computes a weighted average of 0-100 signals with exact decimal
// arithmetic. Signals without a configured weight count with weight 1.
type Scorer struct {
	weights   map[string]decimal.Decimal
	threshold decimal.Decimal
	precision int32
}

// Result is one computed score.
type Result struct {
	Score   decimal.Decimal
	Passed  bool
	Signals int
}

func NewScorer(weights map[string]float64, passThreshold float64, precision int32) (*Scorer, error) {
	s := &Scorer{
		weights:   make(map[string]decimal.Decimal, len(weights)),
		threshold: decimal.NewFromFloat(passThreshold),
		precision: precision,
	}
	if s.threshold.LessThan(minSignal) || s.threshold.GreaterThan(maxSignal) {
		return nil, fmt.Errorf("pass threshold %v outside [0, 100]", passThreshold)
	}
	if precision < 0 {
		return nil, fmt.Errorf("precision must be >= 0")
	}
	for name, w := range weights {
		d := decimal.NewFromFloat(w)
		if d.IsNegative() {
			return nil, fmt.Errorf("weight %q must be >= 0", name)
		}
		s.weights[name] = d
	}
	return s, nil
}

func (s *Scorer) weight(name string) decimal.Decimal {
	if w, ok := s.weights[name]; ok {
		return w
	}
	return decimal.NewFromInt(1)
}

// Score accepts signal values as float64, int or numeric strings.
func (s *Scorer) Score(signals map[string]interface{}) (Result, error) {
	if len(signals) == 0 {
		return Result{}, fmt.Errorf("no signals to score")
	}

	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)

	total := decimal.Zero
	weightSum := decimal.Zero
	for _, name := range names {
		value, err := toDecimal(signals[name])
		if err != nil {
			return Result{}, fmt.Errorf("signal %q: %w", name, err)
		}
		if value.LessThan(minSignal) || value.GreaterThan(maxSignal) {
			return Result{}, fmt.Errorf("signal %q: %s outside [0, 100]", name, value)
		}
		w := s.weight(name)
		total = total.Add(value.Mul(w))
		weightSum = weightSum.Add(w)
	}
	if weightSum.IsZero() {
		return Result{}, fmt.Errorf("signals carry no weight")
	}

	score := total.Div(weightSum).Round(s.precision)
	return Result{
		Score:   score,
		Passed:  score.GreaterThanOrEqual(s.threshold),
		Signals: len(names),
	}, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Decimal{}, fmt.Errorf("not a number: %T", v)
	}
}
