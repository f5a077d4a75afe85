package automation

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/aman879/LotteryDaap/internal/lottery/state"
)

// Condition is an extra keeper gate evaluated over the readiness figures.
// Variables: players, pot, elapsed (seconds), interval (seconds), state.
type Condition struct {
	expr *govaluate.EvaluableExpression
}

// ParseCondition compiles raw. An empty expression, or "true", always holds.
func ParseCondition(raw string) (*Condition, error) {
	cond := strings.TrimSpace(raw)
	if cond == "" || strings.EqualFold(cond, "true") {
		return &Condition{}, nil
	}
	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return nil, err
	}
	return &Condition{expr: expr}, nil
}

func (c *Condition) Holds(r state.Readiness, interval float64) (bool, error) {
	if c == nil || c.expr == nil {
		return true, nil
	}
	pot := 0.0
	if r.Pot != nil {
		pot = r.Pot.Float64()
	}
	result, err := c.expr.Evaluate(map[string]interface{}{
		"players":  float64(r.Players),
		"pot":      pot,
		"elapsed":  r.Elapsed.Seconds(),
		"interval": interval,
		"state":    r.State.String(),
	})
	if err != nil {
		return false, err
	}
	v, ok := result.(bool)
	if !ok {
		return false, errors.New("condition did not evaluate to boolean")
	}
	return v, nil
}

func (c *Condition) String() string {
	if c == nil || c.expr == nil {
		return "true"
	}
	return c.expr.String()
}
