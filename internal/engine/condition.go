package engine

import (
	"fmt"
	"math"

	"sentinel/internal/logger"
	"sentinel/internal/rule"
)

// epsilon bounds floating equality; scaled by magnitude so large prices and
// small indicator values compare sensibly.
const epsilon = 1e-9

// ConditionEvaluator evaluates one validated condition against a snapshot.
// It is pure and non-blocking: all data comes from the snapshot, never from
// the network, so short-circuiting siblings has no observable side effect.
type ConditionEvaluator struct{}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

func (e *ConditionEvaluator) Evaluate(c *rule.Condition, snap *Snapshot) Outcome {
	if c == nil {
		return outcome(Indeterminate, "nil condition")
	}
	if !c.Enabled {
		return outcome(Indeterminate, "disabled")
	}
	switch c.Type {
	case rule.TypePriceAlert:
		return e.evalPriceAlert(c, snap)
	case rule.TypeIndicator:
		return e.evalIndicator(c, snap)
	case rule.TypeVolumeAlert:
		return e.evalVolumeAlert(c, snap)
	}
	// Unknown types are normally rejected at the store boundary; degrade
	// instead of crashing if one slips through.
	logger.Warnf("condition %s: unsupported type %q", c.ID, c.Type)
	return outcome(Indeterminate, fmt.Sprintf("unsupported type %q", c.Type))
}

func (e *ConditionEvaluator) evalPriceAlert(c *rule.Condition, snap *Snapshot) Outcome {
	p, ok := c.PriceAlert()
	if !ok {
		return outcome(Indeterminate, "payload not compiled")
	}
	price, ok := snap.Price(p.Asset)
	if !ok {
		return outcome(Indeterminate, "data unavailable: price "+p.Asset)
	}
	met := price > p.TargetPrice
	if p.Direction == "below" {
		met = price < p.TargetPrice
	}
	return valueOutcome(boolResult(met), price,
		fmt.Sprintf("price %s %s %.8g", p.Asset, p.Direction, p.TargetPrice))
}

func (e *ConditionEvaluator) evalIndicator(c *rule.Condition, snap *Snapshot) Outcome {
	p, ok := c.Indicator()
	if !ok {
		return outcome(Indeterminate, "payload not compiled")
	}
	if p.Indicator == "price" {
		price, ok := snap.Price(p.Asset)
		if !ok {
			return outcome(Indeterminate, "data unavailable: price "+p.Asset)
		}
		if rule.IsCrossOperator(p.Operator) {
			// A single spot price has no previous value to cross from.
			return outcome(Indeterminate, "cross operator needs a series, got spot price")
		}
		return valueOutcome(boolResult(compare(price, p.Operator, p.Value)), price,
			fmt.Sprintf("price %s %s %.8g", p.Asset, p.Operator, p.Value))
	}
	candles, ok := snap.Klines(p.Asset, p.Timeframe)
	if !ok {
		return outcome(Indeterminate, fmt.Sprintf("data unavailable: klines %s %s", p.Asset, p.Timeframe))
	}
	value, err := computeIndicator(p, candles)
	if err != nil {
		return outcome(Indeterminate, err.Error())
	}
	detail := fmt.Sprintf("%s(%s %s) %s %.8g", p.Indicator, p.Asset, p.Timeframe, p.Operator, p.Value)
	if rule.IsCrossOperator(p.Operator) {
		if !value.hasPrev {
			return outcome(Indeterminate, "insufficient history for cross operator")
		}
		met := cross(value.previous, value.current, p.Operator, p.Value)
		return valueOutcome(boolResult(met), value.current, detail)
	}
	return valueOutcome(boolResult(compare(value.current, p.Operator, p.Value)), value.current, detail)
}

func (e *ConditionEvaluator) evalVolumeAlert(c *rule.Condition, snap *Snapshot) Outcome {
	p, ok := c.VolumeAlert()
	if !ok {
		return outcome(Indeterminate, "payload not compiled")
	}
	candles, ok := snap.Klines(p.Asset, p.Timeframe)
	if !ok || len(candles) == 0 {
		return outcome(Indeterminate, fmt.Sprintf("data unavailable: klines %s %s", p.Asset, p.Timeframe))
	}
	current := candles[len(candles)-1].Volume
	detail := fmt.Sprintf("volume %s %s %s %.8g", p.Asset, p.Timeframe, p.Operator, p.Threshold)
	if rule.IsCrossOperator(p.Operator) {
		if len(candles) < 2 {
			return outcome(Indeterminate, "insufficient history for cross operator")
		}
		met := cross(candles[len(candles)-2].Volume, current, p.Operator, p.Threshold)
		return valueOutcome(boolResult(met), current, detail)
	}
	return valueOutcome(boolResult(compare(current, p.Operator, p.Threshold)), current, detail)
}

func boolResult(met bool) Result {
	if met {
		return True
	}
	return False
}

func compare(lhs float64, op string, rhs float64) bool {
	switch op {
	case rule.OpGT:
		return lhs > rhs
	case rule.OpGE:
		return lhs >= rhs
	case rule.OpLT:
		return lhs < rhs
	case rule.OpLE:
		return lhs <= rhs
	case rule.OpEQ:
		return floatsEqual(lhs, rhs)
	}
	return false
}

func cross(prev, curr float64, op string, threshold float64) bool {
	switch op {
	case rule.OpCrossAbove:
		return prev <= threshold && curr > threshold
	case rule.OpCrossBelow:
		return prev >= threshold && curr < threshold
	}
	return false
}

func floatsEqual(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= epsilon*scale
}
