package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentinel/internal/market"
	"sentinel/internal/rule"
)

func mustCompile(t *testing.T, typ string, payload map[string]any) *rule.Condition {
	t.Helper()
	c := &rule.Condition{ID: "c", Type: typ, Enabled: true, Payload: payload}
	assert.NoError(t, c.Compile())
	return c
}

func candlesFromCloses(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, cl := range closes {
		out[i] = market.Candle{Open: cl, High: cl, Low: cl, Close: cl, Volume: 1000}
	}
	return out
}

func snapshotWith(price map[string]float64, klines map[string][]market.Candle) *Snapshot {
	snap := newSnapshot(time.Now())
	for asset, p := range price {
		snap.setPrice(asset, p)
	}
	for id, candles := range klines {
		snap.setKlines(id, candles)
	}
	return snap
}

func TestEvaluatePriceAlert(t *testing.T) {
	e := NewConditionEvaluator()
	above := mustCompile(t, rule.TypePriceAlert, map[string]any{
		"asset": "BTC", "direction": "above", "target_price": 50000,
	})

	o := e.Evaluate(above, snapshotWith(map[string]float64{"BTC": 50500}, nil))
	assert.Equal(t, True, o.Result)
	assert.Equal(t, 50500.0, o.Value)

	o = e.Evaluate(above, snapshotWith(map[string]float64{"BTC": 49000}, nil))
	assert.Equal(t, False, o.Result)

	below := mustCompile(t, rule.TypePriceAlert, map[string]any{
		"asset": "BTC", "direction": "below", "target_price": 50000,
	})
	o = e.Evaluate(below, snapshotWith(map[string]float64{"BTC": 49000}, nil))
	assert.Equal(t, True, o.Result)
}

func TestEvaluateMissingDataIsIndeterminateNotFalse(t *testing.T) {
	e := NewConditionEvaluator()
	c := mustCompile(t, rule.TypePriceAlert, map[string]any{
		"asset": "BTC", "direction": "above", "target_price": 50000,
	})
	o := e.Evaluate(c, snapshotWith(nil, nil))
	assert.Equal(t, Indeterminate, o.Result)
	assert.NotEqual(t, False, o.Result)
	assert.Contains(t, o.Detail, "data unavailable")
}

func TestEvaluateDisabledConditionIsIndeterminate(t *testing.T) {
	e := NewConditionEvaluator()
	c := mustCompile(t, rule.TypePriceAlert, map[string]any{
		"asset": "BTC", "direction": "above", "target_price": 50000,
	})
	c.Enabled = false
	o := e.Evaluate(c, snapshotWith(map[string]float64{"BTC": 60000}, nil))
	assert.Equal(t, Indeterminate, o.Result)
	assert.Equal(t, "disabled", o.Detail)
}

func TestEvaluateSMAIsDeterministic(t *testing.T) {
	e := NewConditionEvaluator()
	c := mustCompile(t, rule.TypeIndicator, map[string]any{
		"asset": "BTC", "indicator": "sma", "operator": "gt", "value": 102,
		"timeframe": "1h", "params": map[string]any{"period": 3},
	})
	series := candlesFromCloses(100, 101, 102, 103, 104)
	key := market.KlinesKey("BTC", "1h", 0).SeriesID()

	// sma(3) over the tail is (102+103+104)/3 = 103
	var values []float64
	for i := 0; i < 5; i++ {
		o := e.Evaluate(c, snapshotWith(nil, map[string][]market.Candle{key: series}))
		assert.Equal(t, True, o.Result)
		values = append(values, o.Value)
	}
	for _, v := range values {
		assert.InDelta(t, 103.0, v, 1e-9)
	}
}

func TestEvaluateIndicatorInsufficientData(t *testing.T) {
	e := NewConditionEvaluator()
	c := mustCompile(t, rule.TypeIndicator, map[string]any{
		"asset": "BTC", "indicator": "rsi", "operator": "lt", "value": 30,
		"timeframe": "1h", "params": map[string]any{"period": 14},
	})
	key := market.KlinesKey("BTC", "1h", 0).SeriesID()
	o := e.Evaluate(c, snapshotWith(nil, map[string][]market.Candle{key: candlesFromCloses(1, 2, 3)}))
	assert.Equal(t, Indeterminate, o.Result)
	assert.Contains(t, o.Detail, "insufficient data")
}

func TestEvaluateCrossAbove(t *testing.T) {
	e := NewConditionEvaluator()
	c := mustCompile(t, rule.TypeIndicator, map[string]any{
		"asset": "BTC", "indicator": "sma", "operator": "cross_above", "value": 102,
		"timeframe": "1h", "params": map[string]any{"period": 2},
	})
	key := market.KlinesKey("BTC", "1h", 0).SeriesID()

	// previous sma = (101+103)/2 = 102, current = (103+105)/2 = 104
	o := e.Evaluate(c, snapshotWith(nil, map[string][]market.Candle{key: candlesFromCloses(101, 103, 105)}))
	assert.Equal(t, True, o.Result)

	// already above on both points: no crossing
	o = e.Evaluate(c, snapshotWith(nil, map[string][]market.Candle{key: candlesFromCloses(103, 105, 107)}))
	assert.Equal(t, False, o.Result)
}

func TestEvaluateCrossOnSpotPriceIsIndeterminate(t *testing.T) {
	e := NewConditionEvaluator()
	c := mustCompile(t, rule.TypeIndicator, map[string]any{
		"asset": "BTC", "indicator": "price", "operator": "cross_above", "value": 50000,
	})
	o := e.Evaluate(c, snapshotWith(map[string]float64{"BTC": 50500}, nil))
	assert.Equal(t, Indeterminate, o.Result)
}

func TestEvaluateVolumeAlert(t *testing.T) {
	e := NewConditionEvaluator()
	c := mustCompile(t, rule.TypeVolumeAlert, map[string]any{
		"asset": "ETH", "timeframe": "15m", "operator": "gt", "threshold": 500,
	})
	key := market.KlinesKey("ETH", "15m", 0).SeriesID()
	series := []market.Candle{{Close: 1, Volume: 400}, {Close: 1, Volume: 900}}
	o := e.Evaluate(c, snapshotWith(nil, map[string][]market.Candle{key: series}))
	assert.Equal(t, True, o.Result)
	assert.Equal(t, 900.0, o.Value)
}

func TestEvaluateEqUsesEpsilon(t *testing.T) {
	e := NewConditionEvaluator()
	c := mustCompile(t, rule.TypeIndicator, map[string]any{
		"asset": "BTC", "indicator": "price", "operator": "eq", "value": 0.3,
	})
	o := e.Evaluate(c, snapshotWith(map[string]float64{"BTC": 0.1 + 0.2}, nil))
	assert.Equal(t, True, o.Result)
}
