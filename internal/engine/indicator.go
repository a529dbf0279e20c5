package engine

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"sentinel/internal/market"
	"sentinel/internal/rule"
)

// indicatorValue carries the latest indicator value and, when the series is
// deep enough, the previous one for cross operators.
type indicatorValue struct {
	current  float64
	previous float64
	hasPrev  bool
}

// computeIndicator derives the payload's indicator from a candle series.
// Computation is deterministic given identical input; insufficient series
// depth is an error the caller maps to indeterminate.
func computeIndicator(p rule.IndicatorPayload, candles []market.Candle) (indicatorValue, error) {
	closes := market.Closes(candles)
	switch p.Indicator {
	case "rsi":
		period := p.Params.Period
		if len(closes) < period+1 {
			return indicatorValue{}, insufficientData("rsi", period+1, len(closes))
		}
		series := talib.Rsi(closes, period)
		return lastTwo(series, len(closes) >= period+2), nil
	case "sma":
		period := p.Params.Period
		if len(closes) < period {
			return indicatorValue{}, insufficientData("sma", period, len(closes))
		}
		series := talib.Sma(closes, period)
		return lastTwo(series, len(closes) >= period+1), nil
	case "ema":
		period := p.Params.Period
		if len(closes) < period {
			return indicatorValue{}, insufficientData("ema", period, len(closes))
		}
		series := talib.Ema(closes, period)
		return lastTwo(series, len(closes) >= period+1), nil
	case "macd":
		need := p.Params.Slow + p.Params.Signal
		if len(closes) < need {
			return indicatorValue{}, insufficientData("macd", need, len(closes))
		}
		macd, _, _ := talib.Macd(closes, p.Params.Fast, p.Params.Slow, p.Params.Signal)
		return lastTwo(macd, len(closes) >= need+1), nil
	case "bollinger":
		period := p.Params.Period
		if len(closes) < period {
			return indicatorValue{}, insufficientData("bollinger", period, len(closes))
		}
		upper, middle, lower := talib.BBands(closes, period, p.Params.Mult, p.Params.Mult, talib.SMA)
		var series []float64
		switch p.Params.Band {
		case "lower":
			series = lower
		case "middle":
			series = middle
		default:
			series = upper
		}
		return lastTwo(series, len(closes) >= period+1), nil
	case "volume":
		volumes := market.Volumes(candles)
		if len(volumes) == 0 {
			return indicatorValue{}, insufficientData("volume", 1, 0)
		}
		return lastTwo(volumes, len(volumes) >= 2), nil
	}
	return indicatorValue{}, fmt.Errorf("unknown indicator %q", p.Indicator)
}

func lastTwo(series []float64, withPrev bool) indicatorValue {
	out := indicatorValue{current: series[len(series)-1]}
	if withPrev && len(series) >= 2 {
		out.previous = series[len(series)-2]
		out.hasPrev = true
	}
	return out
}

func insufficientData(indicator string, need, got int) error {
	return fmt.Errorf("%s: insufficient data, need %d candles got %d", indicator, need, got)
}
