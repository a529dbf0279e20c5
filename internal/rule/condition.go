package rule

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"sentinel/internal/market"
)

// Condition types. Payload shape is fully determined by the type tag; a
// payload that fails its schema quarantines the owning rule at the store
// boundary so the evaluation core only ever sees well-formed payloads.
const (
	TypePriceAlert  = "price_alert"
	TypeIndicator   = "technical_indicator"
	TypeVolumeAlert = "volume_alert"
)

// Comparison operators shared by indicator and volume conditions.
const (
	OpGT         = "gt"
	OpGE         = "ge"
	OpLT         = "lt"
	OpLE         = "le"
	OpEQ         = "eq"
	OpCrossAbove = "cross_above"
	OpCrossBelow = "cross_below"
)

func IsCrossOperator(op string) bool {
	return op == OpCrossAbove || op == OpCrossBelow
}

var allowedTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "12h": true, "1d": true, "1w": true,
}

// Condition is an atomic typed predicate over market data. Payload holds the
// raw decoded YAML/JSON; Compile validates it against the type's schema and
// materializes the typed form.
type Condition struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Label   string         `yaml:"label"`
	Enabled bool           `yaml:"enabled"`
	Payload map[string]any `yaml:"payload"`

	price     *PriceAlertPayload
	indicator *IndicatorPayload
	volume    *VolumeAlertPayload
}

type PriceAlertPayload struct {
	Asset       string  `mapstructure:"asset"`
	Direction   string  `mapstructure:"direction"` // above | below
	TargetPrice float64 `mapstructure:"target_price"`
}

type IndicatorParams struct {
	Period int     `mapstructure:"period"`
	Fast   int     `mapstructure:"fast"`
	Slow   int     `mapstructure:"slow"`
	Signal int     `mapstructure:"signal"`
	Mult   float64 `mapstructure:"mult"`
	Band   string  `mapstructure:"band"` // upper | middle | lower
}

type IndicatorPayload struct {
	Indicator string          `mapstructure:"indicator"` // rsi|sma|ema|macd|bollinger|volume|price
	Params    IndicatorParams `mapstructure:"params"`
	Operator  string          `mapstructure:"operator"`
	Value     float64         `mapstructure:"value"`
	Asset     string          `mapstructure:"asset"`
	Timeframe string          `mapstructure:"timeframe"`
}

type VolumeAlertPayload struct {
	Asset     string  `mapstructure:"asset"`
	Timeframe string  `mapstructure:"timeframe"`
	Operator  string  `mapstructure:"operator"`
	Threshold float64 `mapstructure:"threshold"`
}

func (c *Condition) PriceAlert() (PriceAlertPayload, bool) {
	if c.price == nil {
		return PriceAlertPayload{}, false
	}
	return *c.price, true
}

func (c *Condition) Indicator() (IndicatorPayload, bool) {
	if c.indicator == nil {
		return IndicatorPayload{}, false
	}
	return *c.indicator, true
}

func (c *Condition) VolumeAlert() (VolumeAlertPayload, bool) {
	if c.volume == nil {
		return VolumeAlertPayload{}, false
	}
	return *c.volume, true
}

// Compile validates the payload against the schema for the condition type and
// decodes it into the typed form. Unknown types are rejected here, not at
// evaluation time.
func (c *Condition) Compile() error {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	schema, ok := payloadSchemas[c.Type]
	if !ok {
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	if err := schema.Validate(normalizeForSchema(c.Payload)); err != nil {
		return fmt.Errorf("payload does not match %s schema: %w", c.Type, err)
	}
	switch c.Type {
	case TypePriceAlert:
		var p PriceAlertPayload
		if err := decodePayload(c.Payload, &p); err != nil {
			return err
		}
		p.Asset = strings.ToUpper(strings.TrimSpace(p.Asset))
		p.Direction = strings.ToLower(strings.TrimSpace(p.Direction))
		c.price = &p
	case TypeIndicator:
		var p IndicatorPayload
		if err := decodePayload(c.Payload, &p); err != nil {
			return err
		}
		p.Indicator = strings.ToLower(strings.TrimSpace(p.Indicator))
		p.Operator = strings.ToLower(strings.TrimSpace(p.Operator))
		p.Asset = strings.ToUpper(strings.TrimSpace(p.Asset))
		p.Timeframe = strings.ToLower(strings.TrimSpace(p.Timeframe))
		if p.Timeframe == "" {
			p.Timeframe = "1h"
		}
		if !allowedTimeframes[p.Timeframe] {
			return fmt.Errorf("timeframe %q is not allowed", p.Timeframe)
		}
		applyIndicatorDefaults(&p)
		c.indicator = &p
	case TypeVolumeAlert:
		var p VolumeAlertPayload
		if err := decodePayload(c.Payload, &p); err != nil {
			return err
		}
		p.Asset = strings.ToUpper(strings.TrimSpace(p.Asset))
		p.Operator = strings.ToLower(strings.TrimSpace(p.Operator))
		p.Timeframe = strings.ToLower(strings.TrimSpace(p.Timeframe))
		if !allowedTimeframes[p.Timeframe] {
			return fmt.Errorf("timeframe %q is not allowed", p.Timeframe)
		}
		c.volume = &p
	}
	return nil
}

func applyIndicatorDefaults(p *IndicatorPayload) {
	switch p.Indicator {
	case "rsi":
		if p.Params.Period <= 0 {
			p.Params.Period = 14
		}
	case "sma", "ema":
		if p.Params.Period <= 0 {
			p.Params.Period = 20
		}
	case "macd":
		if p.Params.Fast <= 0 {
			p.Params.Fast = 12
		}
		if p.Params.Slow <= 0 {
			p.Params.Slow = 26
		}
		if p.Params.Signal <= 0 {
			p.Params.Signal = 9
		}
	case "bollinger":
		if p.Params.Period <= 0 {
			p.Params.Period = 20
		}
		if p.Params.Mult <= 0 {
			p.Params.Mult = 2.0
		}
		if p.Params.Band == "" {
			p.Params.Band = "upper"
		}
	}
}

// RequiredKeys returns the data keys this condition needs, with the kline
// depth sized to the indicator's lookback (plus one extra closed candle for
// cross operators, which compare the previous value against the threshold).
func (c *Condition) RequiredKeys() []market.DataKey {
	switch c.Type {
	case TypePriceAlert:
		p := c.price
		if p == nil {
			return nil
		}
		return []market.DataKey{market.PriceKey(p.Asset)}
	case TypeIndicator:
		p := c.indicator
		if p == nil {
			return nil
		}
		if p.Indicator == "price" {
			return []market.DataKey{market.PriceKey(p.Asset)}
		}
		limit := c.klineLookback(p)
		if limit <= 0 {
			return nil
		}
		return []market.DataKey{market.KlinesKey(p.Asset, p.Timeframe, limit)}
	case TypeVolumeAlert:
		p := c.volume
		if p == nil {
			return nil
		}
		return []market.DataKey{market.KlinesKey(p.Asset, p.Timeframe, 2)}
	}
	return nil
}

func (c *Condition) klineLookback(p *IndicatorPayload) int {
	cross := IsCrossOperator(p.Operator)
	extra := 0
	if cross {
		extra = 1
	}
	switch p.Indicator {
	case "rsi":
		return p.Params.Period + 1 + extra
	case "sma", "ema":
		n := p.Params.Period + extra
		if n < 2 {
			n = 2
		}
		return n
	case "macd":
		return p.Params.Slow + p.Params.Signal + extra
	case "bollinger":
		return p.Params.Period + extra
	case "volume":
		if cross {
			return 2
		}
		return 1
	}
	return 0
}

func decodePayload(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decoding payload failed: %w", err)
	}
	return nil
}

// normalizeForSchema round-trips the payload through JSON so YAML-decoded
// maps (map[any]any, ints) match what the schema validator expects.
func normalizeForSchema(raw map[string]any) any {
	b, err := json.Marshal(raw)
	if err != nil {
		return raw
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return raw
	}
	return out
}

var payloadSchemas = map[string]*jsonschema.Schema{}

func init() {
	for name, schema := range map[string]string{
		TypePriceAlert: `{
			"type": "object",
			"required": ["asset", "direction", "target_price"],
			"properties": {
				"asset": {"type": "string", "minLength": 1},
				"direction": {"enum": ["above", "below"]},
				"target_price": {"type": "number"}
			}
		}`,
		TypeIndicator: `{
			"type": "object",
			"required": ["indicator", "operator", "value", "asset"],
			"properties": {
				"indicator": {"enum": ["rsi", "sma", "ema", "macd", "bollinger", "volume", "price"]},
				"operator": {"enum": ["gt", "ge", "lt", "le", "eq", "cross_above", "cross_below"]},
				"value": {"type": "number"},
				"asset": {"type": "string", "minLength": 1},
				"timeframe": {"type": "string"},
				"params": {"type": "object"}
			}
		}`,
		TypeVolumeAlert: `{
			"type": "object",
			"required": ["asset", "timeframe", "operator", "threshold"],
			"properties": {
				"asset": {"type": "string", "minLength": 1},
				"timeframe": {"type": "string"},
				"operator": {"enum": ["gt", "ge", "lt", "le", "eq", "cross_above", "cross_below"]},
				"threshold": {"type": "number"}
			}
		}`,
	} {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name+".json", strings.NewReader(schema)); err != nil {
			panic(err)
		}
		payloadSchemas[name] = compiler.MustCompile(name + ".json")
	}
}
