// Package fieldvalue defines the strategy output type shared by the
// rule-based, position-based and CRF strategies, the Hybrid Arbiter and
// the Adaptive Post-Processor (§3's FieldValue).
package fieldvalue

// StrategyType enumerates the three extraction strategies (§9's "Dynamic
// dispatch among strategies": an enumerated variant with a registry maps
// the type to its implementation, rather than open polymorphism, because
// the arbiter must iterate the known set exhaustively).
type StrategyType string

const (
	RuleBased     StrategyType = "rule_based"
	PositionBased StrategyType = "position_based"
	CRF           StrategyType = "crf"
)

// AllStrategyTypes lists every strategy variant, the exhaustive set the
// arbiter iterates.
var AllStrategyTypes = []StrategyType{RuleBased, PositionBased, CRF}

// Normalize maps legacy spellings (§6: "rule-based", "crf-model",
// "rule-based-label") onto the three canonical values. Unrecognized
// input is returned unchanged so callers can detect and reject it.
func Normalize(s string) StrategyType {
	switch s {
	case string(RuleBased), "rule-based", "rule-based-label", "rule_based_strategy":
		return RuleBased
	case string(PositionBased), "position-based":
		return PositionBased
	case string(CRF), "crf-model", "crf_model":
		return CRF
	default:
		return StrategyType(s)
	}
}

// AttemptRecord is one strategy's outcome within a field's
// all_strategies_attempted map (§3).
type AttemptRecord struct {
	Success    bool    `msgpack:"success" json:"success"`
	Confidence float64 `msgpack:"confidence" json:"confidence"`
	Value      string  `msgpack:"value,omitempty" json:"value,omitempty"`
	Error      string  `msgpack:"error,omitempty" json:"error,omitempty"`
}

// Metadata is FieldValue's companion payload (§3): it must always record
// every strategy the arbiter invoked, plus who was selected.
type Metadata struct {
	AllStrategiesAttempted map[StrategyType]AttemptRecord `msgpack:"all_strategies_attempted" json:"all_strategies_attempted"`
	SelectedBy             string                          `msgpack:"selected_by" json:"selected_by"`
}

// FieldValue is one field's extraction result (§3).
type FieldValue struct {
	Value      string
	Confidence float64
	Method     StrategyType
	Metadata   Metadata
}
