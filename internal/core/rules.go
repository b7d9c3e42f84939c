package core

import "fmeacore/pkg/domain"

// DefaultHighRPNThreshold is the RPN at or above which an item counts as high risk.
const DefaultHighRPNThreshold = 200

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	return NewRulesEngineWithThreshold(DefaultHighRPNThreshold)
}

// NewRulesEngineWithThreshold builds the built-in policy set with a custom
// high-RPN warning threshold.
func NewRulesEngineWithThreshold(threshold int) *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewDerivedConsistencyRule())
	engine.Register(NewActionItemReferenceRule())
	engine.Register(NewHighRPNUnmitigatedRule(threshold))
	engine.Register(NewClosedStudyEditRule())
	return engine
}
