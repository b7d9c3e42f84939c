package insight

import "fmt"

// Directive names one kind of AI analysis over a study's worksheet.
type Directive string

// Supported directives.
const (
	DirectiveRPNAlerts            Directive = "rpn_alerts"
	DirectiveFailureModes         Directive = "failure_mode_prediction"
	DirectiveCauseEffect          Directive = "cause_effect"
	DirectiveControlEffectiveness Directive = "control_effectiveness"
	DirectiveRPNForecast          Directive = "rpn_forecast"
)

// Directives lists every supported directive in display order.
func Directives() []Directive {
	return []Directive{
		DirectiveRPNAlerts,
		DirectiveFailureModes,
		DirectiveCauseEffect,
		DirectiveControlEffectiveness,
		DirectiveRPNForecast,
	}
}

// Valid reports whether d is a supported directive.
func (d Directive) Valid() bool {
	_, ok := prompts[d]
	return ok
}

// ParseDirective maps a name to a directive.
func ParseDirective(name string) (Directive, error) {
	d := Directive(name)
	if !d.Valid() {
		return "", fmt.Errorf("unknown insight directive %q", name)
	}
	return d, nil
}

type prompt struct {
	system      string
	instruction string
	temperature float32
	maxTokens   int
}

var prompts = map[Directive]prompt{
	DirectiveRPNAlerts: {
		system: "You are monitoring an FMEA program. Identify high-risk items using the provided RPN threshold. " +
			"Respond in JSON with keys: alerts (list of strings) and summary (string).",
		instruction: "Evaluate these FMEA worksheet items and highlight those exceeding the RPN threshold.",
		temperature: 0.2,
		maxTokens:   400,
	},
	DirectiveFailureModes: {
		system: "You are an FMEA domain expert. Suggest potential failure modes based on the provided worksheet. " +
			"Return JSON with key failure_modes (list of objects containing item_function, failure_mode, effects, " +
			"causes, controls, severity, occurrence, detection) and notes (list of strings).",
		instruction: "Analyze this worksheet and recommend further failure modes.",
		temperature: 0.35,
		maxTokens:   750,
	},
	DirectiveCauseEffect: {
		system: "You are reviewing an FMEA worksheet. Provide cause-and-effect insights and improvement suggestions. " +
			"Return JSON with keys insights (list of strings) and recommended_controls (list of strings).",
		instruction: "Analyze these FMEA entries for cause-effect relationships and control gaps.",
		temperature: 0.2,
		maxTokens:   600,
	},
	DirectiveControlEffectiveness: {
		system: "You are assessing FMEA controls. Score the effectiveness (High/Medium/Low) for each item and suggest " +
			"upgrades. Return JSON with keys evaluations (list of {item_reference, effectiveness, recommendation}) and summary.",
		instruction: "Evaluate detection and prevention controls for each FMEA line.",
		temperature: 0.25,
		maxTokens:   700,
	},
	DirectiveRPNForecast: {
		system: "You are modelling RPN impact. Estimate projected RPN after proposed actions. Return JSON with keys " +
			"projections (list of {item_reference, current_rpn, projected_rpn, recommendation}) and summary.",
		instruction: "Model how the recommended actions will change RPN values.",
		temperature: 0.25,
		maxTokens:   700,
	},
}
