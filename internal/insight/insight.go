// Package insight asks an AI backend for commentary on an FMEA worksheet.
// Replies are shape-checked only: a JSON object is mapped onto Suggestion,
// anything else is kept verbatim in Suggestion.Raw.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fmeacore/pkg/domain"
)

// DefaultThreshold is the RPN alert threshold used when a snapshot carries none.
const DefaultThreshold = 200

// Completer runs one system/user chat exchange and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single completion call.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// ItemSnapshot is the per-item view sent to the backend.
type ItemSnapshot struct {
	ID                 string `json:"id"`
	ItemFunction       string `json:"item_function"`
	FailureMode        string `json:"failure_mode"`
	Effects            string `json:"effects,omitempty"`
	Causes             string `json:"causes,omitempty"`
	CurrentControls    string `json:"current_controls,omitempty"`
	Severity           int    `json:"severity"`
	Occurrence         int    `json:"occurrence"`
	Detection          int    `json:"detection"`
	RPN                int    `json:"rpn"`
	RecommendedActions string `json:"recommended_actions,omitempty"`
	Status             string `json:"status"`
	NewSeverity        *int   `json:"new_severity,omitempty"`
	NewOccurrence      *int   `json:"new_occurrence,omitempty"`
	NewDetection       *int   `json:"new_detection,omitempty"`
	NewRPN             *int   `json:"new_rpn,omitempty"`
}

// Snapshot is the worksheet state an insight is computed from.
type Snapshot struct {
	StudyID   string         `json:"study_id,omitempty"`
	Threshold int            `json:"threshold,omitempty"`
	Focus     string         `json:"focus,omitempty"`
	Items     []ItemSnapshot `json:"items"`
}

// SnapshotOf copies the fields the backend needs out of stored items.
func SnapshotOf(studyID string, items []domain.Item) Snapshot {
	snap := Snapshot{StudyID: studyID, Items: make([]ItemSnapshot, 0, len(items))}
	for _, it := range items {
		snap.Items = append(snap.Items, ItemSnapshot{
			ID:                 it.ID,
			ItemFunction:       it.ItemFunction,
			FailureMode:        it.FailureMode,
			Effects:            it.Effects,
			Causes:             it.Causes,
			CurrentControls:    it.CurrentControls,
			Severity:           it.Severity,
			Occurrence:         it.Occurrence,
			Detection:          it.Detection,
			RPN:                it.RPN,
			RecommendedActions: it.RecommendedActions,
			Status:             string(it.Status),
			NewSeverity:        it.NewSeverity,
			NewOccurrence:      it.NewOccurrence,
			NewDetection:       it.NewDetection,
			NewRPN:             it.NewRPN,
		})
	}
	return snap
}

// Projection is one forecast line of an rpn_forecast reply.
type Projection struct {
	ItemRef        string `json:"item_reference"`
	CurrentRPN     *int   `json:"current_rpn"`
	ProjectedRPN   *int   `json:"projected_rpn"`
	Recommendation string `json:"recommendation"`
}

// Suggestion is a parsed backend reply.
type Suggestion struct {
	Directive   Directive    `json:"directive"`
	Text        string       `json:"text"`
	Items       []string     `json:"items"`
	Projections []Projection `json:"projections,omitempty"`
	Raw         string       `json:"raw,omitempty"`
}

// BuildRequest renders the completion request for a directive.
func BuildRequest(d Directive, snap Snapshot) (Request, error) {
	p, ok := prompts[d]
	if !ok {
		return Request{}, fmt.Errorf("unknown insight directive %q", d)
	}
	payload := map[string]any{"items": snap.Items}
	switch d {
	case DirectiveRPNAlerts:
		threshold := snap.Threshold
		if threshold <= 0 {
			threshold = DefaultThreshold
		}
		payload["threshold"] = threshold
	case DirectiveCauseEffect:
		if snap.Focus != "" {
			payload["focus"] = snap.Focus
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("encode snapshot: %w", err)
	}
	return Request{
		System:      p.system,
		User:        p.instruction + "\n" + string(body) + "\nReturn JSON only.",
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}, nil
}

// Parse maps a reply onto a Suggestion. Replies that are not a JSON object are
// returned with only Directive and Raw set.
func Parse(d Directive, reply string) Suggestion {
	out := Suggestion{Directive: d, Items: []string{}}
	var fields map[string]json.RawMessage
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "{") || json.Unmarshal([]byte(trimmed), &fields) != nil {
		out.Raw = reply
		return out
	}

	out.Text = stringField(fields["summary"])
	switch d {
	case DirectiveRPNAlerts:
		out.Items = stringList(fields["alerts"])
	case DirectiveFailureModes:
		type mode struct {
			ItemFunction string `json:"item_function"`
			FailureMode  string `json:"failure_mode"`
		}
		for _, m := range objects[mode](fields["failure_modes"]) {
			if m.FailureMode == "" {
				continue
			}
			if m.ItemFunction != "" {
				out.Items = append(out.Items, m.ItemFunction+": "+m.FailureMode)
				continue
			}
			out.Items = append(out.Items, m.FailureMode)
		}
		out.Text = strings.Join(stringList(fields["notes"]), "\n")
	case DirectiveCauseEffect:
		out.Text = strings.Join(stringList(fields["insights"]), "\n")
		out.Items = stringList(fields["recommended_controls"])
	case DirectiveControlEffectiveness:
		type evaluation struct {
			ItemRef        string `json:"item_reference"`
			Effectiveness  string `json:"effectiveness"`
			Recommendation string `json:"recommendation"`
		}
		for _, e := range objects[evaluation](fields["evaluations"]) {
			if e.Effectiveness == "" {
				e.Effectiveness = "Unknown"
			}
			line := e.ItemRef + ": " + e.Effectiveness
			if e.Recommendation != "" {
				line += " - " + e.Recommendation
			}
			out.Items = append(out.Items, line)
		}
	case DirectiveRPNForecast:
		out.Projections = projections(fields["projections"])
		for _, p := range out.Projections {
			out.Items = append(out.Items, p.ItemRef)
		}
	}
	return out
}

func stringField(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// stringList keeps only the string entries of a JSON array.
func stringList(raw json.RawMessage) []string {
	var entries []json.RawMessage
	if json.Unmarshal(raw, &entries) != nil {
		return []string{}
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		var s string
		if json.Unmarshal(e, &s) == nil {
			out = append(out, s)
		}
	}
	return out
}

// objects decodes the object entries of a JSON array, skipping anything else.
func objects[T any](raw json.RawMessage) []T {
	var entries []json.RawMessage
	if json.Unmarshal(raw, &entries) != nil {
		return nil
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		if !bytes.HasPrefix(bytes.TrimSpace(e), []byte("{")) {
			continue
		}
		var v T
		if json.Unmarshal(e, &v) == nil {
			out = append(out, v)
		}
	}
	return out
}

type projectionReply struct {
	ItemRef        string   `json:"item_reference"`
	CurrentRPN     *float64 `json:"current_rpn"`
	ProjectedRPN   *float64 `json:"projected_rpn"`
	Recommendation string   `json:"recommendation"`
}

func projections(raw json.RawMessage) []Projection {
	replies := objects[projectionReply](raw)
	if replies == nil {
		return nil
	}
	out := make([]Projection, 0, len(replies))
	for _, p := range replies {
		out = append(out, Projection{
			ItemRef:        p.ItemRef,
			CurrentRPN:     roundPtr(p.CurrentRPN),
			ProjectedRPN:   roundPtr(p.ProjectedRPN),
			Recommendation: p.Recommendation,
		})
	}
	return out
}

func roundPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(*v + 0.5)
	return &n
}
