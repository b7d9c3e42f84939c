package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"fmeacore/internal/core"
	"fmeacore/pkg/domain"
)

// Format names an export encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Valid reports whether f is supported.
func (f Format) Valid() bool { return f == FormatJSON || f == FormatCSV }

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

var csvHeader = []string{
	"seq", "item_function", "failure_mode", "effects", "severity", "causes",
	"occurrence", "current_controls", "detection", "rpn", "recommended_actions",
	"responsibility_user_id", "target_date", "actions_taken", "status",
	"new_severity", "new_occurrence", "new_detection", "new_rpn",
}

// Render encodes a worksheet. JSON carries the study, actions and every chart;
// CSV carries the filtered item rows only.
func Render(format Format, ws core.StudyWorksheet) ([]byte, error) {
	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(ws, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal worksheet: %w", err)
		}
		return payload, nil
	case FormatCSV:
		return renderCSV(ws.Items)
	default:
		return nil, domain.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported export format %q", format)}
	}
}

func renderCSV(items []domain.Item) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, it := range items {
		row := []string{
			strconv.FormatInt(it.Seq, 10),
			it.ItemFunction,
			it.FailureMode,
			it.Effects,
			strconv.Itoa(it.Severity),
			it.Causes,
			strconv.Itoa(it.Occurrence),
			it.CurrentControls,
			strconv.Itoa(it.Detection),
			strconv.Itoa(it.RPN),
			it.RecommendedActions,
			it.ResponsibilityUserID,
			formatDate(it.TargetDate),
			it.ActionsTaken,
			string(it.Status),
			formatInt(it.NewSeverity),
			formatInt(it.NewOccurrence),
			formatInt(it.NewDetection),
			formatInt(it.NewRPN),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
