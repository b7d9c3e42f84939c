// Package analytics derives worksheet charts and dashboard summaries from an
// item snapshot. Every function is pure and leaves its inputs untouched.
package analytics

import (
	"sort"
	"strings"
	"time"

	"fmeacore/pkg/domain"
)

const (
	// DefaultParetoSize is the number of items shown on the Pareto chart.
	DefaultParetoSize = 8
	// DefaultActionPrioritySize is the number of items on the action priority list.
	DefaultActionPrioritySize = 6
	// DefaultHighRPNThreshold marks an item as high risk in summaries.
	DefaultHighRPNThreshold = 200
)

// Bucket counts items whose RPN lies in [Min, Max]. Max is 0 for the open top bucket.
type Bucket struct {
	Label string `json:"label"`
	Min   int    `json:"min"`
	Max   int    `json:"max,omitempty"`
	Count int    `json:"count"`
}

func (b Bucket) contains(rpn int) bool {
	return rpn >= b.Min && (b.Max == 0 || rpn <= b.Max)
}

// Point is one bar of a ranked chart.
type Point struct {
	Label  string `json:"label"`
	Value  int    `json:"value"`
	ItemID string `json:"item_id"`
}

// MatrixPoint places one item on the occurrence/severity plane, sized by RPN.
type MatrixPoint struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Z      int    `json:"z"`
	Label  string `json:"label"`
	ItemID string `json:"item_id"`
}

func distributionBuckets() []Bucket {
	return []Bucket{
		{Label: "1-100", Min: 1, Max: 100},
		{Label: "101-200", Min: 101, Max: 200},
		{Label: "201-500", Min: 201, Max: 500},
		{Label: "501+", Min: 501},
	}
}

// Distribution counts items per fixed RPN bucket. Buckets are returned in
// ascending order and always all four are present.
func Distribution(items []domain.Item) []Bucket {
	buckets := distributionBuckets()
	for _, item := range items {
		for i := range buckets {
			if buckets[i].contains(item.RPN) {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

// BucketLabel returns the distribution bucket an RPN falls into, or "" below 1.
func BucketLabel(rpn int) string {
	for _, b := range distributionBuckets() {
		if b.contains(rpn) {
			return b.Label
		}
	}
	return ""
}

// rankByRPN returns a copy sorted by RPN descending. Ties keep creation order.
func rankByRPN(items []domain.Item) []domain.Item {
	ranked := append([]domain.Item(nil), items...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RPN != ranked[j].RPN {
			return ranked[i].RPN > ranked[j].RPN
		}
		return ranked[i].Seq < ranked[j].Seq
	})
	return ranked
}

// RankByRPN exposes the Pareto ordering for callers that need full items.
func RankByRPN(items []domain.Item) []domain.Item {
	return rankByRPN(items)
}

func label(item domain.Item) string {
	if l := strings.TrimSpace(item.FailureMode); l != "" {
		return l
	}
	return strings.TrimSpace(item.ItemFunction)
}

func top(items []domain.Item, n int) []Point {
	if n < 0 {
		n = 0
	}
	if n > len(items) {
		n = len(items)
	}
	out := make([]Point, 0, n)
	for _, item := range items[:n] {
		out = append(out, Point{Label: label(item), Value: item.RPN, ItemID: item.ID})
	}
	return out
}

// Pareto returns the n highest RPN items, or none when n <= 0. Callers
// without a chart size pass DefaultParetoSize.
func Pareto(items []domain.Item, n int) []Point {
	return top(rankByRPN(items), n)
}

// RiskMatrix returns one point per item, duplicates included.
func RiskMatrix(items []domain.Item) []MatrixPoint {
	out := make([]MatrixPoint, 0, len(items))
	for _, item := range items {
		out = append(out, MatrixPoint{
			X:      item.Occurrence,
			Y:      item.Severity,
			Z:      item.RPN,
			Label:  label(item),
			ItemID: item.ID,
		})
	}
	return out
}

// ActionPriority ranks items that carry recommended actions and keeps the top
// n, or none when n <= 0.
func ActionPriority(items []domain.Item, n int) []Point {
	withActions := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.RecommendedActions) != "" {
			withActions = append(withActions, item)
		}
	}
	return top(rankByRPN(withActions), n)
}

// OverdueCandidates lists actions past their due date that are neither
// Completed nor Cancelled. Statuses are not changed.
func OverdueCandidates(actions []domain.Action, now time.Time) []domain.Action {
	var out []domain.Action
	for _, a := range actions {
		if a.DueDate == nil || a.Status.Closed() {
			continue
		}
		if a.DueDate.Before(now) {
			out = append(out, a)
		}
	}
	return out
}
