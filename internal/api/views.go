package api

import (
	"fmeacore/internal/core"
	"fmeacore/internal/directory"
)

type memberView struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	FullName   string `json:"full_name"`
	Department string `json:"department,omitempty"`
	Position   string `json:"position,omitempty"`
}

type studyView struct {
	core.Study
	TeamLeadName string       `json:"team_lead_name"`
	Team         []memberView `json:"team"`
}

type itemView struct {
	core.Item
	ResponsibilityName string `json:"responsibility_name,omitempty"`
}

type actionView struct {
	core.Action
	OwnerName string `json:"owner_name"`
}

type mutation[T any] struct {
	Data       T               `json:"data"`
	Violations []violationView `json:"violations,omitempty"`
}

func studyOf(dir *directory.Directory, s core.Study) studyView {
	view := studyView{Study: s, TeamLeadName: dir.Name(s.TeamLeadID), Team: make([]memberView, 0, len(s.TeamMembers))}
	for _, tm := range s.TeamMembers {
		m, ok := dir.Lookup(tm.UserID)
		if !ok {
			m = directory.Member{FullName: tm.UserID}
		}
		view.Team = append(view.Team, memberView{
			UserID:     tm.UserID,
			Role:       tm.Role,
			FullName:   m.FullName,
			Department: m.Department,
			Position:   m.Position,
		})
	}
	return view
}

func itemOf(dir *directory.Directory, it core.Item) itemView {
	view := itemView{Item: it}
	if it.ResponsibilityUserID != "" {
		view.ResponsibilityName = dir.Name(it.ResponsibilityUserID)
	}
	return view
}

func actionOf(dir *directory.Directory, a core.Action) actionView {
	return actionView{Action: a, OwnerName: dir.Name(a.OwnerUserID)}
}

func mapViews[T, V any](in []T, fn func(T) V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}
