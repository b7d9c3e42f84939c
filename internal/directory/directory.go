// Package directory resolves team member ids to display details. Members are
// loaded once from a YAML file and never change for the lifetime of the process.
package directory

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Member is one selectable team member.
type Member struct {
	UserID     string `yaml:"user_id" json:"id"`
	FullName   string `yaml:"full_name" json:"full_name"`
	Department string `yaml:"department,omitempty" json:"department,omitempty"`
	Position   string `yaml:"position,omitempty" json:"position,omitempty"`
	Inactive   bool   `yaml:"inactive,omitempty" json:"-"`
}

type file struct {
	Members []Member `yaml:"members"`
}

// Directory is a read-only member index. The zero value is an empty directory.
type Directory struct {
	byID    map[string]Member
	ordered []Member
}

// Load reads a directory file. An empty path yields an empty directory.
func Load(path string) (*Directory, error) {
	if path == "" {
		return New(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document of the form `members: [{user_id, full_name, ...}]`.
func Parse(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}
	return New(f.Members)
}

// New indexes members. Inactive members are dropped; ids must be unique and
// every active member needs a name.
func New(members []Member) (*Directory, error) {
	d := &Directory{byID: make(map[string]Member, len(members))}
	for i, m := range members {
		m.UserID = strings.TrimSpace(m.UserID)
		m.FullName = strings.TrimSpace(m.FullName)
		if m.UserID == "" {
			return nil, fmt.Errorf("directory member %d: user_id is required", i)
		}
		if _, dup := d.byID[m.UserID]; dup {
			return nil, fmt.Errorf("directory member %s listed twice", m.UserID)
		}
		if m.Inactive {
			continue
		}
		if m.FullName == "" {
			return nil, fmt.Errorf("directory member %s: full_name is required", m.UserID)
		}
		d.byID[m.UserID] = m
		d.ordered = append(d.ordered, m)
	}
	sort.SliceStable(d.ordered, func(i, j int) bool {
		a, b := strings.ToLower(d.ordered[i].FullName), strings.ToLower(d.ordered[j].FullName)
		if a != b {
			return a < b
		}
		return d.ordered[i].UserID < d.ordered[j].UserID
	})
	return d, nil
}

// Lookup returns the active member with the given id.
func (d *Directory) Lookup(userID string) (Member, bool) {
	if d == nil {
		return Member{}, false
	}
	m, ok := d.byID[userID]
	return m, ok
}

// List returns every active member sorted by full name.
func (d *Directory) List() []Member {
	if d == nil {
		return []Member{}
	}
	out := make([]Member, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// Name returns the member's full name, or the id itself when unknown.
func (d *Directory) Name(userID string) string {
	if m, ok := d.Lookup(userID); ok {
		return m.FullName
	}
	return userID
}

// Len reports the number of active members.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.ordered)
}
