// Package testutil holds assertions that keep package boundaries honest.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// ImportRule reports whether an import path is off limits for a package.
type ImportRule func(importPath string) bool

// InternalImport matches any path under an internal/ tree.
func InternalImport(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

// ThirdPartyImport matches module paths outside the standard library and
// outside the fmeacore module.
func ThirdPartyImport(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return strings.Contains(first, ".")
}

// ModuleImportExcept matches fmeacore packages other than the allowed ones.
func ModuleImportExcept(allowed ...string) ImportRule {
	return func(path string) bool {
		if !strings.HasPrefix(path, "fmeacore/") {
			return false
		}
		for _, a := range allowed {
			if path == a {
				return false
			}
		}
		return true
	}
}

// AnyOf combines rules.
func AnyOf(rules ...ImportRule) ImportRule {
	return func(path string) bool {
		for _, r := range rules {
			if r(path) {
				return true
			}
		}
		return false
	}
}

// AssertNoDirectImports parses the non-test Go files in dir and fails when an
// import matches the rule. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, rule ImportRule, reason string) {
	t.Helper()
	viols, err := ImportViolations(dir, rule)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// ImportViolations lists "path (file)" entries for every import in dir that
// matches the rule.
func ImportViolations(dir string, rule ImportRule) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if rule(path) {
				viols = append(viols, path+" ("+name+")")
			}
		}
	}
	sort.Strings(viols)
	return viols, nil
}
