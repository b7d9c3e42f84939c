package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestBackendsOnlyImportedThroughBlob keeps export code on the blob.Store
// interface: no package outside internal/blob may import a backend.
func TestBackendsOnlyImportedThroughBlob(t *testing.T) {
	const (
		infraPrefix   = "fmeacore/internal/infra/blob"
		allowedPrefix = "fmeacore/internal/blob"
	)

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "fmeacore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	if len(pkgs) == 0 {
		t.Fatalf("no packages loaded")
	}

	violations := map[string]struct{}{}
	for _, pkg := range pkgs {
		if within(pkg.PkgPath, allowedPrefix) || within(pkg.PkgPath, infraPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if within(importPath, infraPrefix) {
				violations[pkg.PkgPath+" -> "+importPath] = struct{}{}
			}
		}
	}
	if len(violations) == 0 {
		return
	}
	list := make([]string, 0, len(violations))
	for v := range violations {
		list = append(list, v)
	}
	sort.Strings(list)
	t.Fatalf("blob backends imported outside internal/blob:\n%s", strings.Join(list, "\n"))
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
