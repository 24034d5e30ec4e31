// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sandbox

import (
	"regexp"
	"sort"
	"strings"
)

// importPattern matches Python import statements at line start:
// "import a.b as c" and "from a.b import c". The first capture is the
// dotted module path.
var importPattern = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([A-Za-z_][\w.]*)`)

// CheckImports scans code for import statements and returns the module roots
// not covered by the allow-list, sorted and deduplicated. A nil allow-list
// disables the check. This is a defense-in-depth measure on top of the
// container isolation, not a substitute for it. Per prd003-sandbox R5.1-R5.3.
func CheckImports(code string, allowed []string) []string {
	if allowed == nil {
		return nil
	}

	allowSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowSet[a] = true
	}

	violations := make(map[string]bool)
	for _, m := range importPattern.FindAllStringSubmatch(code, -1) {
		root := m[1]
		if i := strings.IndexByte(root, '.'); i >= 0 {
			root = root[:i]
		}
		if !allowSet[root] {
			violations[root] = true
		}
	}

	if len(violations) == 0 {
		return nil
	}
	out := make([]string, 0, len(violations))
	for v := range violations {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
