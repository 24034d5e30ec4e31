// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package place

import (
	"regexp"
	"strings"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// headingPattern matches an ATX heading at line start: one to six # marks
// followed by a space and the title.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// scanTOC builds the table of contents by scanning heading markers across
// the merged text in document order. Per prd005-placement R6.1.
func scanTOC(paragraphs []types.Paragraph) []types.TOCEntry {
	var toc []types.TOCEntry
	for _, p := range paragraphs {
		for _, line := range strings.Split(p.Text, "\n") {
			m := headingPattern.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				continue
			}
			toc = append(toc, types.TOCEntry{
				Level:     len(m[1]),
				Title:     strings.TrimSpace(m[2]),
				SectionID: p.SectionID,
			})
		}
	}
	return toc
}
