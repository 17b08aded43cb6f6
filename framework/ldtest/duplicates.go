package ldtest

import (
	"fmt"
	"strings"
)

// findDuplicateNames returns each name that is used by more than one test, once, in the order
// in which the duplication was first detected.
func findDuplicateNames(tests []*TestCase) []string {
	seen := make(map[string]bool)
	reported := make(map[string]bool)
	var dups []string
	for _, t := range tests {
		if seen[t.name] && !reported[t.name] {
			dups = append(dups, t.name)
			reported[t.name] = true
		}
		seen[t.name] = true
	}
	return dups
}

func duplicateNamesMessage(dups []string) string {
	plural := ""
	if len(dups) > 1 {
		plural = "s"
	}
	return fmt.Sprintf(`%d duplicate test name%s: "%s"`, len(dups), plural, strings.Join(dups, `", "`))
}
