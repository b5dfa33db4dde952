package observables

import (
	"regexp"
	"strings"
)

var cveRe = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)

// CVE is a vulnerability identifier found in text.
type CVE struct {
	ID         string `json:"id"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
	// EntityID links to a cached Vulnerability entity when one exists.
	EntityID   string `json:"entityId,omitempty"`
	PlatformID string `json:"platformId,omitempty"`
}

// DetectCVEs returns the distinct CVE ids of text, upper-cased, at their
// first occurrence.
func DetectCVEs(text string) []CVE {
	var out []CVE
	seen := map[string]struct{}{}
	for _, loc := range cveRe.FindAllStringIndex(text, -1) {
		id := strings.ToUpper(text[loc[0]:loc[1]])
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, CVE{ID: id, StartIndex: loc[0], EndIndex: loc[1]})
	}
	return out
}
