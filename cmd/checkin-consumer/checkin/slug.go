package checkin

import (
	"regexp"
	"strings"

	"github.com/pulsewatch/pulsewatch/cmd/checkin-consumer/shared"
)

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9_\s-]`)
	slugSeparators   = regexp.MustCompile(`[\s-]+`)
)

// NormalizeSlug turns the reported monitor slug into its canonical form:
// lowercased, invalid characters stripped, whitespace and hyphen runs
// collapsed to a single hyphen, capped at MaxSlugLength and trimmed of
// leading/trailing hyphens. Check-ins are not routed through the regular
// monitor validator, so this must happen before any lookup.
func NormalizeSlug(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = slugInvalidChars.ReplaceAllString(s, "")
	s = slugSeparators.ReplaceAllString(s, "-")
	if len(s) > shared.MaxSlugLength {
		s = s[:shared.MaxSlugLength]
	}
	return strings.Trim(s, "-")
}
