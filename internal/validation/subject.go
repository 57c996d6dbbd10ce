// Package validation contains shared input validation for identifiers the
// API accepts verbatim from clients.
package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

const maxSubjectIDLen = 191

var featureNameRegex = regexp.MustCompile(`^[a-z0-9_]{3,64}$`)

// ValidateSubjectID checks the shape of a subject identifier. Identifiers are
// opaque, so only size and encoding are enforced.
func ValidateSubjectID(id string) error {
	if id == "" {
		return fmt.Errorf("subject id must not be empty")
	}
	if len(id) > maxSubjectIDLen {
		return fmt.Errorf("subject id must be at most %d bytes", maxSubjectIDLen)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("subject id must be valid UTF-8")
	}
	return nil
}

// ValidateFeatureName checks catalog feature name format.
func ValidateFeatureName(name string) error {
	if !featureNameRegex.MatchString(name) {
		return fmt.Errorf("feature name must be 3-64 characters of lowercase letters, numbers, and underscores")
	}
	return nil
}
