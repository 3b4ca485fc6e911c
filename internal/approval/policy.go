// Package approval implements the severity-driven incident/observation
// approval workflow: the severity policy, the status state machine, and its
// collaborators.
package approval

import "fmt"

// Severity bounds for incidents and observations.
const (
	MinSeverity = 1
	MaxSeverity = 5
)

// Path is the approval-path configuration resolved from a severity level.
type Path struct {
	// BypassValidation allows closure without expert review.
	BypassValidation bool

	// RequiresExpertValidation routes the record through HSSE validation.
	RequiresExpertValidation bool

	// RequiresManagerClosure forces a manager final-closure step after an
	// accepted validation.
	RequiresManagerClosure bool
}

// severityPaths is the complete severity -> path table. Levels 1-2 bypass
// validation entirely; 3-4 need expert validation; 5 additionally needs
// manager closure.
var severityPaths = map[int]Path{
	1: {BypassValidation: true},
	2: {BypassValidation: true},
	3: {RequiresExpertValidation: true},
	4: {RequiresExpertValidation: true},
	5: {RequiresExpertValidation: true, RequiresManagerClosure: true},
}

// ResolvePath returns the approval-path configuration for a severity level.
// An out-of-range severity is an error for the caller to surface as a
// validation failure; it is never clamped.
func ResolvePath(severity int) (Path, error) {
	path, ok := severityPaths[severity]
	if !ok {
		return Path{}, fmt.Errorf("severity %d out of range [%d, %d]", severity, MinSeverity, MaxSeverity)
	}
	return path, nil
}
