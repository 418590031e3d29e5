package broadcast

import (
	"fmt"
	"strings"
)

// QualityError reports the full violation list; content is never altered.
type QualityError struct {
	Violations []Violation
}

func (e *QualityError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = string(v)
	}
	return "quality check failed: " + strings.Join(parts, "; ")
}

func (e *QualityError) Is(target error) bool { return target == ErrQualityRejected }

// RateLimitError carries the remaining cooldown, formatted m:ss.
type RateLimitError struct {
	Wait string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: wait %s", e.Wait)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
