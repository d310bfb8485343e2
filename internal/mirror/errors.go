package mirror

import "fmt"

// ErrInvalidRevision is returned when the mirroring tool is asked to mirror
// a revision that is neither a known branch name nor a 40-character
// lowercase hex commit hash.
type ErrInvalidRevision struct {
	Revision string
	Reason   string
}

func (e *ErrInvalidRevision) Error() string {
	return fmt.Sprintf("invalid revision %q: %s", e.Revision, e.Reason)
}
