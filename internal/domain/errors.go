package domain

import "fmt"

// Identity kinds reported by IdentityError.
const (
	IdentityPullRequest = "pull_request"
	IdentityCommit      = "commit"
)

// IdentityError reports an author that the mapping table does not know.
// It is fatal: the report must not be produced with unidentified authors.
type IdentityError struct {
	Kind     string
	Ref      string
	Identity string
}

func (e *IdentityError) Error() string {
	if e.Kind == IdentityCommit {
		return fmt.Sprintf("in commit %s found an unknown developer: %s", e.Ref, e.Identity)
	}
	return fmt.Sprintf("in PR #%s found an unknown developer: %s", e.Ref, e.Identity)
}
