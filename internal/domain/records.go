// Package domain contains the core data structures and domain logic for the application.
package domain

import "time"

// Pull request listing states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Review states that count as a completed review round.
const (
	ReviewApproved         = "APPROVED"
	ReviewChangesRequested = "CHANGES_REQUESTED"
	ReviewCommented        = "COMMENTED"
	ReviewPending          = "PENDING"
)

// Sentinels used when team affiliation cannot be resolved.
const (
	UnknownDeveloper = "Developer Unknown"
	UnknownTeam      = "Team Unknown"
)

// DateLayout is the calendar date format used in every report column.
const DateLayout = "2006-01-02"

// PullRequest is one pull request that survived collector filtering.
// State is the listing state it was collected under, not the payload state.
type PullRequest struct {
	Number    int
	Creator   int64
	State     string
	Title     string
	CreatedAt time.Time
	ClosedAt  *time.Time
	MergedAt  *time.Time
}

// Merged reports whether the pull request has a merge timestamp.
func (p PullRequest) Merged() bool {
	return p.MergedAt != nil
}

// Commit is one commit on a pull request.
type Commit struct {
	SHA            string
	CommitterName  string
	CommitterEmail string
	CommitDate     time.Time
	Message        string
}

// Alias returns the "name#email" identity used by the developer index.
func (c Commit) Alias() string {
	return c.CommitterName + "#" + c.CommitterEmail
}

// Change holds line counts for a single commit, keyed by SHA.
type Change struct {
	SHA       string
	Additions int
	Deletions int
}

// Lines returns additions plus deletions.
func (c Change) Lines() int {
	return c.Additions + c.Deletions
}

// File holds the summed changes for one file of a pull request.
type File struct {
	Changes int
}

// Review is one submitted review. Pending reviews never reach this type.
type Review struct {
	Approver    int64
	State       string
	SubmittedAt time.Time
	CommitID    string
}

// Completed reports whether the review approved or requested changes.
func (r Review) Completed() bool {
	return r.State == ReviewApproved || r.State == ReviewChangesRequested
}

// Comment is one issue comment; only the author survives collection.
type Comment struct {
	Author int64
}

// Contribution aggregates one developer's commits on one day within a pull request.
type Contribution struct {
	Developer    string
	Team         string
	Date         string
	TotalCommits int
	TotalChanges int
}
