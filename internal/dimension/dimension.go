// Package dimension computes the per pull request metrics that make up a report row.
package dimension

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/naka-gawa/pr-metrics/internal/domain"
	"github.com/naka-gawa/pr-metrics/internal/gateway"
	"github.com/naka-gawa/pr-metrics/internal/mapping"
)

// Report field keys produced by the dimensions.
const (
	KeyCreator       = "creator"
	KeyTeam          = "team"
	KeyClosedAt      = "closed_at"
	KeyFirstReviewAt = "first_review_at"
	KeyMerged        = "merged"
	KeyTotalComments = "total_comments"
	KeyTotalReviews  = "total_reviews"
	KeyReviewCycles  = "review_cycles"
	KeyTotalCommits  = "total_commits"
	KeyTotalChanges  = "total_changes"
)

// Dimension is one named metric of a pull request.
type Dimension struct {
	Key  string
	Calc func(ctx context.Context, pr domain.PullRequest) (any, error)
}

// Config identifies the repository and the commit messages to leave out of contributions.
type Config struct {
	Owner                string
	Repo                 string
	IgnoreCommitMessages []string
}

// Calculator resolves identities through the mapping table and consults the
// collectors for the counts it needs. It holds no per pull request state.
type Calculator struct {
	fetcher  gateway.Fetcher
	mappings *mapping.Mappings
	cfg      Config
}

// NewCalculator creates a new Calculator instance.
func NewCalculator(fetcher gateway.Fetcher, mappings *mapping.Mappings, cfg Config) *Calculator {
	return &Calculator{
		fetcher:  fetcher,
		mappings: mappings,
		cfg:      cfg,
	}
}

// Dimensions returns the pull request dimensions in report order.
func (c *Calculator) Dimensions() []Dimension {
	return []Dimension{
		{Key: KeyCreator, Calc: func(_ context.Context, pr domain.PullRequest) (any, error) {
			return c.Creator(pr)
		}},
		{Key: KeyTeam, Calc: func(_ context.Context, pr domain.PullRequest) (any, error) {
			return c.Team(pr), nil
		}},
		{Key: KeyClosedAt, Calc: func(_ context.Context, pr domain.PullRequest) (any, error) {
			return optional(EndedAt(pr)), nil
		}},
		{Key: KeyFirstReviewAt, Calc: func(ctx context.Context, pr domain.PullRequest) (any, error) {
			date, err := c.FirstReviewedAt(ctx, pr)
			return optional(date), err
		}},
		{Key: KeyMerged, Calc: func(_ context.Context, pr domain.PullRequest) (any, error) {
			return Merged(pr), nil
		}},
		{Key: KeyTotalComments, Calc: intDimension(c.TotalComments)},
		{Key: KeyTotalReviews, Calc: intDimension(c.TotalReviews)},
		{Key: KeyReviewCycles, Calc: intDimension(c.ReviewCycles)},
		{Key: KeyTotalCommits, Calc: intDimension(c.TotalCommits)},
		{Key: KeyTotalChanges, Calc: intDimension(c.TotalChanges)},
	}
}

func intDimension(calc func(context.Context, domain.PullRequest) (int, error)) func(context.Context, domain.PullRequest) (any, error) {
	return func(ctx context.Context, pr domain.PullRequest) (any, error) {
		n, err := calc(ctx, pr)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
}

// optional maps an empty date to a nil report value.
func optional(date string) any {
	if date == "" {
		return nil
	}
	return date
}

// Creator returns the developer who opened pr. An unmapped creator is fatal.
func (c *Calculator) Creator(pr domain.PullRequest) (string, error) {
	id := strconv.FormatInt(pr.Creator, 10)
	developer := c.mappings.FindUser(id, "")
	if developer == "" {
		return "", &domain.IdentityError{Kind: domain.IdentityPullRequest, Ref: strconv.Itoa(pr.Number), Identity: id}
	}
	return developer, nil
}

// Team returns the team of the developer who opened pr, or a sentinel when unknown.
func (c *Calculator) Team(pr domain.PullRequest) string {
	developer := c.mappings.FindUser(strconv.FormatInt(pr.Creator, 10), domain.UnknownDeveloper)
	return c.mappings.FindTeam(developer, domain.UnknownTeam)
}

// CommitAuthor returns the developer behind commit. An unmapped author is fatal.
func (c *Calculator) CommitAuthor(commit domain.Commit) (string, error) {
	developer := c.mappings.FindDeveloper(commit.Alias(), "")
	if developer == "" {
		return "", &domain.IdentityError{Kind: domain.IdentityCommit, Ref: commit.SHA, Identity: commit.Alias()}
	}
	return developer, nil
}

// CommitTeam returns the team of the developer behind commit, or a sentinel when unknown.
func (c *Calculator) CommitTeam(commit domain.Commit) string {
	developer := c.mappings.FindDeveloper(commit.Alias(), domain.UnknownDeveloper)
	return c.mappings.FindTeam(developer, domain.UnknownTeam)
}

// SkipCommit reports whether the commit message contains any ignored substring.
func (c *Calculator) SkipCommit(commit domain.Commit) bool {
	for _, needle := range c.cfg.IgnoreCommitMessages {
		if needle != "" && strings.Contains(commit.Message, needle) {
			return true
		}
	}
	return false
}

// TotalComments counts the issue comments left by non-ignored users.
func (c *Calculator) TotalComments(ctx context.Context, pr domain.PullRequest) (int, error) {
	comments, err := c.fetcher.FetchComments(ctx, c.cfg.Owner, c.cfg.Repo, pr.Number)
	if err != nil {
		return 0, fmt.Errorf("total comments of #%d: %w", pr.Number, err)
	}
	return len(comments), nil
}

// TotalReviews counts the reviews that approved or requested changes.
func (c *Calculator) TotalReviews(ctx context.Context, pr domain.PullRequest) (int, error) {
	reviews, err := c.fetcher.FetchReviews(ctx, c.cfg.Owner, c.cfg.Repo, pr.Number)
	if err != nil {
		return 0, fmt.Errorf("total reviews of #%d: %w", pr.Number, err)
	}
	total := 0
	for _, review := range reviews {
		if review.Completed() {
			total++
		}
	}
	return total, nil
}

// ReviewCycles counts the review rounds that ended in approval or a change request.
func (c *Calculator) ReviewCycles(ctx context.Context, pr domain.PullRequest) (int, error) {
	reviews, err := c.fetcher.FetchReviews(ctx, c.cfg.Owner, c.cfg.Repo, pr.Number)
	if err != nil {
		return 0, fmt.Errorf("review cycles of #%d: %w", pr.Number, err)
	}
	cycles := 0
	for _, review := range reviews {
		if review.State == domain.ReviewApproved || review.State == domain.ReviewChangesRequested {
			cycles++
		}
	}
	return cycles, nil
}

// TotalCommits counts the commits of pr.
func (c *Calculator) TotalCommits(ctx context.Context, pr domain.PullRequest) (int, error) {
	commits, err := c.fetcher.FetchCommits(ctx, c.cfg.Owner, c.cfg.Repo, pr.Number)
	if err != nil {
		return 0, fmt.Errorf("total commits of #%d: %w", pr.Number, err)
	}
	return len(commits), nil
}

// TotalChanges sums the changed lines over every file of pr.
func (c *Calculator) TotalChanges(ctx context.Context, pr domain.PullRequest) (int, error) {
	files, err := c.fetcher.FetchFiles(ctx, c.cfg.Owner, c.cfg.Repo, pr.Number)
	if err != nil {
		return 0, fmt.Errorf("total changes of #%d: %w", pr.Number, err)
	}
	total := 0
	for _, file := range files {
		total += file.Changes
	}
	return total, nil
}

// FirstReviewedAt returns the date of the first review, in API order, that approved
// or requested changes. It returns "" when there is none.
func (c *Calculator) FirstReviewedAt(ctx context.Context, pr domain.PullRequest) (string, error) {
	reviews, err := c.fetcher.FetchReviews(ctx, c.cfg.Owner, c.cfg.Repo, pr.Number)
	if err != nil {
		return "", fmt.Errorf("first review of #%d: %w", pr.Number, err)
	}
	for _, review := range reviews {
		if review.Completed() {
			return review.SubmittedAt.Format(domain.DateLayout), nil
		}
	}
	return "", nil
}

// EndedAt returns the merge date of a closed pull request, falling back to its
// close date. Open pull requests have no end date.
func EndedAt(pr domain.PullRequest) string {
	if pr.State != domain.StateClosed {
		return ""
	}
	if pr.MergedAt != nil {
		return pr.MergedAt.Format(domain.DateLayout)
	}
	if pr.ClosedAt != nil {
		return pr.ClosedAt.Format(domain.DateLayout)
	}
	return ""
}

// Merged renders the merge flag as it appears in the report.
func Merged(pr domain.PullRequest) string {
	if pr.Merged() {
		return "Yes"
	}
	return "No"
}
