// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/naka-gawa/pr-metrics/internal/domain"
	"github.com/naka-gawa/pr-metrics/internal/gateway"
)

// CommitIdentity resolves who made a commit and whether it counts.
type CommitIdentity interface {
	CommitAuthor(commit domain.Commit) (string, error)
	CommitTeam(commit domain.Commit) string
	SkipCommit(commit domain.Commit) bool
}

// Aggregator rolls the commits of a pull request up into per developer, per day contributions.
type Aggregator struct {
	fetcher    gateway.Fetcher
	identities CommitIdentity
	owner      string
	repo       string
	logger     *zap.Logger
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(fetcher gateway.Fetcher, identities CommitIdentity, owner, repo string, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		fetcher:    fetcher,
		identities: identities,
		owner:      owner,
		repo:       repo,
		logger:     logger,
	}
}

// Aggregate collects the commits and commit changes of pr and aggregates them.
func (a *Aggregator) Aggregate(ctx context.Context, pr domain.PullRequest) ([]domain.Contribution, error) {
	commits, err := a.fetcher.FetchCommits(ctx, a.owner, a.repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("contributions of #%d: %w", pr.Number, err)
	}
	changes, err := a.fetcher.FetchChanges(ctx, a.owner, a.repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("contributions of #%d: %w", pr.Number, err)
	}
	contributions, err := Contributions(a.identities, a.owner+"/"+a.repo, pr.Number, commits, changes)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Aggregated contributions",
		zap.Int("pull_request", pr.Number),
		zap.Int("commits", len(commits)),
		zap.Int("buckets", len(contributions)),
	)
	return contributions, nil
}

type bucketKey struct {
	repo      string
	number    int
	developer string
	date      string
}

// Contributions buckets commits by developer and commit date, in order of first
// appearance. Changes are joined to commits by SHA; a commit without a matching
// change adds nothing to the line count and several matches are summed.
func Contributions(identities CommitIdentity, repo string, number int, commits []domain.Commit, changes []domain.Change) ([]domain.Contribution, error) {
	var buckets []domain.Contribution
	index := make(map[bucketKey]int)

	for _, commit := range commits {
		if identities.SkipCommit(commit) {
			continue
		}
		developer, err := identities.CommitAuthor(commit)
		if err != nil {
			return nil, err
		}
		date := commit.CommitDate.Format(domain.DateLayout)
		key := bucketKey{repo: repo, number: number, developer: developer, date: date}

		i, ok := index[key]
		if !ok {
			buckets = append(buckets, domain.Contribution{
				Developer: developer,
				Team:      identities.CommitTeam(commit),
				Date:      date,
			})
			i = len(buckets) - 1
			index[key] = i
		}

		buckets[i].TotalCommits++
		for _, change := range changes {
			if change.SHA == commit.SHA {
				buckets[i].TotalChanges += change.Lines()
			}
		}
	}
	return buckets, nil
}
