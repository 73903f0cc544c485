package usecase

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/naka-gawa/pr-metrics/internal/dimension"
	"github.com/naka-gawa/pr-metrics/internal/domain"
	"github.com/naka-gawa/pr-metrics/internal/gateway"
	"github.com/naka-gawa/pr-metrics/internal/report"
)

// Report field keys filled in by the gatherer itself.
const (
	KeyRepository       = "repository"
	KeySprint           = "sprint"
	KeyNumber           = "number"
	KeyState            = "state"
	KeyCreatedAt        = "created_at"
	KeyDeveloper        = "developer"
	KeyDeveloperTeam    = "developer_team"
	KeyCommittedAt      = "commited_at"
	KeyDeveloperCommits = "developer_commits"
	KeyDeveloperChanges = "developer_changes"
)

// Sink receives the report. Headers are set before the first line.
type Sink interface {
	SetHeaders(columns []report.Column)
	AddLine(line report.Line)
	Save() error
}

// SprintSource names the sprint a run belongs to.
type SprintSource interface {
	CurrentSprintID() string
}

// ContributionSource aggregates the contributions of one pull request.
type ContributionSource interface {
	Aggregate(ctx context.Context, pr domain.PullRequest) ([]domain.Contribution, error)
}

// GathererConfig selects the repository and whether contribution rows are emitted.
type GathererConfig struct {
	Owner         string
	Repo          string
	Contributions bool
}

// Gatherer drives one pass over a repository's pull requests.
type Gatherer struct {
	fetcher       gateway.Fetcher
	dimensions    []dimension.Dimension
	sprints       SprintSource
	contributions ContributionSource
	cfg           GathererConfig
	logger        *zap.Logger
}

// NewGatherer creates a new Gatherer instance. contributions may be nil when
// contribution rows are disabled.
func NewGatherer(fetcher gateway.Fetcher, dimensions []dimension.Dimension, sprints SprintSource, contributions ContributionSource, cfg GathererConfig, logger *zap.Logger) *Gatherer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatherer{
		fetcher:       fetcher,
		dimensions:    dimensions,
		sprints:       sprints,
		contributions: contributions,
		cfg:           cfg,
		logger:        logger,
	}
}

// Headers returns the report columns, with the contribution columns appended when enabled.
func Headers(contributions bool) []report.Column {
	columns := []report.Column{
		{Label: "Repository", Key: KeyRepository},
		{Label: "Sprint", Key: KeySprint},
		{Label: "Pull Request", Key: KeyNumber},
		{Label: "Creator", Key: dimension.KeyCreator},
		{Label: "Team", Key: dimension.KeyTeam},
		{Label: "State", Key: KeyState},
		{Label: "Created date", Key: KeyCreatedAt},
		{Label: "Closed date", Key: dimension.KeyClosedAt},
		{Label: "First review date", Key: dimension.KeyFirstReviewAt},
		{Label: "Merged?", Key: dimension.KeyMerged},
		{Label: "# of comments", Key: dimension.KeyTotalComments},
		{Label: "# of reviews", Key: dimension.KeyTotalReviews},
		{Label: "# of review cycles", Key: dimension.KeyReviewCycles},
		{Label: "# of commits", Key: dimension.KeyTotalCommits},
		{Label: "# of changes", Key: dimension.KeyTotalChanges},
	}
	if contributions {
		columns = append(columns,
			report.Column{Label: "Developer", Key: KeyDeveloper},
			report.Column{Label: "Developer team", Key: KeyDeveloperTeam},
			report.Column{Label: "Commit date", Key: KeyCommittedAt},
			report.Column{Label: "# of developer commits", Key: KeyDeveloperCommits},
			report.Column{Label: "# of developer changes", Key: KeyDeveloperChanges},
		)
	}
	return columns
}

// Gather writes one base line per pull request, each followed by its contribution
// lines when enabled, and saves the sink. Any error aborts the run.
func (g *Gatherer) Gather(ctx context.Context, sink Sink) (Summary, error) {
	if g.cfg.Contributions && g.contributions == nil {
		return Summary{}, fmt.Errorf("contribution rows are enabled but no contribution source is set")
	}
	repository := g.cfg.Owner + "/" + g.cfg.Repo
	sink.SetHeaders(Headers(g.cfg.Contributions))

	g.logger.Info("Fetching pull requests", zap.String("repository", repository))
	pulls, err := g.fetcher.FetchPullRequests(ctx, g.cfg.Owner, g.cfg.Repo)
	if err != nil {
		return Summary{}, err
	}

	var (
		lines   int
		changes []float64
		cycles  []float64
	)
	for i, pr := range pulls {
		g.logger.Debug("Processing pull request",
			zap.Int("pull_request", pr.Number),
			zap.Int("index", i+1),
			zap.Int("total", len(pulls)),
		)

		line := report.Line{
			KeyRepository: repository,
			KeySprint:     g.sprints.CurrentSprintID(),
			KeyNumber:     pr.Number,
			KeyState:      pr.State,
			KeyCreatedAt:  pr.CreatedAt.Format(domain.DateLayout),
		}
		for _, dim := range g.dimensions {
			value, err := dim.Calc(ctx, pr)
			if err != nil {
				return Summary{}, err
			}
			line[dim.Key] = value
		}
		if n, ok := line[dimension.KeyTotalChanges].(int); ok {
			changes = append(changes, float64(n))
		}
		if n, ok := line[dimension.KeyReviewCycles].(int); ok {
			cycles = append(cycles, float64(n))
		}

		if !g.cfg.Contributions {
			sink.AddLine(line)
			lines++
			continue
		}

		line[KeyDeveloper] = nil
		line[KeyDeveloperTeam] = nil
		line[KeyCommittedAt] = nil
		line[KeyDeveloperCommits] = nil
		line[KeyDeveloperChanges] = nil
		sink.AddLine(line)
		lines++

		contributions, err := g.contributions.Aggregate(ctx, pr)
		if err != nil {
			return Summary{}, err
		}
		for _, contribution := range contributions {
			row := maps.Clone(line)
			row[KeyDeveloper] = contribution.Developer
			row[KeyDeveloperTeam] = contribution.Team
			row[KeyCommittedAt] = contribution.Date
			row[KeyDeveloperCommits] = contribution.TotalCommits
			row[KeyDeveloperChanges] = contribution.TotalChanges
			sink.AddLine(row)
			lines++
		}
	}

	if err := sink.Save(); err != nil {
		return Summary{}, fmt.Errorf("save report: %w", err)
	}
	return summarize(len(pulls), lines, changes, cycles), nil
}
