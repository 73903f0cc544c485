// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"

	"github.com/naka-gawa/pr-metrics/internal/domain"
	"github.com/naka-gawa/pr-metrics/internal/httpclient"
)

const (
	userAgent       = "PR-Metrics-Action"
	acceptHeader    = "application/vnd.github+json"
	apiVersion      = "2022-11-28"
	headerRemaining = "X-RateLimit-Remaining"

	pageSize      = 100
	filesPageSize = 30
)

// Fetcher defines the behavior of a gateway for fetching pull request activity from GitHub.
type Fetcher interface {
	FetchPullRequests(ctx context.Context, owner, repo string) ([]domain.PullRequest, error)
	FetchCommits(ctx context.Context, owner, repo string, number int) ([]domain.Commit, error)
	FetchChanges(ctx context.Context, owner, repo string, number int) ([]domain.Change, error)
	FetchFiles(ctx context.Context, owner, repo string, number int) ([]domain.File, error)
	FetchReviews(ctx context.Context, owner, repo string, number int) ([]domain.Review, error)
	FetchComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error)
}

// Config holds the endpoints and the record filters applied by every collector.
type Config struct {
	APIURL       string
	GraphQLURL   string
	IgnoreUsers  []int64
	IgnoreLabels []string
	// ClosedWindow is how far back closed pull requests are collected.
	ClosedWindow time.Duration
}

// responseInspector exposes what the client saw on its most recent response.
type responseInspector interface {
	LastResponseFromCache() bool
	LastResponseHeader() http.Header
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	inspector     responseInspector
	cfg           Config
	logger        *zap.Logger
	now           func() time.Time
}

// NewGitHubGateway routes both API clients through client.
func NewGitHubGateway(client *httpclient.Client, cfg Config, logger *zap.Logger) (*GitHubGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Transport: &headerTransport{next: client}}

	restClient := github.NewClient(httpClient)
	restClient.UserAgent = userAgent
	if cfg.APIURL != "" {
		baseURL, err := url.Parse(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		if !strings.HasSuffix(baseURL.Path, "/") {
			baseURL.Path += "/"
		}
		restClient.BaseURL = baseURL
	}

	graphqlURL := cfg.GraphQLURL
	if graphqlURL == "" {
		graphqlURL = restClient.BaseURL.String() + "graphql"
	}

	return &GitHubGateway{
		restClient:    restClient,
		graphqlClient: githubv4.NewEnterpriseClient(graphqlURL, &http.Client{Transport: &statusTransport{next: httpClient.Transport}}),
		inspector:     client,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// FetchPullRequests returns open pull requests followed by those closed within the window.
func (g *GitHubGateway) FetchPullRequests(ctx context.Context, owner, repo string) ([]domain.PullRequest, error) {
	open, err := g.fetchPullRequests(ctx, owner, repo, domain.StateOpen, time.Time{})
	if err != nil {
		return nil, err
	}
	closed, err := g.fetchPullRequests(ctx, owner, repo, domain.StateClosed, g.now().Add(-g.cfg.ClosedWindow))
	if err != nil {
		return nil, err
	}
	g.logger.Debug("Completed fetching pull requests",
		zap.String("repository", owner+"/"+repo),
		zap.Int("open", len(open)),
		zap.Int("closed", len(closed)),
	)
	return append(open, closed...), nil
}

// fetchPullRequests lists newest first, so the first record created before floor
// ends the listing for that state.
func (g *GitHubGateway) fetchPullRequests(ctx context.Context, owner, repo, state string, floor time.Time) ([]domain.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       state,
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	var pulls []domain.PullRequest
	err := g.walkPages(func(page int) (*github.Response, bool, error) {
		opts.Page = page
		result, resp, err := g.restClient.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, false, apiError("failed to list pull requests", resp, err)
		}
		for _, pr := range result {
			if pr.GetDraft() {
				continue
			}
			if g.ignoredUser(pr.GetUser().GetID()) {
				continue
			}
			if !floor.IsZero() && pr.GetCreatedAt().Before(floor) {
				return resp, false, nil
			}
			if g.ignoredLabel(pr.Labels) {
				continue
			}
			pulls = append(pulls, toPullRequest(pr, state))
		}
		return resp, true, nil
	})
	if err != nil {
		return nil, err
	}
	return pulls, nil
}

// FetchCommits returns the commits of a pull request. Commits without a linked
// account are never dropped by the ignore list.
func (g *GitHubGateway) FetchCommits(ctx context.Context, owner, repo string, number int) ([]domain.Commit, error) {
	opts := &github.ListOptions{PerPage: pageSize}
	var commits []domain.Commit
	err := g.walkPages(func(page int) (*github.Response, bool, error) {
		opts.Page = page
		result, resp, err := g.restClient.PullRequests.ListCommits(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, false, apiError("failed to list commits", resp, err)
		}
		for _, commit := range result {
			if commit.Author != nil && commit.Author.ID != nil && g.ignoredUser(commit.Author.GetID()) {
				continue
			}
			author := commit.GetCommit().GetAuthor()
			commits = append(commits, domain.Commit{
				SHA:            commit.GetSHA(),
				CommitterName:  author.GetName(),
				CommitterEmail: author.GetEmail(),
				CommitDate:     author.GetDate().Time,
				Message:        commit.GetCommit().GetMessage(),
			})
		}
		return resp, true, nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// FetchFiles returns the change count of every file touched by a pull request.
func (g *GitHubGateway) FetchFiles(ctx context.Context, owner, repo string, number int) ([]domain.File, error) {
	opts := &github.ListOptions{PerPage: filesPageSize}
	var files []domain.File
	err := g.walkPages(func(page int) (*github.Response, bool, error) {
		opts.Page = page
		result, resp, err := g.restClient.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, false, apiError("failed to list files", resp, err)
		}
		for _, file := range result {
			files = append(files, domain.File{Changes: file.GetChanges()})
		}
		return resp, true, nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// FetchReviews returns submitted reviews in API order.
func (g *GitHubGateway) FetchReviews(ctx context.Context, owner, repo string, number int) ([]domain.Review, error) {
	opts := &github.ListOptions{PerPage: pageSize}
	var reviews []domain.Review
	err := g.walkPages(func(page int) (*github.Response, bool, error) {
		opts.Page = page
		result, resp, err := g.restClient.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, false, apiError("failed to list reviews", resp, err)
		}
		for _, review := range result {
			// Pending reviews have no submission time.
			if review.SubmittedAt == nil {
				continue
			}
			reviews = append(reviews, domain.Review{
				Approver:    review.GetUser().GetID(),
				State:       review.GetState(),
				SubmittedAt: review.GetSubmittedAt().Time,
				CommitID:    review.GetCommitID(),
			})
		}
		return resp, true, nil
	})
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

// FetchComments returns the authors of the issue comments on a pull request.
func (g *GitHubGateway) FetchComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: pageSize}}
	var comments []domain.Comment
	err := g.walkPages(func(page int) (*github.Response, bool, error) {
		opts.Page = page
		result, resp, err := g.restClient.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, false, apiError("failed to list comments", resp, err)
		}
		for _, comment := range result {
			author := comment.GetUser().GetID()
			if g.ignoredUser(author) {
				continue
			}
			comments = append(comments, domain.Comment{Author: author})
		}
		return resp, true, nil
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// walkPages requests page 1, takes the total page count from its Link header and
// then requests the remaining pages in order. fetch returns false to stop early.
func (g *GitHubGateway) walkPages(fetch func(page int) (*github.Response, bool, error)) error {
	total := 1
	for page := 1; page <= total; page++ {
		resp, more, err := fetch(page)
		if err != nil {
			return err
		}
		g.observe()
		if page == 1 && resp != nil && resp.LastPage > total {
			total = resp.LastPage
		}
		if !more {
			return nil
		}
		if page < total {
			g.logger.Debug("Fetching next page", zap.Int("page", page+1), zap.Int("total", total))
		}
	}
	return nil
}

// observe reports the remaining API budget on every hundredth call that reached the network.
func (g *GitHubGateway) observe() {
	if g.inspector == nil || g.inspector.LastResponseFromCache() {
		return
	}
	raw := g.inspector.LastResponseHeader().Get(headerRemaining)
	if raw == "" {
		return
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil || remaining < 0 {
		return
	}
	if remaining%100 == 0 {
		g.logger.Info("GitHub API remaining calls", zap.Int("remaining", remaining))
	}
}

func (g *GitHubGateway) ignoredUser(id int64) bool {
	return slices.Contains(g.cfg.IgnoreUsers, id)
}

func (g *GitHubGateway) ignoredLabel(labels []*github.Label) bool {
	for _, label := range labels {
		if slices.Contains(g.cfg.IgnoreLabels, label.GetName()) {
			return true
		}
	}
	return false
}

func toPullRequest(pr *github.PullRequest, state string) domain.PullRequest {
	return domain.PullRequest{
		Number:    pr.GetNumber(),
		Creator:   pr.GetUser().GetID(),
		State:     state,
		Title:     pr.GetTitle(),
		CreatedAt: pr.GetCreatedAt().Time,
		ClosedAt:  timestampPtr(pr.ClosedAt),
		MergedAt:  timestampPtr(pr.MergedAt),
	}
}

func timestampPtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}

// apiError keeps transport failures as they are and turns unsuccessful statuses
// into *httpclient.Error so callers handle a single error type.
func apiError(msg string, resp *github.Response, err error) error {
	var clientErr *httpclient.Error
	if !errors.As(err, &clientErr) && resp != nil && resp.Response != nil &&
		resp.Request != nil && resp.StatusCode >= http.StatusBadRequest {
		err = &httpclient.Error{
			Method:     resp.Request.Method,
			URL:        resp.Request.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// headerTransport sets the headers the API expects on every request.
type headerTransport struct {
	next http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	return t.next.RoundTrip(req)
}

// statusTransport fails unsuccessful statuses with *httpclient.Error. The GraphQL
// client reports them only as untyped errors otherwise.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, &httpclient.Error{Method: req.Method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
	}
	return resp, nil
}
