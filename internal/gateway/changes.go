package gateway

import (
	"context"
	"fmt"

	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"

	"github.com/naka-gawa/pr-metrics/internal/domain"
)

// commitChangesQuery fetches per-commit line counts, which the REST commit listing omits.
type commitChangesQuery struct {
	Repository struct {
		PullRequest struct {
			Commits struct {
				PageInfo struct {
					HasNextPage bool
					EndCursor   githubv4.String
				}
				Nodes []struct {
					Commit struct {
						Oid       githubv4.GitObjectID
						Additions githubv4.Int
						Deletions githubv4.Int
					}
				}
			} `graphql:"commits(first: 100, after: $cursor)"`
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// FetchChanges returns additions and deletions for every commit of a pull request,
// following the GraphQL cursor until the last page.
func (g *GitHubGateway) FetchChanges(ctx context.Context, owner, repo string, number int) ([]domain.Change, error) {
	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"number": githubv4.Int(number),
		"cursor": (*githubv4.String)(nil),
	}

	var changes []domain.Change
	for {
		var q commitChangesQuery
		if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
			return nil, fmt.Errorf("failed to execute GraphQL query for commit changes: %w", err)
		}
		g.observe()

		commits := q.Repository.PullRequest.Commits
		for _, node := range commits.Nodes {
			changes = append(changes, domain.Change{
				SHA:       string(node.Commit.Oid),
				Additions: int(node.Commit.Additions),
				Deletions: int(node.Commit.Deletions),
			})
		}

		if !commits.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(commits.PageInfo.EndCursor)
		g.logger.Debug("Fetching next page of commit changes", zap.Int("pull_request", number))
	}
	return changes, nil
}
