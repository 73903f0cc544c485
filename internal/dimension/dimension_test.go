package dimension

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/pr-metrics/internal/domain"
	"github.com/naka-gawa/pr-metrics/internal/mapping"
)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchPullRequests(ctx context.Context, owner, repo string) ([]domain.PullRequest, error) {
	args := m.Called(ctx, owner, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PullRequest), args.Error(1)
}

func (m *mockFetcher) FetchCommits(ctx context.Context, owner, repo string, number int) ([]domain.Commit, error) {
	args := m.Called(ctx, owner, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Commit), args.Error(1)
}

func (m *mockFetcher) FetchChanges(ctx context.Context, owner, repo string, number int) ([]domain.Change, error) {
	args := m.Called(ctx, owner, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Change), args.Error(1)
}

func (m *mockFetcher) FetchFiles(ctx context.Context, owner, repo string, number int) ([]domain.File, error) {
	args := m.Called(ctx, owner, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.File), args.Error(1)
}

func (m *mockFetcher) FetchReviews(ctx context.Context, owner, repo string, number int) ([]domain.Review, error) {
	args := m.Called(ctx, owner, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Review), args.Error(1)
}

func (m *mockFetcher) FetchComments(ctx context.Context, owner, repo string, number int) ([]domain.Comment, error) {
	args := m.Called(ctx, owner, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Comment), args.Error(1)
}

func testMappings() *mapping.Mappings {
	return mapping.New(
		map[string]string{"10": "alice", "11": "bob"},
		map[string]string{"Alice#alice@example.com": "alice", "Bob#bob@example.com": "bob"},
		map[string]string{"alice": "Platform"},
	)
}

func newTestCalculator(fetcher *mockFetcher) *Calculator {
	return NewCalculator(fetcher, testMappings(), Config{
		Owner:                "org",
		Repo:                 "repo",
		IgnoreCommitMessages: []string{"[skip-metrics]", "Merge branch"},
	})
}

func date(value string) time.Time {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(value string) *time.Time {
	t := date(value)
	return &t
}

func TestCalculator_Creator(t *testing.T) {
	calc := newTestCalculator(new(mockFetcher))

	developer, err := calc.Creator(domain.PullRequest{Number: 5, Creator: 10})
	require.NoError(t, err)
	assert.Equal(t, "alice", developer)

	_, err = calc.Creator(domain.PullRequest{Number: 42, Creator: 777})
	require.Error(t, err)
	var identityErr *domain.IdentityError
	require.ErrorAs(t, err, &identityErr)
	assert.Equal(t, "in PR #42 found an unknown developer: 777", err.Error())
}

func TestCalculator_Team(t *testing.T) {
	calc := newTestCalculator(new(mockFetcher))

	testCases := []struct {
		name    string
		creator int64
		want    string
	}{
		{name: "mapped developer and team", creator: 10, want: "Platform"},
		{name: "mapped developer without team", creator: 11, want: domain.UnknownTeam},
		{name: "unmapped developer", creator: 999, want: domain.UnknownTeam},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, calc.Team(domain.PullRequest{Creator: tc.creator}))
		})
	}
}

func TestCalculator_CommitIdentity(t *testing.T) {
	calc := newTestCalculator(new(mockFetcher))

	known := domain.Commit{SHA: "a1", CommitterName: "Alice", CommitterEmail: "alice@example.com"}
	developer, err := calc.CommitAuthor(known)
	require.NoError(t, err)
	assert.Equal(t, "alice", developer)
	assert.Equal(t, "Platform", calc.CommitTeam(known))

	noTeam := domain.Commit{SHA: "b2", CommitterName: "Bob", CommitterEmail: "bob@example.com"}
	assert.Equal(t, domain.UnknownTeam, calc.CommitTeam(noTeam))

	unknown := domain.Commit{SHA: "deadbeef", CommitterName: "Eve", CommitterEmail: "eve@example.com"}
	_, err = calc.CommitAuthor(unknown)
	require.Error(t, err)
	assert.Equal(t, "in commit deadbeef found an unknown developer: Eve#eve@example.com", err.Error())
	assert.Equal(t, domain.UnknownTeam, calc.CommitTeam(unknown))
}

func TestCalculator_SkipCommit(t *testing.T) {
	calc := newTestCalculator(new(mockFetcher))

	testCases := []struct {
		message string
		want    bool
	}{
		{message: "feat: add report", want: false},
		{message: "chore: bump deps [skip-metrics]", want: true},
		{message: "Merge branch 'main' into feature", want: true},
		{message: "merge branch lowercase", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.message, func(t *testing.T) {
			assert.Equal(t, tc.want, calc.SkipCommit(domain.Commit{Message: tc.message}))
		})
	}
}

func TestCalculator_Reviews(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchReviews", mock.Anything, "org", "repo", 7).Return([]domain.Review{
		{Approver: 20, State: domain.ReviewCommented, SubmittedAt: date("2025-09-01")},
		{Approver: 21, State: domain.ReviewApproved, SubmittedAt: date("2025-09-02")},
		{Approver: 20, State: domain.ReviewChangesRequested, SubmittedAt: date("2025-09-03")},
	}, nil)
	calc := newTestCalculator(fetcher)
	pr := domain.PullRequest{Number: 7}
	ctx := context.Background()

	reviews, err := calc.TotalReviews(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, 2, reviews)

	cycles, err := calc.ReviewCycles(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, 2, cycles)

	first, err := calc.FirstReviewedAt(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-02", first)
}

func TestCalculator_FirstReviewedAtWithoutCompletedReview(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchReviews", mock.Anything, "org", "repo", 7).Return([]domain.Review{
		{State: domain.ReviewCommented, SubmittedAt: date("2025-09-01")},
	}, nil)
	calc := newTestCalculator(fetcher)

	first, err := calc.FirstReviewedAt(context.Background(), domain.PullRequest{Number: 7})
	require.NoError(t, err)
	assert.Empty(t, first)
}

func TestCalculator_Counts(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchComments", mock.Anything, "org", "repo", 7).Return([]domain.Comment{{Author: 1}, {Author: 2}, {Author: 1}}, nil)
	fetcher.On("FetchCommits", mock.Anything, "org", "repo", 7).Return([]domain.Commit{{SHA: "a"}, {SHA: "b"}}, nil)
	fetcher.On("FetchFiles", mock.Anything, "org", "repo", 7).Return([]domain.File{{Changes: 10}, {Changes: 5}, {Changes: 0}}, nil)
	calc := newTestCalculator(fetcher)
	pr := domain.PullRequest{Number: 7}
	ctx := context.Background()

	comments, err := calc.TotalComments(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, 3, comments)

	commits, err := calc.TotalCommits(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, 2, commits)

	changes, err := calc.TotalChanges(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, 15, changes)
}

func TestCalculator_CountsPropagateErrors(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchFiles", mock.Anything, "org", "repo", 7).Return(nil, errors.New("github api error"))
	calc := newTestCalculator(fetcher)

	_, err := calc.TotalChanges(context.Background(), domain.PullRequest{Number: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github api error")
}

func TestEndedAt(t *testing.T) {
	testCases := []struct {
		name string
		pr   domain.PullRequest
		want string
	}{
		{name: "open", pr: domain.PullRequest{State: domain.StateOpen, ClosedAt: datePtr("2025-09-05")}, want: ""},
		{name: "closed and merged", pr: domain.PullRequest{State: domain.StateClosed, ClosedAt: datePtr("2025-09-06"), MergedAt: datePtr("2025-09-05")}, want: "2025-09-05"},
		{name: "closed without merge", pr: domain.PullRequest{State: domain.StateClosed, ClosedAt: datePtr("2025-09-06")}, want: "2025-09-06"},
		{name: "closed without dates", pr: domain.PullRequest{State: domain.StateClosed}, want: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EndedAt(tc.pr))
		})
	}
}

func TestCalculator_Dimensions(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("FetchComments", mock.Anything, "org", "repo", 7).Return([]domain.Comment{{Author: 1}}, nil)
	fetcher.On("FetchReviews", mock.Anything, "org", "repo", 7).Return([]domain.Review{}, nil)
	fetcher.On("FetchCommits", mock.Anything, "org", "repo", 7).Return([]domain.Commit{{SHA: "a"}}, nil)
	fetcher.On("FetchFiles", mock.Anything, "org", "repo", 7).Return([]domain.File{{Changes: 4}}, nil)
	calc := newTestCalculator(fetcher)
	pr := domain.PullRequest{Number: 7, Creator: 10, State: domain.StateOpen}

	values := map[string]any{}
	var keys []string
	for _, dim := range calc.Dimensions() {
		value, err := dim.Calc(context.Background(), pr)
		require.NoError(t, err, dim.Key)
		keys = append(keys, dim.Key)
		values[dim.Key] = value
	}

	assert.Equal(t, []string{
		KeyCreator, KeyTeam, KeyClosedAt, KeyFirstReviewAt, KeyMerged,
		KeyTotalComments, KeyTotalReviews, KeyReviewCycles, KeyTotalCommits, KeyTotalChanges,
	}, keys)
	assert.Equal(t, map[string]any{
		KeyCreator:       "alice",
		KeyTeam:          "Platform",
		KeyClosedAt:      nil,
		KeyFirstReviewAt: nil,
		KeyMerged:        "No",
		KeyTotalComments: 1,
		KeyTotalReviews:  0,
		KeyReviewCycles:  0,
		KeyTotalCommits:  1,
		KeyTotalChanges:  4,
	}, values)
}
