package usecase

import (
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// Summary describes a finished run.
type Summary struct {
	PullRequests     int
	Lines            int
	MedianChanges    float64
	MeanReviewCycles float64
}

// Fields renders the summary as log fields.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("pull_requests", s.PullRequests),
		zap.Int("lines", s.Lines),
		zap.Float64("median_changes", s.MedianChanges),
		zap.Float64("mean_review_cycles", s.MeanReviewCycles),
	}
}

func summarize(pulls, lines int, changes, cycles []float64) Summary {
	summary := Summary{PullRequests: pulls, Lines: lines}
	// Median and Mean fail only on empty input.
	if median, err := stats.Median(changes); err == nil {
		summary.MedianChanges = median
	}
	if mean, err := stats.Mean(cycles); err == nil {
		summary.MeanReviewCycles = mean
	}
	return summary
}
