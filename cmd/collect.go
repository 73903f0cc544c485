package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/naka-gawa/pr-metrics/internal/config"
	"github.com/naka-gawa/pr-metrics/internal/dimension"
	"github.com/naka-gawa/pr-metrics/internal/gateway"
	"github.com/naka-gawa/pr-metrics/internal/httpclient"
	"github.com/naka-gawa/pr-metrics/internal/mapping"
	"github.com/naka-gawa/pr-metrics/internal/report"
	"github.com/naka-gawa/pr-metrics/internal/sprint"
	"github.com/naka-gawa/pr-metrics/internal/usecase"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Compiles the pull request metrics report",
	Long: `Collects open pull requests and those closed within the configured window,
computes their metrics and writes the CSV report. When GITHUB_OUTPUT is set the
report path is appended to it as github-metrics-file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		configPath, _ := cmd.Flags().GetString("config")
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log.Level, verbose)
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()

		mappings, err := mapping.Load(cfg.Path(cfg.GitHub.MappingFile))
		if err != nil {
			return err
		}
		start, err := cfg.Sprint.Start()
		if err != nil {
			return fmt.Errorf("parse sprint start date: %w", err)
		}
		calendar := sprint.New(start, time.Now)

		registry := prometheus.NewRegistry()
		storage, closer, err := newCacheStorage(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = closer.Close()
		}()

		base, err := gateway.NewTransport(gateway.AuthConfig{
			Token:          cfg.GitHub.Token,
			AppID:          cfg.GitHub.App.AppID,
			InstallationID: cfg.GitHub.App.InstallationID,
			PrivateKeyPath: cfg.Path(cfg.GitHub.App.PrivateKeyPath),
			APIURL:         cfg.GitHub.APIURL,
		})
		if err != nil {
			return err
		}
		client, err := httpclient.New(httpclient.Config{
			Timeout: cfg.HTTP.Timeout,
			Retry: httpclient.RetryConfig{
				Enabled:          cfg.HTTP.Retry.Enabled,
				MaxRetryAttempts: cfg.HTTP.Retry.Attempts(),
				RetryOnTimeout:   cfg.HTTP.Retry.RetryOnTimeout,
				RetryOnStatus:    cfg.HTTP.Retry.RetryOnStatus,
				InitialBackoff:   cfg.HTTP.Retry.InitialBackoff,
				MaxBackoff:       cfg.HTTP.Retry.MaxBackoff,
			},
			Cache: httpclient.CacheConfig{
				Enabled:     cfg.HTTP.Cache.Enabled,
				TTL:         cfg.HTTP.Cache.TTL,
				VaryHeaders: cfg.HTTP.Cache.VaryHeaders,
			},
		}, httpclient.Options{
			Base:    base,
			Storage: storage,
			Logger:  logger,
			Metrics: httpclient.NewMetrics(registry),
		})
		if err != nil {
			return err
		}

		githubGateway, err := gateway.NewGitHubGateway(client, gateway.Config{
			APIURL:       cfg.GitHub.APIURL,
			GraphQLURL:   cfg.GitHub.GraphQLURL,
			IgnoreUsers:  cfg.GitHub.IgnoreUsers,
			IgnoreLabels: cfg.GitHub.IgnoreLabels,
			ClosedWindow: cfg.GitHub.ClosedWindow,
		}, logger)
		if err != nil {
			return err
		}

		owner, repo := cfg.RepoParts()
		calculator := dimension.NewCalculator(githubGateway, mappings, dimension.Config{
			Owner:                owner,
			Repo:                 repo,
			IgnoreCommitMessages: cfg.GitHub.IgnoreCommitMessages,
		})
		var contributions usecase.ContributionSource
		if cfg.Metrics.Contributions {
			contributions = usecase.NewAggregator(githubGateway, calculator, owner, repo, logger)
		}
		gatherer := usecase.NewGatherer(githubGateway, calculator.Dimensions(), calendar, contributions, usecase.GathererConfig{
			Owner:         owner,
			Repo:          repo,
			Contributions: cfg.Metrics.Contributions,
		}, logger)

		outputFile := cfg.Path(cfg.Metrics.OutputFile)
		summary, err := gatherer.Gather(ctx, report.NewCSV(outputFile))
		if err != nil {
			return err
		}

		if cfg.GitHubOutput != "" {
			if err := appendGitHubOutput(cfg.GitHubOutput, outputFile); err != nil {
				return err
			}
		}
		if cfg.Metrics.Textfile != "" {
			if err := prometheus.WriteToTextfile(cfg.Path(cfg.Metrics.Textfile), registry); err != nil {
				return fmt.Errorf("write metrics textfile: %w", err)
			}
		}

		logger.Info("Metrics report written", append([]zap.Field{zap.String("file", outputFile)}, summary.Fields()...)...)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

// newCacheStorage opens the configured response cache backend. The returned
// closer is always non-nil.
func newCacheStorage(cfg *config.Config) (httpclient.Storage, io.Closer, error) {
	if !cfg.HTTP.Cache.Enabled {
		return nil, nopCloser{}, nil
	}
	switch cfg.HTTP.Cache.Backend {
	case config.CacheBackendRedis:
		storage := httpclient.NewRedisStorage(redis.NewClient(&redis.Options{Addr: cfg.HTTP.Cache.RedisAddr}), "")
		return storage, storage, nil
	default:
		storage, err := httpclient.NewFileStorage(cfg.Path(cfg.HTTP.Cache.Path))
		if err != nil {
			return nil, nil, err
		}
		return storage, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// appendGitHubOutput publishes the report path as a step output.
func appendGitHubOutput(path, reportFile string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open GITHUB_OUTPUT: %w", err)
	}
	if _, err := fmt.Fprintf(file, "github-metrics-file=%s\n", reportFile); err != nil {
		_ = file.Close()
		return fmt.Errorf("write GITHUB_OUTPUT: %w", err)
	}
	return file.Close()
}
