package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GITHUB_TOKEN", "GITHUB_REPOSITORY", "GITHUB_OUTPUT", "METRICS_CONTRIBUTIONS"} {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
github:
  repository: epignosis/pr-metrics
  token: file-token
  ignore_users: [123, 456]
  ignore_labels: [release, wip]
  ignore_commit_messages: ["Merge branch"]
metrics:
  contributions: true
sprint:
  start_date: "2025-01-06"
http:
  timeout: 10s
  retry:
    enabled: true
  cache:
    enabled: true
    ttl: 2h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "epignosis/pr-metrics", cfg.GitHub.Repository)
	assert.Equal(t, "file-token", cfg.GitHub.Token)
	assert.Equal(t, []int64{123, 456}, cfg.GitHub.IgnoreUsers)
	assert.Equal(t, []string{"release", "wip"}, cfg.GitHub.IgnoreLabels)
	assert.True(t, cfg.Metrics.Contributions)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 2*time.Hour, cfg.HTTP.Cache.TTL)

	// Defaults.
	assert.Equal(t, "https://api.github.com/", cfg.GitHub.APIURL)
	assert.Equal(t, "https://api.github.com/graphql", cfg.GitHub.GraphQLURL)
	assert.Equal(t, 30*24*time.Hour, cfg.GitHub.ClosedWindow)
	assert.Equal(t, 3, cfg.HTTP.Retry.Attempts())
	assert.Equal(t, []int{429, 502, 503, 504}, cfg.HTTP.Retry.RetryOnStatus)
	assert.Equal(t, CacheBackendFile, cfg.HTTP.Cache.Backend)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "tmp/metrics.github.csv"), cfg.Path(cfg.Metrics.OutputFile))
	assert.Equal(t, "/abs/file.json", cfg.Path("/abs/file.json"))

	owner, name := cfg.RepoParts()
	assert.Equal(t, "epignosis", owner)
	assert.Equal(t, "pr-metrics", name)
}

func TestLoad_RetryAttempts(t *testing.T) {
	testCases := []struct {
		name  string
		retry string
		want  int
	}{
		{name: "unset uses the default", retry: "    enabled: true\n", want: 3},
		{name: "explicit zero is kept", retry: "    enabled: true\n    max_retry_attempts: 0\n", want: 0},
		{name: "explicit value", retry: "    enabled: true\n    max_retry_attempts: 5\n", want: 5},
		{name: "disabled leaves it unset", retry: "    enabled: false\n", want: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			path := writeConfig(t, "github:\n  repository: a/b\n  token: t\nhttp:\n  retry:\n"+tc.retry)

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.HTTP.Retry.Attempts())
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("GITHUB_REPOSITORY", "octo/hello")
	t.Setenv("GITHUB_OUTPUT", "/tmp/out")
	t.Setenv("METRICS_CONTRIBUTIONS", "true")

	path := writeConfig(t, "github:\n  repository: other/repo\n  token: file-token\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.GitHub.Token)
	assert.Equal(t, "octo/hello", cfg.GitHub.Repository)
	assert.Equal(t, "/tmp/out", cfg.GitHubOutput)
	assert.True(t, cfg.Metrics.Contributions)
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown field",
			body:    "github:\n  repo: x/y\n",
			wantErr: "unmarshal yaml",
		},
		{
			name:    "missing repository and token",
			body:    "log:\n  level: info\n",
			wantErr: "github.repository must be in owner/name form",
		},
		{
			name:    "bad sprint date",
			body:    "github:\n  repository: a/b\n  token: t\nsprint:\n  start_date: 06/01/2025\n",
			wantErr: "sprint.start_date must be YYYY-MM-DD",
		},
		{
			name:    "redis backend without address",
			body:    "github:\n  repository: a/b\n  token: t\nhttp:\n  cache:\n    enabled: true\n    backend: redis\n",
			wantErr: "http.cache.redis_addr is required",
		},
		{
			name:    "app auth without key",
			body:    "github:\n  repository: a/b\n  app:\n    app_id: 1\n    installation_id: 2\n",
			wantErr: "github.app.private_key_path is required",
		},
		{
			name:    "bad contributions env",
			body:    "github:\n  repository: a/b\n  token: t\n",
			env:     map[string]string{"METRICS_CONTRIBUTIONS": "maybe"},
			wantErr: "parse METRICS_CONTRIBUTIONS",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_WithoutFileUsesWorkingDir(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "t")
	t.Setenv("GITHUB_REPOSITORY", "a/b")

	cfg, err := Load("")
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, cfg.BaseDir)
	assert.True(t, strings.HasPrefix(cfg.Path("mappings.json"), wd))
}
