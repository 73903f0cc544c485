package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"golang.org/x/oauth2"
)

// AuthConfig selects how requests are authenticated. App credentials take
// precedence over the token when AppID is set.
type AuthConfig struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	// APIURL is used as the token exchange endpoint for app installations.
	APIURL string
	// SleepLimit caps a single secondary rate limit wait.
	SleepLimit time.Duration
}

// NewTransport builds the base round tripper for the API client: authentication
// on top of the secondary rate limit waiter.
func NewTransport(cfg AuthConfig) (http.RoundTripper, error) {
	sleepLimit := cfg.SleepLimit
	if sleepLimit <= 0 {
		sleepLimit = time.Hour
	}
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(http.DefaultTransport, github_ratelimit.WithSingleSleepLimit(sleepLimit, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}

	if cfg.AppID != 0 {
		transport, err := ghinstallation.NewKeyFromFile(rateLimitWaiter, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("create github app transport: %w", err)
		}
		if apiURL := strings.TrimSuffix(cfg.APIURL, "/"); apiURL != "" {
			transport.BaseURL = apiURL
		}
		return transport, nil
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("a token or app credentials are required")
	}
	return &oauth2.Transport{
		Base:   rateLimitWaiter,
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
	}, nil
}
