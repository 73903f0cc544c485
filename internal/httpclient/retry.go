package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type retryTransport struct {
	next    http.RoundTripper
	cfg     RetryConfig
	timeout time.Duration
	sleep   func(time.Duration)
	logger  *zap.Logger
	metrics *Metrics
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	maxRetries := 0
	if t.cfg.Enabled {
		maxRetries = t.cfg.MaxRetryAttempts
	}
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 0; ; attempt++ {
		attemptReq, cancel, err := t.prepare(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := t.next.RoundTrip(attemptReq)
		canRetry := attempt < maxRetries && replayable && req.Context().Err() == nil
		if err != nil {
			cancel()
			if canRetry && t.cfg.RetryOnTimeout && isTimeout(err) {
				delay := t.backoff(attempt, nil)
				t.logRetry(req, attempt, delay, zap.Error(err))
				t.sleep(delay)
				continue
			}
			return nil, err
		}

		if canRetry && slices.Contains(t.cfg.RetryOnStatus, resp.StatusCode) {
			delay := t.backoff(attempt, resp.Header)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			cancel()
			t.logRetry(req, attempt, delay, zap.Int("status", resp.StatusCode))
			t.sleep(delay)
			continue
		}

		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
}

// prepare clones req under a per-attempt deadline and rewinds the body for retries.
func (t *retryTransport) prepare(req *http.Request, attempt int) (*http.Request, context.CancelFunc, error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(req.Context(), t.timeout)
	} else {
		ctx, cancel = context.WithCancel(req.Context())
	}
	next := req.Clone(ctx)
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, nil, err
		}
		next.Body = body
	}
	return next, cancel, nil
}

func (t *retryTransport) backoff(attempt int, header http.Header) time.Duration {
	if header != nil {
		if seconds, err := strconv.Atoi(header.Get("Retry-After")); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	backoff := t.cfg.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if t.cfg.MaxBackoff > 0 && backoff > t.cfg.MaxBackoff {
			return t.cfg.MaxBackoff
		}
	}
	if t.cfg.MaxBackoff > 0 && backoff > t.cfg.MaxBackoff {
		return t.cfg.MaxBackoff
	}
	return backoff
}

func (t *retryTransport) logRetry(req *http.Request, attempt int, delay time.Duration, reason zap.Field) {
	t.metrics.retry()
	t.logger.Warn("retrying request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
		reason,
	)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// cancelOnClose releases the attempt deadline once the caller is done with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
