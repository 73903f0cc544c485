package httpclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// HeaderCacheInfo marks every response that passed through the cache layer.
const (
	HeaderCacheInfo = "X-Cache-Info"
	CacheHit        = "HIT"
	CacheMiss       = "MISS"
)

// Storage persists cached responses.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// FromCache reports whether resp carries the cache hit marker.
func FromCache(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(HeaderCacheInfo) == CacheHit
}

// Key derives the greedy cache key from method, URI, the vary headers present on the
// request and the request body, so POST bodies cache independently.
func Key(method, uri string, header http.Header, body []byte, vary []string) string {
	h := sha256.New()
	h.Write([]byte("greedy" + method + uri))
	if len(vary) > 0 {
		present := make(map[string][]string, len(vary))
		for _, name := range vary {
			if values := header.Values(name); len(values) > 0 {
				present[http.CanonicalHeaderKey(name)] = values
			}
		}
		encoded, _ := json.Marshal(present)
		h.Write(encoded)
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type cachedResponse struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
}

type cacheTransport struct {
	next    http.RoundTripper
	storage Storage
	ttl     time.Duration
	vary    []string
	group   singleflight.Group
	logger  *zap.Logger
}

func (t *cacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return t.next.RoundTrip(req)
	}

	body, err := rewindBody(req)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	key := Key(req.Method, req.URL.String(), req.Header, body, t.vary)
	ctx := req.Context()

	raw, found, err := t.storage.Get(ctx, key)
	if err != nil {
		t.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		resp, err := decodeResponse(raw, req)
		if err == nil {
			resp.Header.Set(HeaderCacheInfo, CacheHit)
			return resp, nil
		}
		t.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
	}

	// Identical in-flight requests share one exchange.
	shared, err, _ := t.group.Do(key, func() (any, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		encoded, err := json.Marshal(cachedResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       payload,
		})
		if err != nil {
			return nil, fmt.Errorf("encode response: %w", err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := t.storage.Set(ctx, key, encoded, t.ttl); err != nil {
				t.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
			}
		}
		return encoded, nil
	})
	if err != nil {
		return nil, err
	}

	resp, err := decodeResponse(shared.([]byte), req)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(HeaderCacheInfo, CacheMiss)
	return resp, nil
}

// rewindBody reads the request body and leaves req with a replayable copy.
func rewindBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	return body, nil
}

func decodeResponse(raw []byte, req *http.Request) (*http.Response, error) {
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	header := cached.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", cached.StatusCode, http.StatusText(cached.StatusCode)),
		StatusCode:    cached.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cached.Body)),
		ContentLength: int64(len(cached.Body)),
		Request:       req,
	}, nil
}
