package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const httpAttempts = 3

// HTTPStore fetches objects from a plain HTTP object gateway at
// {baseURL}/{container}/{path}. Transient failures are retried.
type HTTPStore struct {
	client    *http.Client
	baseURL   string
	container string
	token     string
	backoff   func(attempt int) time.Duration
}

// NewHTTPStore creates an HTTP-backed store. token is sent as a bearer token
// when set.
func NewHTTPStore(baseURL, container, token string) *HTTPStore {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPStore{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		container: container,
		token:     token,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * time.Second
		},
	}
}

func (s *HTTPStore) Name() string {
	return BackendHTTP
}

func (s *HTTPStore) objectURL(path string) (string, error) {
	segments := []string{}
	if s.container != "" {
		segments = append(segments, s.container)
	}
	segments = append(segments, strings.TrimPrefix(path, "/"))
	return url.JoinPath(s.baseURL, segments...)
}

// Download fetches one object. 4xx responses fail immediately, 5xx responses
// and transport errors are retried up to three attempts.
func (s *HTTPStore) Download(ctx context.Context, path string) ([]byte, error) {
	objectURL, err := s.objectURL(path)
	if err != nil {
		return nil, fmt.Errorf("invalid object path %q: %w", path, err)
	}

	var lastErr error
	for attempt := range httpAttempts {
		data, retry, err := s.fetch(ctx, objectURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry || attempt == httpAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.backoff(attempt)):
		}
	}
	return nil, fmt.Errorf("failed to fetch %s after %d attempts: %w", path, httpAttempts, lastErr)
}

// fetch performs one request and reports whether a failure is worth retrying.
func (s *HTTPStore) fetch(ctx context.Context, objectURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objectURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, */*")
	req.Header.Set("User-Agent", "variance-tracker")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := readAll(resp.Body)
		return data, false, err
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrObjectNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	default:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	}
}
