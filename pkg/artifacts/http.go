package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxHTTPObjectSize bounds the body read by HTTPStore.Fetch.
const MaxHTTPObjectSize = 64 << 20

// HTTPStore reads http(s) URLs, typically pre-signed command log links.
type HTTPStore struct {
	client *http.Client
}

// NewHTTPStore creates an HTTPStore. A nil client uses a client with a
// one minute timeout.
func NewHTTPStore(client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	return &HTTPStore{client: client}
}

// Fetch implements Store.
func (s *HTTPStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Op: "fetch", URL: rawURL, Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "fetch", URL: rawURL, Err: err, IsTemporary: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Op:          "fetch",
			URL:         rawURL,
			Err:         fmt.Errorf("unexpected status %s", resp.Status),
			IsTemporary: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			IsAuthError: resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
			IsNotFound:  resp.StatusCode == http.StatusNotFound,
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxHTTPObjectSize+1))
	if err != nil {
		return nil, &Error{Op: "fetch", URL: rawURL, Err: err, IsTemporary: true}
	}
	if len(data) > MaxHTTPObjectSize {
		return nil, &Error{Op: "fetch", URL: rawURL, Err: fmt.Errorf("object exceeds %d bytes", MaxHTTPObjectSize)}
	}
	return data, nil
}

// Upload implements Store. HTTP locations are read-only.
func (s *HTTPStore) Upload(ctx context.Context, localPath, rawURL string) error {
	return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("http stores are read-only")}
}
