package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Store reads and writes objects addressed by URL.
type Store interface {
	// Fetch returns the content stored at rawURL.
	Fetch(ctx context.Context, rawURL string) ([]byte, error)

	// Upload copies the local file at localPath to rawURL.
	Upload(ctx context.Context, localPath, rawURL string) error
}

// Closer is implemented by stores holding connections.
type Closer interface {
	Close() error
}

// Error is returned by every store operation.
type Error struct {
	// Op is the operation that failed (fetch, upload, connect)
	Op string

	// URL is the object the operation addressed
	URL string

	// Err is the underlying error
	Err error

	// IsTemporary indicates the operation may succeed when retried
	IsTemporary bool

	// IsAuthError indicates an authentication failure
	IsAuthError bool

	// IsNotFound indicates the object does not exist
	IsNotFound bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("artifacts %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("artifacts %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Router dispatches each URL to the store registered for its scheme.
type Router struct {
	mu     sync.RWMutex
	stores map[string]Store
	logger zerolog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		stores: make(map[string]Store),
		logger: logger.With().Str("component", "artifacts").Logger(),
	}
}

// NewDefaultRouter registers the file and http(s) stores, plus an SFTP store
// when sftpConfig is non-nil.
func NewDefaultRouter(logger zerolog.Logger, sftpConfig *SFTPConfig) *Router {
	r := NewRouter(logger)
	r.Register("file", NewFileStore())
	httpStore := NewHTTPStore(nil)
	r.Register("http", httpStore)
	r.Register("https", httpStore)
	if sftpConfig != nil {
		r.Register("sftp", NewSFTPStore(*sftpConfig, r.logger))
	}
	return r
}

// Register installs store for scheme, replacing any previous one.
func (r *Router) Register(scheme string, store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[strings.ToLower(scheme)] = store
}

// Schemes returns the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.stores))
	for s := range r.stores {
		out = append(out, s)
	}
	return out
}

// Fetch implements Store.
func (r *Router) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	store, err := r.route("fetch", rawURL)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("url", rawURL).Msg("fetching object")
	return store.Fetch(ctx, rawURL)
}

// Upload implements Store.
func (r *Router) Upload(ctx context.Context, localPath, rawURL string) error {
	store, err := r.route("upload", rawURL)
	if err != nil {
		return err
	}
	r.logger.Debug().Str("url", rawURL).Str("local", localPath).Msg("uploading object")
	return store.Upload(ctx, localPath, rawURL)
}

// Close closes every registered store holding connections.
func (r *Router) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, s := range r.stores {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) route(op, rawURL string) (Store, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, &Error{Op: op, URL: rawURL, Err: err}
	}
	r.mu.RLock()
	store, ok := r.stores[u.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Op: op, URL: rawURL, Err: fmt.Errorf("no store registered for scheme %q", u.Scheme)}
	}
	return store, nil
}

// ParseURL parses rawURL and requires a scheme.
func ParseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("url %q has no scheme", rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

// Join appends elem to the path of base.
func Join(base string, elem ...string) (string, error) {
	u, err := ParseURL(base)
	if err != nil {
		return "", err
	}
	return u.JoinPath(elem...).String(), nil
}
