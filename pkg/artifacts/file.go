package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore serves file:// URLs from the local filesystem.
type FileStore struct{}

// NewFileStore creates a FileStore.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Fetch implements Store.
func (s *FileStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	path, err := localPath("fetch", rawURL)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "fetch", URL: rawURL, Err: err, IsTemporary: true}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "fetch", URL: rawURL, Err: err, IsNotFound: errors.Is(err, fs.ErrNotExist)}
	}
	return data, nil
}

// Upload implements Store.
func (s *FileStore) Upload(ctx context.Context, src, rawURL string) error {
	dst, err := localPath("upload", rawURL)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to create directory: %w", err)}
	}
	out, err := os.Create(dst)
	if err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to create file: %w", err)}
	}
	if _, err := copyWithContext(ctx, out, in); err != nil {
		_ = out.Close()
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to copy file: %w", err)}
	}
	if err := out.Close(); err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: err}
	}
	return nil
}

func localPath(op, rawURL string) (string, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return "", &Error{Op: op, URL: rawURL, Err: err}
	}
	if u.Scheme != "file" {
		return "", &Error{Op: op, URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", &Error{Op: op, URL: rawURL, Err: fmt.Errorf("file urls must be local, got host %q", u.Host)}
	}
	if u.Path == "" {
		return "", &Error{Op: op, URL: rawURL, Err: fmt.Errorf("file url has no path")}
	}
	return filepath.FromSlash(u.Path), nil
}

// copyWithContext copies src to dst in chunks, stopping when ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
