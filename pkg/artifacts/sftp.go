package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SFTPStore serves sftp://[user@]host[:port]/path URLs. Connections are kept
// per user and address until Close.
type SFTPStore struct {
	config SFTPConfig
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[string]*sftpConn
}

type sftpConn struct {
	ssh         *ssh.Client
	proxy       *ssh.Client
	sftp        *sftp.Client
	closeAgent  func() error
	connectedAt time.Time
}

func (c *sftpConn) close() error {
	errs := []error{c.sftp.Close(), c.ssh.Close()}
	if c.proxy != nil {
		errs = append(errs, c.proxy.Close())
	}
	if c.closeAgent != nil {
		errs = append(errs, c.closeAgent())
	}
	return errors.Join(errs...)
}

// NewSFTPStore creates an SFTPStore. No connection is made until first use.
func NewSFTPStore(config SFTPConfig, logger zerolog.Logger) *SFTPStore {
	return &SFTPStore{
		config: config,
		logger: logger,
		conns:  make(map[string]*sftpConn),
	}
}

// Fetch implements Store.
func (s *SFTPStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client, remotePath, err := s.client(ctx, "fetch", rawURL)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	remoteFile, err := client.Open(remotePath)
	if err != nil {
		return nil, &Error{
			Op:         "fetch",
			URL:        rawURL,
			Err:        fmt.Errorf("failed to open remote file: %w", err),
			IsNotFound: errors.Is(err, fs.ErrNotExist),
		}
	}
	defer remoteFile.Close()

	var buf bytes.Buffer
	n, err := copyWithContext(ctx, &buf, remoteFile)
	if err != nil {
		return nil, &Error{Op: "fetch", URL: rawURL, Err: fmt.Errorf("failed to read remote file: %w", err), IsTemporary: true}
	}

	s.logger.Debug().
		Str("remote", remotePath).
		Int64("bytes", n).
		Dur("duration", time.Since(startTime)).
		Msg("object fetched")
	return buf.Bytes(), nil
}

// Upload implements Store.
func (s *SFTPStore) Upload(ctx context.Context, localPath, rawURL string) error {
	startTime := time.Now()

	localFile, err := os.Open(localPath)
	if err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer localFile.Close()

	fileInfo, err := localFile.Stat()
	if err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to stat local file: %w", err)}
	}

	client, remotePath, err := s.client(ctx, "upload", rawURL)
	if err != nil {
		return err
	}

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	remoteFile, err := client.Create(remotePath)
	if err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}
	defer remoteFile.Close()

	bytesWritten, err := copyWithContext(ctx, remoteFile, localFile)
	if err != nil {
		return &Error{Op: "upload", URL: rawURL, Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}

	if err := client.Chmod(remotePath, fileInfo.Mode().Perm()); err != nil {
		s.logger.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
	}

	s.logger.Info().
		Str("local", localPath).
		Str("url", rawURL).
		Int64("bytes", bytesWritten).
		Int64("size", fileInfo.Size()).
		Dur("duration", time.Since(startTime)).
		Msg("artifact uploaded")
	return nil
}

// Close disconnects every cached connection.
func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, conn := range s.conns {
		errs = append(errs, conn.close())
		delete(s.conns, key)
	}
	return errors.Join(errs...)
}

// client returns a live SFTP client for rawURL and the remote path it names.
func (s *SFTPStore) client(ctx context.Context, op, rawURL string) (*sftp.Client, string, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, "", &Error{Op: op, URL: rawURL, Err: err}
	}
	if u.Scheme != "sftp" {
		return nil, "", &Error{Op: op, URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Path == "" {
		return nil, "", &Error{Op: op, URL: rawURL, Err: fmt.Errorf("sftp url has no path")}
	}

	cfg, err := s.config.forURL(u.Hostname(), u.Port(), u.User.Username())
	if err != nil {
		return nil, "", &Error{Op: op, URL: rawURL, Err: err}
	}
	if pass, ok := u.User.Password(); ok {
		cfg.AuthMethod = AuthMethodPassword
		cfg.Password = pass
	}

	key := cfg.User + "@" + cfg.Address()

	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, ok := s.conns[key]; ok {
		if _, err := conn.sftp.Getwd(); err == nil {
			return conn.sftp, u.Path, nil
		}
		s.logger.Warn().Str("address", cfg.Address()).Msg("existing connection is dead, reconnecting")
		_ = conn.close()
		delete(s.conns, key)
	}

	conn, err := s.connect(ctx, cfg)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			ae.Op, ae.URL = op, rawURL
			return nil, "", ae
		}
		return nil, "", &Error{Op: op, URL: rawURL, Err: err}
	}
	s.conns[key] = conn
	return conn.sftp, u.Path, nil
}

// connect dials cfg directly or through its jump host and opens an SFTP session.
func (s *SFTPStore) connect(ctx context.Context, cfg SFTPConfig) (*sftpConn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Err: fmt.Errorf("invalid config: %w", err)}
	}
	clientConfig, closeAgent, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, &Error{Err: err, IsAuthError: true}
	}

	conn := &sftpConn{closeAgent: closeAgent}
	fail := func(e *Error) (*sftpConn, error) {
		if conn.ssh != nil {
			_ = conn.ssh.Close()
		}
		if conn.proxy != nil {
			_ = conn.proxy.Close()
		}
		_ = closeAgent()
		return nil, e
	}

	if cfg.IsProxyEnabled() {
		proxyConfig := *clientConfig
		proxyConfig.User = cfg.ProxyUser

		s.logger.Debug().Str("proxy", cfg.ProxyAddress()).Msg("connecting to proxy host")
		conn.proxy, err = dialContext(ctx, cfg.ProxyAddress(), &proxyConfig)
		if err != nil {
			return fail(&Error{Err: fmt.Errorf("connect to proxy: %w", err), IsTemporary: true})
		}

		proxyConn, err := conn.proxy.DialContext(ctx, "tcp", cfg.Address())
		if err != nil {
			return fail(&Error{Err: fmt.Errorf("connect via proxy: %w", err), IsTemporary: true})
		}
		ncc, chans, reqs, err := ssh.NewClientConn(proxyConn, cfg.Address(), clientConfig)
		if err != nil {
			_ = proxyConn.Close()
			return fail(&Error{Err: fmt.Errorf("connect via proxy: %w", err), IsAuthError: true})
		}
		conn.ssh = ssh.NewClient(ncc, chans, reqs)
	} else {
		conn.ssh, err = dialContext(ctx, cfg.Address(), clientConfig)
		if err != nil {
			return fail(&Error{Err: err, IsTemporary: true})
		}
	}

	conn.sftp, err = sftp.NewClient(conn.ssh)
	if err != nil {
		return fail(&Error{Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true})
	}
	conn.connectedAt = time.Now()

	s.logger.Info().
		Str("address", cfg.Address()).
		Str("user", cfg.User).
		Bool("proxy", cfg.IsProxyEnabled()).
		Msg("SFTP connection established")
	return conn, nil
}

// dialContext runs ssh.Dial in the background so ctx can abandon it.
func dialContext(ctx context.Context, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, config)
		done <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		return r.client, r.err
	}
}
