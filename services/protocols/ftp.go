package protocols

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jlaffaye/ftp"

	"lunastream/models"
)

// FTPClient wraps a single FTP session with auto-reconnect. FTP control
// connections drop on idle timeouts, so every operation pings the session
// first and reconnects when it is gone.
type FTPClient struct {
	host     string
	port     int
	username string
	password string

	mu   sync.Mutex
	conn *ftp.ServerConn
}

// NewFTPClient creates a disconnected FTP client. The password is the
// decrypted source credential.
func NewFTPClient(host string, port int, username, password string) *FTPClient {
	if port == 0 {
		port = 21
	}
	return &FTPClient{host: host, port: port, username: username, password: password}
}

func (c *FTPClient) Capabilities() Capability {
	return CapList | CapStat | CapOpenRange
}

func (c *FTPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *FTPClient) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		if err := c.conn.NoOp(); err == nil {
			return nil
		}
		// Stale session; drop it and dial fresh.
		_ = c.conn.Quit()
		c.conn = nil
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(defaultOpTimeout))
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransient, addr, err)
	}

	user := c.username
	pass := c.password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	c.conn = conn
	return nil
}

func (c *FTPClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	return err
}

// withConn runs fn under the session lock, retrying once through a reconnect
// on transient failures.
func (c *FTPClient) withConn(ctx context.Context, fn func(*ftp.ServerConn) error) error {
	return retry.Do(
		func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			if err := c.connectLocked(ctx); err != nil {
				return err
			}
			if err := fn(c.conn); err != nil {
				if isFTPTransient(err) {
					// Force a fresh dial on the retry.
					_ = c.conn.Quit()
					c.conn = nil
					return fmt.Errorf("%w: %v", ErrTransient, err)
				}
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(500*time.Millisecond),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrTransient) }),
		retry.LastErrorOnly(true),
	)
}

func isFTPTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "timeout")
}

func (c *FTPClient) List(ctx context.Context, dir string) ([]models.RemoteEntry, error) {
	var entries []models.RemoteEntry
	err := c.withConn(ctx, func(conn *ftp.ServerConn) error {
		listing, err := conn.List(dir)
		if err != nil {
			return err
		}
		entries = entries[:0]
		for _, e := range listing {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			entries = append(entries, models.RemoteEntry{
				Name:    e.Name,
				Path:    path.Join(dir, e.Name),
				IsDir:   e.Type == ftp.EntryTypeFolder,
				Size:    int64(e.Size),
				ModTime: e.Time,
			})
		}
		return nil
	})
	if err != nil {
		return nil, mapFTPError(err)
	}
	return entries, nil
}

func (c *FTPClient) Stat(ctx context.Context, p string) (models.RemoteEntry, error) {
	var entry models.RemoteEntry
	err := c.withConn(ctx, func(conn *ftp.ServerConn) error {
		size, err := conn.FileSize(p)
		if err != nil {
			return err
		}
		entry = models.RemoteEntry{Name: path.Base(p), Path: p, Size: size}
		return nil
	})
	if err != nil {
		return models.RemoteEntry{}, mapFTPError(err)
	}
	return entry, nil
}

// ftpRangeReader holds the session lock for the lifetime of the data
// transfer; FTP only supports one transfer per control connection.
type ftpRangeReader struct {
	io.Reader
	resp   *ftp.Response
	client *FTPClient
}

func (r *ftpRangeReader) Close() error {
	err := r.resp.Close()
	r.client.mu.Unlock()
	return err
}

func (c *FTPClient) OpenRange(ctx context.Context, p string, start, end int64) (io.ReadCloser, error) {
	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	resp, err := c.conn.RetrFrom(p, uint64(start))
	if err != nil {
		c.mu.Unlock()
		return nil, mapFTPError(err)
	}
	var reader io.Reader = resp
	if end >= 0 {
		reader = io.LimitReader(resp, end-start+1)
	}
	return &ftpRangeReader{Reader: reader, resp: resp, client: c}, nil
}

func (c *FTPClient) TestConnection(ctx context.Context) (bool, string) {
	probe := NewFTPClient(c.host, c.port, c.username, c.password)
	if err := probe.Connect(ctx); err != nil {
		return false, err.Error()
	}
	defer probe.Disconnect()
	if _, err := probe.List(ctx, "/"); err != nil {
		return false, err.Error()
	}
	return true, "connected"
}

func mapFTPError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrAuthFailed) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "550"), strings.Contains(msg, "no such file"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(msg, "530"), strings.Contains(msg, "login"):
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	default:
		log.Printf("[ftp] operation failed: %v", err)
		return err
	}
}
