package protocols

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/hirochachacha/go-smb2"

	"lunastream/models"
)

// SMBClient mounts a single share on a Windows/Samba host. Paths handed to
// the client are relative to the share root.
type SMBClient struct {
	host     string
	port     int
	username string
	password string
	domain   string
	share    string

	mu      sync.Mutex
	conn    net.Conn
	session *smb2.Session
	fs      *smb2.Share
}

// NewSMBClient creates a disconnected SMB client for the given share.
func NewSMBClient(host string, port int, username, password, domain, share string) *SMBClient {
	if port == 0 {
		port = 445
	}
	return &SMBClient{
		host: host, port: port,
		username: username, password: password, domain: domain,
		share: share,
	}
}

func (c *SMBClient) Capabilities() Capability {
	return CapList | CapStat | CapOpenRange
}

func (c *SMBClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *SMBClient) connectLocked(ctx context.Context) error {
	if c.fs != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	dialer := net.Dialer{Timeout: defaultOpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransient, addr, err)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     c.username,
			Password: c.password,
			Domain:   c.domain,
		},
	}
	session, err := d.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	share, err := session.Mount(c.share)
	if err != nil {
		_ = session.Logoff()
		conn.Close()
		return fmt.Errorf("mount share %q: %w", c.share, err)
	}

	c.conn = conn
	c.session = session
	c.fs = share
	return nil
}

func (c *SMBClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fs == nil {
		return nil
	}
	err := c.fs.Umount()
	_ = c.session.Logoff()
	_ = c.conn.Close()
	c.fs, c.session, c.conn = nil, nil, nil
	return err
}

// smbPath converts slash paths to the backslash form the share expects.
func smbPath(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return strings.ReplaceAll(p, "/", `\`)
}

func (c *SMBClient) List(ctx context.Context, dir string) ([]models.RemoteEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	infos, err := c.fs.ReadDir(smbPath(dir))
	if err != nil {
		return nil, mapSMBError(err)
	}
	entries := make([]models.RemoteEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, models.RemoteEntry{
			Name:    info.Name(),
			Path:    path.Join(dir, info.Name()),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

func (c *SMBClient) Stat(ctx context.Context, p string) (models.RemoteEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return models.RemoteEntry{}, err
	}

	info, err := c.fs.Stat(smbPath(p))
	if err != nil {
		return models.RemoteEntry{}, mapSMBError(err)
	}
	return models.RemoteEntry{
		Name:    info.Name(),
		Path:    p,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (c *SMBClient) OpenRange(ctx context.Context, p string, start, end int64) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	f, err := c.fs.Open(smbPath(p))
	if err != nil {
		return nil, mapSMBError(err)
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return rangeReader(f, start, end), nil
}

func (c *SMBClient) TestConnection(ctx context.Context) (bool, string) {
	probe := NewSMBClient(c.host, c.port, c.username, c.password, c.domain, c.share)
	if err := probe.Connect(ctx); err != nil {
		return false, err.Error()
	}
	defer probe.Disconnect()
	if _, err := probe.List(ctx, "/"); err != nil {
		return false, err.Error()
	}
	return true, "connected"
}

func mapSMBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return err
}
