package protocols

import (
	"context"
	"errors"
	"io"
	"time"

	"lunastream/models"
)

var (
	ErrNotConnected = errors.New("client not connected")
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNotFound     = errors.New("path not found")
	ErrTransient    = errors.New("transient remote failure")
	ErrUnsupported  = errors.New("operation not supported by this protocol")
)

// Capability advertises which operations a client variant implements.
// Discovery-only variants (UPnP) fail loudly on unsupported calls instead of
// pretending.
type Capability uint8

const (
	CapList Capability = 1 << iota
	CapStat
	CapOpenRange
	CapDiscover
)

// defaultOpTimeout bounds individual remote operations.
const defaultOpTimeout = 30 * time.Second

// Client is the uniform surface over heterogeneous filesystems. A client is
// lazily connected on first use and cached by the pool.
type Client interface {
	// Connect establishes the underlying session. Calling Connect on a
	// connected client is a no-op.
	Connect(ctx context.Context) error
	// Disconnect tears the session down. Safe to call when not connected.
	Disconnect() error
	// List returns the entries of a directory.
	List(ctx context.Context, path string) ([]models.RemoteEntry, error)
	// Stat returns a single entry.
	Stat(ctx context.Context, path string) (models.RemoteEntry, error)
	// OpenRange opens the byte range [start, end] of a file. end < 0 means
	// "to the end of the file".
	OpenRange(ctx context.Context, path string, start, end int64) (io.ReadCloser, error)
	// TestConnection opens and cleanly closes a session without side effects.
	TestConnection(ctx context.Context) (bool, string)
	// Capabilities reports the operations this variant supports.
	Capabilities() Capability
}

// Discoverer is implemented by clients that can find devices on the network.
type Discoverer interface {
	Discover(ctx context.Context, timeout time.Duration) ([]models.UPnPDevice, error)
	DeviceInfo(ctx context.Context, device models.UPnPDevice) (models.UPnPDevice, error)
}

type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReadCloser) Close() error { return l.closer.Close() }

// rangeReader limits rc to the inclusive range length when end >= 0.
func rangeReader(rc io.ReadCloser, start, end int64) io.ReadCloser {
	if end < 0 {
		return rc
	}
	return &limitedReadCloser{Reader: io.LimitReader(rc, end-start+1), closer: rc}
}
