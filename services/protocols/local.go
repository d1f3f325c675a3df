package protocols

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"lunastream/models"
)

// LocalClient serves files from a directory on the server's own filesystem.
// The filesystem is abstracted behind afero so tests can run against an
// in-memory tree.
type LocalClient struct {
	fs   afero.Fs
	root string
}

// NewLocalClient creates a client rooted at dir on the OS filesystem.
func NewLocalClient(root string) *LocalClient {
	return NewLocalClientWithFs(afero.NewOsFs(), root)
}

// NewLocalClientWithFs creates a client over an arbitrary afero filesystem.
func NewLocalClientWithFs(fsys afero.Fs, root string) *LocalClient {
	return &LocalClient{fs: fsys, root: root}
}

func (c *LocalClient) Connect(ctx context.Context) error { return nil }
func (c *LocalClient) Disconnect() error                 { return nil }

func (c *LocalClient) Capabilities() Capability {
	return CapList | CapStat | CapOpenRange
}

func (c *LocalClient) resolve(path string) string {
	if c.root == "" {
		return path
	}
	return filepath.Join(c.root, path)
}

func (c *LocalClient) List(ctx context.Context, path string) ([]models.RemoteEntry, error) {
	full := c.resolve(path)
	infos, err := afero.ReadDir(c.fs, full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entries := make([]models.RemoteEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, models.RemoteEntry{
			Name:    info.Name(),
			Path:    filepath.Join(path, info.Name()),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

func (c *LocalClient) Stat(ctx context.Context, path string) (models.RemoteEntry, error) {
	info, err := c.fs.Stat(c.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.RemoteEntry{}, ErrNotFound
		}
		return models.RemoteEntry{}, err
	}
	return models.RemoteEntry{
		Name:    info.Name(),
		Path:    path,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (c *LocalClient) OpenRange(ctx context.Context, path string, start, end int64) (io.ReadCloser, error) {
	f, err := c.fs.Open(c.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return rangeReader(f, start, end), nil
}

func (c *LocalClient) TestConnection(ctx context.Context) (bool, string) {
	info, err := c.fs.Stat(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, "directory does not exist"
		}
		return false, err.Error()
	}
	if !info.IsDir() {
		return false, "path is not a directory"
	}
	return true, "ok"
}
