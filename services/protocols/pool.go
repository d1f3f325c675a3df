package protocols

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"lunastream/models"
)

type poolKey struct {
	kind models.SourceKind
	id   int64
}

type poolEntry struct {
	client Client
	refs   int
}

// Pool caches protocol clients per (kind, source id) so that repeated
// operations reuse one session. Entries are acquired and released per
// operation; invalidation waits for outstanding operations to drain before
// disconnecting.
type Pool struct {
	cipher *CredentialCipher

	mu      sync.Mutex
	drained *sync.Cond
	entries map[poolKey]*poolEntry
}

// NewPool creates an empty client pool. The cipher decrypts stored source
// credentials on connect.
func NewPool(cipher *CredentialCipher) *Pool {
	p := &Pool{
		cipher:  cipher,
		entries: make(map[poolKey]*poolEntry),
	}
	p.drained = sync.NewCond(&p.mu)
	return p
}

// Acquire returns a connected client for the source plus a release function.
// The caller must invoke release exactly once when the operation finishes.
func (p *Pool) Acquire(ctx context.Context, src models.Source) (Client, func(), error) {
	key := poolKey{kind: src.Kind, id: src.ID}

	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok {
		client, err := p.buildClient(src)
		if err != nil {
			p.mu.Unlock()
			return nil, nil, err
		}
		entry = &poolEntry{client: client}
		p.entries[key] = entry
	}
	entry.refs++
	p.mu.Unlock()

	if err := entry.client.Connect(ctx); err != nil {
		p.release(key, entry)
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() { p.release(key, entry) })
	}
	return entry.client, release, nil
}

func (p *Pool) release(key poolKey, entry *poolEntry) {
	p.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		p.drained.Broadcast()
	}
	p.mu.Unlock()
}

// Invalidate evicts the cached client for a source, waiting for in-flight
// operations to finish before disconnecting. Called on source update/delete.
func (p *Pool) Invalidate(kind models.SourceKind, sourceID int64) {
	key := poolKey{kind: kind, id: sourceID}

	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.entries, key)
	for entry.refs > 0 {
		p.drained.Wait()
	}
	p.mu.Unlock()

	if err := entry.client.Disconnect(); err != nil {
		log.Printf("[protocols] disconnect %s/%d: %v", kind, sourceID, err)
	}
}

// Shutdown disconnects every cached client.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[poolKey]*poolEntry)
	p.mu.Unlock()

	for key, entry := range entries {
		if err := entry.client.Disconnect(); err != nil {
			log.Printf("[protocols] disconnect %s/%d: %v", key.kind, key.id, err)
		}
	}
}

// buildClient constructs the protocol variant for a source, decrypting the
// stored credential when one is present.
func (p *Pool) buildClient(src models.Source) (Client, error) {
	var password string
	if len(src.Credential) > 0 {
		var err error
		password, err = p.cipher.Decrypt(src.Credential)
		if err != nil {
			return nil, err
		}
	}

	switch src.Kind {
	case models.SourceKindLocal:
		return NewLocalClient(""), nil
	case models.SourceKindFTP:
		return NewFTPClient(src.Host, src.Port, src.Username, password), nil
	case models.SourceKindSMB:
		share, _ := SplitSharePath(src.BasePath)
		if share == "" {
			return nil, fmt.Errorf("smb source %q has no share in base path", src.Name)
		}
		return NewSMBClient(src.Host, src.Port, src.Username, password, src.Domain, share), nil
	case models.SourceKindUPnP:
		return NewUPnPClient(), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

// SplitSharePath splits an SMB base path into its share name and the path
// below the share root.
func SplitSharePath(basePath string) (share, rest string) {
	trimmed := strings.Trim(basePath, "/")
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	share = parts[0]
	if len(parts) == 2 {
		rest = parts[1]
	}
	return share, rest
}

// ScanRoot returns the path a scan of the source should start from.
func ScanRoot(src models.Source) string {
	switch src.Kind {
	case models.SourceKindSMB:
		_, rest := SplitSharePath(src.BasePath)
		if rest == "" {
			return "/"
		}
		return "/" + rest
	default:
		if src.BasePath == "" {
			return "/"
		}
		return src.BasePath
	}
}
