package models

import "time"

// Source is a named origin of media files: a local directory or a remote
// endpoint reached over one of the supported protocols.
type Source struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Kind      SourceKind `json:"kind"`
	Host      string     `json:"host,omitempty"`
	Port      int        `json:"port,omitempty"`
	Username  string     `json:"username,omitempty"`
	// Credential holds the AES-GCM encrypted password blob. Never sent to
	// clients; the plaintext only exists inside a protocol client during
	// connect.
	Credential []byte    `json:"-"`
	BasePath   string    `json:"basePath,omitempty"`
	Domain     string    `json:"domain,omitempty"` // SMB only
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RemoteEntry is one row of a directory listing from a protocol client.
type RemoteEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"modTime,omitempty"`
}

// UPnPDevice describes a device found during SSDP discovery.
type UPnPDevice struct {
	USN          string   `json:"usn"`
	Location     string   `json:"location"`
	Server       string   `json:"server,omitempty"`
	SearchTarget string   `json:"searchTarget,omitempty"`
	FriendlyName string   `json:"friendlyName,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	ModelName    string   `json:"modelName,omitempty"`
	Services     []string `json:"services,omitempty"`
}
