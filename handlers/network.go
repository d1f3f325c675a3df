package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"lunastream/internal/database"
	"lunastream/models"
	"lunastream/services/protocols"
)

const (
	defaultDiscoverTimeout = 5 * time.Second
	maxDiscoverTimeout     = 30 * time.Second
)

// SourceStore is the slice of the source repository the handler uses.
type SourceStore interface {
	Insert(src models.Source) (models.Source, error)
	GetByID(id int64) (models.Source, error)
	List() ([]models.Source, error)
	Update(src models.Source) (models.Source, error)
	Delete(id int64) error
}

// NetworkHandler manages remote sources: CRUD, connection tests, directory
// browsing, and UPnP discovery.
type NetworkHandler struct {
	store  SourceStore
	pool   *protocols.Pool
	cipher *protocols.CredentialCipher
	upnp   *protocols.UPnPClient
}

func NewNetworkHandler(store SourceStore, pool *protocols.Pool, cipher *protocols.CredentialCipher) *NetworkHandler {
	return &NetworkHandler{
		store:  store,
		pool:   pool,
		cipher: cipher,
		upnp:   protocols.NewUPnPClient(),
	}
}

type sourceRequest struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	BasePath string `json:"basePath"`
	Domain   string `json:"domain"`
	Enabled  *bool  `json:"enabled"`
}

func (req *sourceRequest) validate() (models.SourceKind, string) {
	if strings.TrimSpace(req.Name) == "" {
		return "", "name is required"
	}
	kind := models.SourceKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	switch kind {
	case models.SourceKindLocal:
		if strings.TrimSpace(req.BasePath) == "" {
			return "", "basePath is required for local sources"
		}
	case models.SourceKindFTP, models.SourceKindSMB:
		if strings.TrimSpace(req.Host) == "" {
			return "", "host is required"
		}
		if kind == models.SourceKindSMB && strings.TrimSpace(req.BasePath) == "" {
			return "", "basePath (share) is required for smb sources"
		}
	case models.SourceKindUPnP:
	default:
		return "", "unknown source kind"
	}
	return kind, ""
}

// List returns every configured source. Credentials never leave the server.
func (h *NetworkHandler) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.List()
	if err != nil {
		log.Printf("[network] list sources: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(sources), "sources": sources})
}

// Create registers a new source, encrypting any password at rest.
func (h *NetworkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, problem := req.validate()
	if problem != "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, problem)
		return
	}

	src := models.Source{
		Name:     strings.TrimSpace(req.Name),
		Kind:     kind,
		Host:     strings.TrimSpace(req.Host),
		Port:     req.Port,
		Username: req.Username,
		BasePath: req.BasePath,
		Domain:   req.Domain,
		Enabled:  true,
	}
	if req.Password != "" {
		blob, err := h.cipher.Encrypt(req.Password)
		if err != nil {
			log.Printf("[network] encrypt credential: %v", err)
			writeError(w, http.StatusInternalServerError, CodeInternal, "failed to store credential")
			return
		}
		src.Credential = blob
	}

	created, err := h.store.Insert(src)
	if err != nil {
		log.Printf("[network] create source: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to create source")
		return
	}
	log.Printf("[network] source created: %s (%s)", created.Name, created.Kind)
	writeJSON(w, http.StatusCreated, created)
}

// Update modifies a source. An empty password keeps the stored credential;
// the cached client is evicted either way.
func (h *NetworkHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid source id")
		return
	}
	existing, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load source")
		return
	}

	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, problem := req.validate()
	if problem != "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, problem)
		return
	}

	src := models.Source{
		ID:       id,
		Name:     strings.TrimSpace(req.Name),
		Kind:     kind,
		Host:     strings.TrimSpace(req.Host),
		Port:     req.Port,
		Username: req.Username,
		BasePath: req.BasePath,
		Domain:   req.Domain,
		Enabled:  existing.Enabled,
	}
	if req.Enabled != nil {
		src.Enabled = *req.Enabled
	}
	if req.Password != "" {
		blob, err := h.cipher.Encrypt(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternal, "failed to store credential")
			return
		}
		src.Credential = blob
	}

	updated, err := h.store.Update(src)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "source not found")
			return
		}
		log.Printf("[network] update source %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to update source")
		return
	}

	// The cached client may hold stale connection details.
	h.pool.Invalidate(existing.Kind, id)
	writeJSON(w, http.StatusOK, updated)
}

// Delete removes a source; its cached client drains and disconnects.
func (h *NetworkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid source id")
		return
	}
	existing, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load source")
		return
	}
	if err := h.store.Delete(id); err != nil {
		log.Printf("[network] delete source %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to delete source")
		return
	}
	h.pool.Invalidate(existing.Kind, id)
	log.Printf("[network] source deleted: %s", existing.Name)
	writeJSON(w, http.StatusOK, map[string]string{"message": "source deleted"})
}

// Test opens a connection, reports the outcome, and closes cleanly.
func (h *NetworkHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid source id")
		return
	}
	src, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load source")
		return
	}

	client, release, err := h.pool.Acquire(r.Context(), src)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	defer release()

	okConn, message := client.TestConnection(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": okConn, "message": message})
}

// Browse lists one directory of a source.
func (h *NetworkHandler) Browse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid source id")
		return
	}
	src, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load source")
		return
	}

	dir := r.URL.Query().Get("path")
	if dir == "" {
		dir = protocols.ScanRoot(src)
	}

	client, release, err := h.pool.Acquire(r.Context(), src)
	if err != nil {
		writeError(w, http.StatusBadGateway, CodeUnavailable, err.Error())
		return
	}
	defer release()

	entries, err := client.List(r.Context(), dir)
	if err != nil {
		switch {
		case errors.Is(err, protocols.ErrNotFound):
			writeError(w, http.StatusNotFound, CodeNotFound, "path not found")
		case errors.Is(err, protocols.ErrUnsupported):
			writeError(w, http.StatusConflict, CodeInvalidRequest, "source does not support browsing")
		default:
			log.Printf("[network] browse %s %s: %v", src.Name, dir, err)
			writeError(w, http.StatusBadGateway, CodeUnavailable, "listing failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": dir, "entries": entries})
}

// Discover runs SSDP discovery for media servers on the local network.
func (h *NetworkHandler) Discover(w http.ResponseWriter, r *http.Request) {
	timeout := defaultDiscoverTimeout
	if secs := queryInt(r, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > maxDiscoverTimeout {
			timeout = maxDiscoverTimeout
		}
	}

	devices, err := h.upnp.Discover(r.Context(), timeout)
	if err != nil {
		log.Printf("[network] upnp discovery: %v", err)
		writeError(w, http.StatusBadGateway, CodeUnavailable, "discovery failed")
		return
	}

	// Best-effort enrichment from each device's description document.
	for i, device := range devices {
		if enriched, err := h.upnp.DeviceInfo(r.Context(), device); err == nil {
			devices[i] = enriched
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(devices), "devices": devices})
}

