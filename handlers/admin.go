package handlers

import (
	"errors"
	"log"
	"net/http"

	"lunastream/internal/database"
	"lunastream/models"
	"lunastream/services/cache"
	"lunastream/services/indexer"
	"lunastream/services/transcoder"
)

// AdminStore bundles the repositories the admin endpoints touch.
type AdminStore interface {
	GetByID(id int64) (models.MediaItem, error)
	ListAll() ([]models.MediaItem, error)
	Delete(id int64) error
	CountByType() (map[models.MediaType]int, error)
	TotalSize() (int64, error)
	CountBySource(sourceID int64) (int, error)
}

// AdminUserStore is the user repository surface for admin management.
type AdminUserStore interface {
	List() ([]models.User, error)
	GetByID(id int64) (models.User, error)
	Delete(id int64) error
}

// AdminHandler serves management endpoints. Every route here sits behind
// the admin middleware; the handlers do not re-check the role.
type AdminHandler struct {
	media   AdminStore
	users   AdminUserStore
	sources SourceStore
	scanner Scanner
	cache   *cache.Manager
	trans   *transcoder.Service
}

func NewAdminHandler(media AdminStore, users AdminUserStore, sources SourceStore, scanner Scanner, cacheMgr *cache.Manager, trans *transcoder.Service) *AdminHandler {
	return &AdminHandler{
		media:   media,
		users:   users,
		sources: sources,
		scanner: scanner,
		cache:   cacheMgr,
		trans:   trans,
	}
}

// ListUsers returns every account. Password hashes never serialize.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List()
	if err != nil {
		log.Printf("[admin] list users: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(users), "users": users})
}

// DeleteUser removes an account. Admins cannot delete themselves.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid user id")
		return
	}
	if actor, ok := UserFrom(r); ok && actor.ID == id {
		writeError(w, http.StatusConflict, CodeConflict, "cannot delete your own account")
		return
	}
	target, err := h.users.GetByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load user")
		return
	}
	if err := h.users.Delete(id); err != nil {
		log.Printf("[admin] delete user %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to delete user")
		return
	}
	log.Printf("[admin] user deleted: %s", target.Username)
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// ListMedia returns the raw media table for management views.
func (h *AdminHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	items, err := h.media.ListAll()
	if err != nil {
		log.Printf("[admin] list media: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list media")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

// DeleteMedia removes a media item from the index and drops any cached
// transcode artifacts for it. The file on disk is untouched.
func (h *AdminHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid media id")
		return
	}
	if _, err := h.media.GetByID(id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "media item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load item")
		return
	}
	if err := h.media.Delete(id); err != nil {
		log.Printf("[admin] delete media %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to delete media")
		return
	}
	if err := h.cache.ClearMedia(id); err != nil {
		log.Printf("[admin] clear cache for media %d: %v", id, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "media item deleted"})
}

// LibraryStats aggregates counts and sizes across the library.
func (h *AdminHandler) LibraryStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.media.CountByType()
	if err != nil {
		log.Printf("[admin] count by type: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to compute stats")
		return
	}
	totalSize, err := h.media.TotalSize()
	if err != nil {
		log.Printf("[admin] total size: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to compute stats")
		return
	}

	type sourceStat struct {
		models.Source
		ItemCount int `json:"itemCount"`
	}
	var perSource []sourceStat
	if sources, err := h.sources.List(); err == nil {
		for _, src := range sources {
			n, err := h.media.CountBySource(src.ID)
			if err != nil {
				continue
			}
			perSource = append(perSource, sourceStat{Source: src, ItemCount: n})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"countsByType":   counts,
		"totalSizeBytes": totalSize,
		"sources":        perSource,
	})
}

// Dashboard is a single snapshot for the admin landing page.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	var progress indexer.Progress
	if h.scanner != nil {
		progress = h.scanner.Progress()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scan":          progress,
		"transcodeJobs": h.trans.RunningJobs(),
		"cache":         h.cache.Stats(),
	})
}

// CacheStats reports the artifact cache snapshot.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// ClearCache drops every cached artifact not currently being written.
func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(); err != nil {
		log.Printf("[admin] clear cache: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to clear cache")
		return
	}
	log.Printf("[admin] cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"message": "cache cleared"})
}

