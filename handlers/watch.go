package handlers

import (
	"errors"
	"log"
	"net/http"

	"lunastream/internal/database"
	"lunastream/services/watch"
)

// WatchHandler serves the per-user playback tracking endpoints. The user
// always comes from the auth middleware, never from the request body.
type WatchHandler struct {
	svc *watch.Service
}

func NewWatchHandler(svc *watch.Service) *WatchHandler {
	return &WatchHandler{svc: svc}
}

type progressRequest struct {
	MediaItemID int64   `json:"mediaItemId"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}

// UpdateProgress records a playback position report.
func (h *WatchHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	var req progressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MediaItemID <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "mediaItemId is required")
		return
	}

	rec, err := h.svc.UpdateProgress(user.ID, req.MediaItemID, req.CurrentTime, req.Duration)
	if err != nil {
		if errors.Is(err, watch.ErrInvalidProgress) {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		log.Printf("[watch] update progress user=%d media=%d: %v", user.ID, req.MediaItemID, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to record progress")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetProgress returns the record for one media item.
func (h *WatchHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid media id")
		return
	}

	rec, err := h.svc.Get(user.ID, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "no watch record")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// MarkWatched force-completes the record.
func (h *WatchHandler) MarkWatched(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid media id")
		return
	}
	rec, err := h.svc.MarkWatched(user.ID, id)
	if err != nil {
		log.Printf("[watch] mark watched user=%d media=%d: %v", user.ID, id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to mark watched")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// MarkUnwatched deletes the record.
func (h *WatchHandler) MarkUnwatched(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid media id")
		return
	}
	if err := h.svc.MarkUnwatched(user.ID, id); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to mark unwatched")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "unwatched"})
}

// Reset is an alias of MarkUnwatched kept for players that expose a
// "start over" action.
func (h *WatchHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.MarkUnwatched(w, r)
}

// ContinueWatching lists partially watched items.
func (h *WatchHandler) ContinueWatching(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	items, err := h.svc.ContinueWatching(user.ID, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load shelf")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

// RecentlyWatched lists the latest activity.
func (h *WatchHandler) RecentlyWatched(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	items, err := h.svc.RecentlyWatched(user.ID, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load shelf")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

// History pages through the full history.
func (h *WatchHandler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	items, err := h.svc.History(user.ID, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

// Stats aggregates the user's viewing totals.
func (h *WatchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	stats, err := h.svc.Stats(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

