package handlers

import (
	"errors"
	"log"
	"net/http"

	"lunastream/internal/database"
	"lunastream/models"
)

// subtitleMIME maps subtitle formats to their serving MIME type.
var subtitleMIME = map[models.SubtitleFormat]string{
	models.SubtitleSRT: "application/x-subrip",
	models.SubtitleVTT: "text/vtt; charset=utf-8",
	models.SubtitleASS: "text/x-ssa",
}

// SubtitleStore is the slice of the store the subtitles handler reads.
type SubtitleStore interface {
	GetByID(id int64) (models.Subtitle, error)
	ListByMediaItem(mediaItemID int64) ([]models.Subtitle, error)
}

// SubtitlesHandler lists and serves sidecar subtitle files.
type SubtitlesHandler struct {
	store SubtitleStore
}

func NewSubtitlesHandler(store SubtitleStore) *SubtitlesHandler {
	return &SubtitlesHandler{store: store}
}

// ListForMedia returns every subtitle attached to a media item, default
// track first.
func (h *SubtitlesHandler) ListForMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid media id")
		return
	}
	subs, err := h.store.ListByMediaItem(id)
	if err != nil {
		log.Printf("[subtitles] list for media %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list subtitles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(subs), "subtitles": subs})
}

// Serve streams the subtitle file with a MIME type matching its format.
func (h *SubtitlesHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid subtitle id")
		return
	}
	sub, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "subtitle not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load subtitle")
		return
	}

	if mime, ok := subtitleMIME[sub.Format]; ok {
		w.Header().Set("Content-Type", mime)
	}
	http.ServeFile(w, r, sub.FilePath)
}

