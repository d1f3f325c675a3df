package handlers

import (
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"

	"lunastream/internal/database"
	"lunastream/models"
	"lunastream/services/indexer"
)

// LibraryStore is the slice of the media store the library handler reads.
type LibraryStore interface {
	GetByID(id int64) (models.MediaItem, error)
	ListByType(t models.MediaType) ([]models.MediaItem, error)
	Search(query string, mediaType models.MediaType, limit int) ([]models.MediaItem, error)
	ListShows() ([]models.TvShow, error)
	GetShowByID(id int64) (models.TvShow, error)
	ListEpisodes(showID int64) ([]models.Episode, error)
	GetEpisodeByID(id int64) (models.Episode, error)
	NextEpisode(ep models.Episode) (models.Episode, error)
	PreviousEpisode(ep models.Episode) (models.Episode, error)
}

// Scanner is the slice of the indexer the scan endpoints use.
type Scanner interface {
	StartScan(src models.Source) error
	Progress() indexer.Progress
}

// SourceGetter resolves stored sources for scans against remote endpoints.
type SourceGetter interface {
	GetByID(id int64) (models.Source, error)
}

// LibraryHandler serves browse, search, and scan endpoints.
type LibraryHandler struct {
	store   LibraryStore
	scanner Scanner
	sources SourceGetter
}

func NewLibraryHandler(store LibraryStore, scanner Scanner, sources SourceGetter) *LibraryHandler {
	return &LibraryHandler{store: store, scanner: scanner, sources: sources}
}

// Movies lists every movie in the library.
func (h *LibraryHandler) Movies(w http.ResponseWriter, r *http.Request) {
	movies, err := h.store.ListByType(models.MediaTypeMovie)
	if err != nil {
		log.Printf("[library] list movies: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list movies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(movies), "movies": movies})
}

// TvShows lists every show.
func (h *LibraryHandler) TvShows(w http.ResponseWriter, r *http.Request) {
	shows, err := h.store.ListShows()
	if err != nil {
		log.Printf("[library] list shows: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list shows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(shows), "tvShows": shows})
}

type showDetailResponse struct {
	models.TvShow
	Seasons []models.Season `json:"seasons"`
}

// TvShowDetail returns one show with its episodes grouped into seasons.
func (h *LibraryHandler) TvShowDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid show id")
		return
	}
	show, err := h.store.GetShowByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "show not found")
			return
		}
		log.Printf("[library] show %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load show")
		return
	}
	episodes, err := h.store.ListEpisodes(show.ID)
	if err != nil {
		log.Printf("[library] episodes for show %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load episodes")
		return
	}

	bySeason := make(map[int][]models.Episode)
	for _, ep := range episodes {
		bySeason[ep.SeasonNumber] = append(bySeason[ep.SeasonNumber], ep)
	}
	seasons := make([]models.Season, 0, len(bySeason))
	for number, eps := range bySeason {
		seasons = append(seasons, models.Season{SeasonNumber: number, Episodes: eps})
	}
	sort.Slice(seasons, func(i, j int) bool { return seasons[i].SeasonNumber < seasons[j].SeasonNumber })

	writeJSON(w, http.StatusOK, showDetailResponse{TvShow: show, Seasons: seasons})
}

// NextEpisode returns the episode after the given one, crossing season
// boundaries; 404 at the end of the show.
func (h *LibraryHandler) NextEpisode(w http.ResponseWriter, r *http.Request) {
	h.neighborEpisode(w, r, h.store.NextEpisode)
}

// PreviousEpisode is the mirror of NextEpisode.
func (h *LibraryHandler) PreviousEpisode(w http.ResponseWriter, r *http.Request) {
	h.neighborEpisode(w, r, h.store.PreviousEpisode)
}

func (h *LibraryHandler) neighborEpisode(w http.ResponseWriter, r *http.Request, neighbor func(models.Episode) (models.Episode, error)) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid episode id")
		return
	}
	current, err := h.store.GetEpisodeByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "episode not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load episode")
		return
	}
	next, err := neighbor(current)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "no neighboring episode")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load episode")
		return
	}
	writeJSON(w, http.StatusOK, next)
}

// Search runs a ranked title search.
func (h *LibraryHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query parameter q is required")
		return
	}
	mediaType := models.MediaType(r.URL.Query().Get("type"))
	limit := queryInt(r, "limit", 50)

	results, err := h.store.Search(query, mediaType, limit)
	if err != nil {
		log.Printf("[library] search %q: %v", query, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Item returns one media item by id.
func (h *LibraryHandler) Item(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid media id")
		return
	}
	item, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "media item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type scanRequest struct {
	Path     string `json:"path"`
	SourceID int64  `json:"sourceId"`
}

// Scan kicks off a library scan. The scan itself runs in the background;
// concurrent requests are rejected, not queued.
func (h *LibraryHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var src models.Source
	switch {
	case req.SourceID > 0:
		var err error
		src, err = h.sources.GetByID(req.SourceID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, CodeNotFound, "source not found")
				return
			}
			writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load source")
			return
		}
		if !src.Enabled {
			writeError(w, http.StatusConflict, CodeConflict, "source is disabled")
			return
		}
	case strings.TrimSpace(req.Path) != "":
		src = models.Source{Name: "local", Kind: models.SourceKindLocal, BasePath: req.Path, Enabled: true}
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "path or sourceId is required")
		return
	}

	// StartScan claims the scan slot before this response is written, so of
	// two racing requests exactly one gets the 202.
	if err := h.scanner.StartScan(src); err != nil {
		if errors.Is(err, indexer.ErrScanBusy) {
			writeError(w, http.StatusConflict, CodeScanBusy, "a scan is already running")
			return
		}
		log.Printf("[library] start scan %s: %v", src.Name, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to start scan")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":  "scan started",
		"progress": h.scanner.Progress(),
	})
}

// ScanProgress returns the live scan snapshot.
func (h *LibraryHandler) ScanProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Progress())
}
