package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"lunastream/internal/database"
	"lunastream/internal/metrics"
	"lunastream/models"
	"lunastream/services/probe"
	"lunastream/services/protocols"
	"lunastream/services/transcoder"
)

// mimeByContainer maps probe container names to stream MIME types.
var mimeByContainer = map[string]string{
	"mp4":      "video/mp4",
	"m4v":      "video/x-m4v",
	"webm":     "video/webm",
	"mov":      "video/quicktime",
	"matroska": "video/x-matroska",
	"avi":      "video/x-msvideo",
	"mpegts":   "video/mp2t",
}

// StreamStore is the slice of the media store the streamer reads.
type StreamStore interface {
	GetByID(id int64) (models.MediaItem, error)
	UpdateProbeInfo(id int64, duration float64, qualityLabel string) error
}

// ArtifactCache is what the streamer needs from the cache manager.
type ArtifactCache interface {
	Touch(path string)
}

// StreamHandler serves the three delivery modes: direct range, realtime
// transcode, and HLS.
type StreamHandler struct {
	store      StreamStore
	sources    SourceGetter
	pool       *protocols.Pool
	prober     *probe.Prober
	transcoder *transcoder.Service
	cache      ArtifactCache

	defaultQuality string
}

func NewStreamHandler(store StreamStore, sources SourceGetter, pool *protocols.Pool, prober *probe.Prober, tc *transcoder.Service, cache ArtifactCache, defaultQuality string) *StreamHandler {
	if defaultQuality == "" {
		defaultQuality = "720p"
	}
	return &StreamHandler{
		store:          store,
		sources:        sources,
		pool:           pool,
		prober:         prober,
		transcoder:     tc,
		cache:          cache,
		defaultQuality: defaultQuality,
	}
}

func (h *StreamHandler) loadItem(w http.ResponseWriter, r *http.Request) (models.MediaItem, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid media id")
		return models.MediaItem{}, false
	}
	item, err := h.store.GetByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "media item not found")
			return models.MediaItem{}, false
		}
		log.Printf("[stream] load item %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load item")
		return models.MediaItem{}, false
	}
	return item, true
}

// sourceFor resolves the origin of an item's bytes. Items indexed from the
// server's own disk carry source id 0.
func (h *StreamHandler) sourceFor(item models.MediaItem) (models.Source, error) {
	if item.SourceID == 0 {
		return models.Source{Kind: models.SourceKindLocal, Name: "local", Enabled: true}, nil
	}
	return h.sources.GetByID(item.SourceID)
}

func (h *StreamHandler) isLocal(item models.MediaItem) bool {
	return item.SourceKind == models.SourceKindLocal && item.SourceID == 0
}

// Info probes the file and returns the stream details.
func (h *StreamHandler) Info(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	if h.isLocal(item) {
		result, err := h.prober.Probe(r.Context(), item.FilePath)
		if err == nil {
			if uerr := h.store.UpdateProbeInfo(item.ID, result.Duration, result.QualityLabel); uerr != nil {
				log.Printf("[stream] store probe info %d: %v", item.ID, uerr)
			}
			writeJSON(w, http.StatusOK, result)
			return
		}
		log.Printf("[stream] probe %s: %v", item.FilePath, err)
	}

	// Remote files (and probe failures) fall back to what the index knows.
	writeJSON(w, http.StatusOK, models.ProbeResult{
		Duration:     item.Duration,
		Size:         item.FileSize,
		Container:    probe.ContainerForExtension(filepath.Ext(item.FilePath)),
		QualityLabel: item.QualityLabel,
	})
}

// Qualities returns the transcode ladder available for the file.
func (h *StreamHandler) Qualities(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	height := 0
	if h.isLocal(item) {
		if result, err := h.prober.Probe(r.Context(), item.FilePath); err == nil {
			height = result.Video.Height
		}
	}
	if height == 0 {
		// Derive a height from the stored quality label.
		if rung, ok := probe.FindRung(item.QualityLabel); ok {
			height = rung.Height
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"source":    item.QualityLabel,
		"qualities": probe.Ladder(height),
	})
}

// Direct serves the file bytes. Web-native containers get range semantics;
// anything else is transparently transcoded to fragmented MP4 on the fly.
func (h *StreamHandler) Direct(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	container := probe.ContainerForExtension(filepath.Ext(item.FilePath))
	if !probe.IsWebNativeContainer(container) && h.isLocal(item) && h.transcoder.Available() {
		h.realtimeTranscode(w, r, item, h.defaultQuality)
		return
	}
	h.serveRange(w, r, item, container)
}

func (h *StreamHandler) serveRange(w http.ResponseWriter, r *http.Request, item models.MediaItem, container string) {
	src, err := h.sourceFor(item)
	if err != nil {
		writeError(w, http.StatusBadGateway, CodeUnavailable, "source unavailable")
		return
	}
	client, release, err := h.pool.Acquire(r.Context(), src)
	if err != nil {
		log.Printf("[stream] acquire source for %d: %v", item.ID, err)
		writeError(w, http.StatusBadGateway, CodeUnavailable, "source unavailable")
		return
	}
	defer release()

	size := item.FileSize
	if size <= 0 {
		if info, err := client.Stat(r.Context(), item.FilePath); err == nil {
			size = info.Size
		}
	}

	start, end, partial, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, CodeRangeNotSatisfiable, "requested range not satisfiable")
		return
	}

	reader, err := client.OpenRange(r.Context(), item.FilePath, start, end)
	if err != nil {
		if errors.Is(err, protocols.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "file not found on source")
			return
		}
		log.Printf("[stream] open %s: %v", item.FilePath, err)
		writeError(w, http.StatusBadGateway, CodeUnavailable, "source read failed")
		return
	}
	defer reader.Close()

	contentType := mimeByContainer[container]
	if contentType == "" {
		contentType = detectMIME(item)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	if partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method == http.MethodHead {
		return
	}
	metrics.StreamsStarted.Inc()

	if _, err := io.Copy(w, reader); err != nil {
		// Client went away mid-stream; nothing to recover.
		log.Printf("[stream] copy %d: %v", item.ID, err)
	}
}

// parseRange interprets a Range header against a known size. A missing
// header yields the whole file. The fourth return is false on an
// unsatisfiable range.
func parseRange(header string, size int64) (start, end int64, partial, ok bool) {
	// An empty file has no satisfiable ranges; serve it whole regardless of
	// what the client asked for.
	if size <= 0 {
		return 0, -1, false, true
	}
	if header == "" {
		return 0, size - 1, false, true
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, size - 1, false, true
	}
	// Only the first range of a multi-range request is honored.
	if idx := strings.Index(spec, ","); idx >= 0 {
		spec = spec[:idx]
	}
	startStr, endStr, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return 0, 0, false, false
	}

	if startStr == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false, false
	}
	end = size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, false, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return start, end, true, true
}

func detectMIME(item models.MediaItem) string {
	if item.SourceID == 0 {
		if kind, err := mimetype.DetectFile(item.FilePath); err == nil {
			return kind.String()
		}
	}
	return "application/octet-stream"
}

// Transcode streams a realtime fragmented MP4 at the requested quality.
func (h *StreamHandler) Transcode(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	quality := r.URL.Query().Get("quality")
	if quality == "" {
		quality = h.defaultQuality
	}
	h.realtimeTranscode(w, r, item, quality)
}

func (h *StreamHandler) realtimeTranscode(w http.ResponseWriter, r *http.Request, item models.MediaItem, quality string) {
	if !h.isLocal(item) {
		writeError(w, http.StatusConflict, CodeUnavailable, "transcoding is only available for local files")
		return
	}
	if !h.transcoder.Available() {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "encoder unavailable")
		return
	}
	profile, ok := transcoder.ProfileFor(quality)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unknown quality label")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	// No Content-Length: the response is chunked and unseekable.
	w.WriteHeader(http.StatusOK)
	metrics.StreamsStarted.Inc()

	err := h.transcoder.StreamTranscode(r.Context(), item.FilePath, w, profile)
	if err != nil && !errors.Is(err, context.Canceled) {
		// Headers are gone; all we can do is log.
		log.Printf("[stream] realtime transcode %d: %v", item.ID, err)
	}
}

type pretranscodeRequest struct {
	Quality string `json:"quality"`
}

// Pretranscode kicks off a cached file transcode in the background.
func (h *StreamHandler) Pretranscode(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	if !h.isLocal(item) {
		writeError(w, http.StatusConflict, CodeUnavailable, "transcoding is only available for local files")
		return
	}
	var req pretranscodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quality == "" {
		req.Quality = h.defaultQuality
	}
	profile, ok := transcoder.ProfileFor(req.Quality)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unknown quality label")
		return
	}

	output := h.transcoder.OutputPath(item.ID, profile.Label)
	if _, err := os.Stat(output); err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"message": "already cached", "output": output})
		return
	}

	go func() {
		if _, err := h.transcoder.TranscodeQuality(context.Background(), item.FilePath, profile.Label, item.ID); err != nil {
			log.Printf("[stream] pretranscode %d %s: %v", item.ID, profile.Label, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"message": "transcode started", "output": output})
}

// HLSManifest returns the cached playlist or kicks off generation and tells
// the client to poll.
func (h *StreamHandler) HLSManifest(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	adaptive := r.URL.Query().Get("adaptive") == "1"
	manifest := h.transcoder.HLSManifestPath(item.ID)
	if adaptive {
		manifest = h.transcoder.MasterManifestPath(item.ID)
	}

	if _, err := os.Stat(manifest); err == nil {
		h.cache.Touch(manifest)
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		http.ServeFile(w, r, manifest)
		return
	}

	if !h.isLocal(item) {
		writeError(w, http.StatusConflict, CodeUnavailable, "transcoding is only available for local files")
		return
	}
	if !h.transcoder.Available() {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "encoder unavailable")
		return
	}

	profile, _ := transcoder.ProfileFor(h.defaultQuality)
	go func() {
		// Generation is shared across clients; one viewer leaving must not
		// cancel it.
		var err error
		if adaptive {
			labels := []string{}
			for _, rung := range probe.Ladder(profile.Height) {
				labels = append(labels, rung.Label)
			}
			_, err = h.transcoder.GenerateAdaptiveHLS(context.Background(), item.FilePath, item.ID, labels)
		} else {
			_, err = h.transcoder.GenerateHLS(context.Background(), item.FilePath, item.ID, profile)
		}
		if err != nil {
			log.Printf("[stream] hls generation %d: %v", item.ID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "processing"})
}

// HLSSegment serves one cached transport-stream segment or a variant
// playlist from an adaptive tree.
func (h *StreamHandler) HLSSegment(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	segment := vars["segment"]
	variant := vars["variant"]
	// Neither component may carry path separators.
	for _, part := range []string{segment, variant} {
		if part != "" && (part != path.Base(part) || strings.Contains(part, "..")) {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid segment name")
			return
		}
	}
	if segment == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid segment name")
		return
	}

	segmentPath := filepath.Join(h.transcoder.HLSDir(item.ID), variant, segment)
	if _, err := os.Stat(segmentPath); err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "segment not available")
		return
	}
	h.cache.Touch(h.transcoder.HLSManifestPath(item.ID))

	switch filepath.Ext(segment) {
	case ".ts":
		w.Header().Set("Content-Type", "video/mp2t")
	case ".m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	}
	http.ServeFile(w, r, segmentPath)
}
