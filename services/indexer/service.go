package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"lunastream/internal/database"
	"lunastream/internal/metrics"
	"lunastream/models"
	"lunastream/services/protocols"
)

// ErrScanBusy rejects a scan while another is running. Scans are never
// queued.
var ErrScanBusy = errors.New("a scan is already running")

const enrichWorkers = 3

// Enricher fetches external metadata for a freshly indexed item.
type Enricher interface {
	EnrichMediaItem(ctx context.Context, item models.MediaItem) error
}

// Progress is the observable state of the current (or last) scan.
type Progress struct {
	Running         bool     `json:"running"`
	SourceName      string   `json:"source_name,omitempty"`
	TotalFiles      int      `json:"total_files"`
	ScannedFiles    int      `json:"scanned_files"`
	AddedFiles      int      `json:"added_files"`
	MetadataFetched int      `json:"metadata_fetched"`
	Errors          []string `json:"errors"`
}

// Service walks sources and turns their video files into library entries.
type Service struct {
	media     *database.MediaRepository
	subtitles *database.SubtitleRepository
	pool      *protocols.Pool
	enricher  Enricher
	videoExts map[string]struct{}

	mu       sync.RWMutex
	progress Progress
}

// NewService wires the indexer. enricher may be nil to disable metadata
// fetching.
func NewService(media *database.MediaRepository, subtitles *database.SubtitleRepository, clientPool *protocols.Pool, enricher Enricher, videoExtensions []string) *Service {
	exts := make(map[string]struct{}, len(videoExtensions))
	for _, ext := range videoExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	return &Service{
		media:     media,
		subtitles: subtitles,
		pool:      clientPool,
		enricher:  enricher,
		videoExts: exts,
	}
}

// Progress returns a snapshot of the current scan state.
func (s *Service) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.progress
	snapshot.Errors = append([]string(nil), s.progress.Errors...)
	return snapshot
}

// Scan walks one source and indexes everything new under it. Only one scan
// runs per process; a concurrent call fails with ErrScanBusy.
func (s *Service) Scan(ctx context.Context, src models.Source) error {
	if err := s.begin(src.Name); err != nil {
		return err
	}
	return s.run(ctx, src)
}

// StartScan reserves the scan slot and runs the scan in the background. A
// busy scanner is reported to the caller before any goroutine is spawned, so
// two concurrent starts cannot both succeed.
func (s *Service) StartScan(src models.Source) error {
	if err := s.begin(src.Name); err != nil {
		return err
	}
	go func() {
		if err := s.run(context.Background(), src); err != nil {
			log.Printf("[indexer] scan %s: %v", src.Name, err)
		}
	}()
	return nil
}

// begin claims the single scan slot or fails with ErrScanBusy.
func (s *Service) begin(sourceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress.Running {
		return ErrScanBusy
	}
	s.progress = Progress{Running: true, SourceName: sourceName}
	return nil
}

// run executes a scan whose slot was already claimed by begin.
func (s *Service) run(ctx context.Context, src models.Source) error {
	metrics.ScanRunning.Set(1)
	defer func() {
		s.mu.Lock()
		s.progress.Running = false
		s.mu.Unlock()
		metrics.ScanRunning.Set(0)
	}()

	client, release, err := s.pool.Acquire(ctx, src)
	if err != nil {
		s.recordError(fmt.Sprintf("connect %s: %v", src.Name, err))
		return err
	}
	defer release()

	// First pass: collect every directory holding video files so the
	// progress total is known before any insert happens.
	var dirs []listing
	s.walk(ctx, client, protocols.ScanRoot(src), &dirs)

	total := 0
	for _, dir := range dirs {
		total += len(dir.videos)
	}
	s.mu.Lock()
	s.progress.TotalFiles = total
	s.mu.Unlock()
	log.Printf("[indexer] scan %s: %d video files in %d directories", src.Name, total, len(dirs))

	enrich := pool.New().WithMaxGoroutines(enrichWorkers)
	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		s.indexDirectory(ctx, client, src, dir, enrich)
	}
	enrich.Wait()

	if err := ctx.Err(); err != nil {
		s.recordError(fmt.Sprintf("scan aborted: %v", err))
		return err
	}
	return nil
}

// listing is one directory's entries, split by role.
type listing struct {
	path    string
	videos  []models.RemoteEntry
	entries []models.RemoteEntry
}

// walk gathers directory listings depth-first. A directory that fails to
// list is recorded and its subtree skipped.
func (s *Service) walk(ctx context.Context, client protocols.Client, dir string, out *[]listing) {
	if ctx.Err() != nil {
		return
	}
	entries, err := client.List(ctx, dir)
	if err != nil {
		s.recordError(fmt.Sprintf("list %s: %v", dir, err))
		return
	}

	current := listing{path: dir, entries: entries}
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if _, ok := s.videoExts[strings.ToLower(path.Ext(entry.Name))]; ok {
			current.videos = append(current.videos, entry)
		}
	}
	if len(current.videos) > 0 {
		*out = append(*out, current)
	}

	for _, entry := range entries {
		if entry.IsDir {
			s.walk(ctx, client, entry.Path, out)
		}
	}
}

func (s *Service) indexDirectory(ctx context.Context, client protocols.Client, src models.Source, dir listing, enrich *pool.Pool) {
	for _, video := range dir.videos {
		if ctx.Err() != nil {
			return
		}
		added, err := s.indexFile(ctx, client, src, dir, video, enrich)
		s.mu.Lock()
		s.progress.ScannedFiles++
		if added {
			s.progress.AddedFiles++
		}
		s.mu.Unlock()
		if err != nil {
			s.recordError(fmt.Sprintf("%s: %v", video.Path, err))
		}
	}
}

// indexFile inserts one video file plus its sidecar subtitles. Returns
// whether a new MediaItem was created.
func (s *Service) indexFile(ctx context.Context, client protocols.Client, src models.Source, dir listing, video models.RemoteEntry, enrich *pool.Pool) (bool, error) {
	exists, err := s.media.Exists(src.Kind, src.ID, video.Path)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	size := video.Size
	if size == 0 {
		if info, err := client.Stat(ctx, video.Path); err == nil {
			size = info.Size
		}
	}

	var item models.MediaItem
	if IsEpisodePath(video.Path) {
		item, err = s.indexEpisode(src, dir, video, size)
	} else {
		item, err = s.indexMovie(src, video, size)
	}
	if err != nil {
		// A uniqueness race resolves to "already indexed".
		if errors.Is(err, database.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}

	s.attachSubtitles(dir, video, item)
	s.dispatchEnrichment(ctx, enrich, item)
	return true, nil
}

func (s *Service) indexMovie(src models.Source, video models.RemoteEntry, size int64) (models.MediaItem, error) {
	title, year := ParseMovie(video.Name)
	if title == "" {
		title = strings.TrimSuffix(video.Name, path.Ext(video.Name))
	}
	return s.media.Insert(models.MediaItem{
		Type:       models.MediaTypeMovie,
		Title:      title,
		Year:       year,
		FilePath:   video.Path,
		FileSize:   size,
		SourceKind: src.Kind,
		SourceID:   src.ID,
	})
}

func (s *Service) indexEpisode(src models.Source, dir listing, video models.RemoteEntry, size int64) (models.MediaItem, error) {
	ref, ok := ParseEpisode(video.Path)
	if !ok {
		// Classified as an episode but unparseable; fall back to movie rules.
		return s.indexMovie(src, video, size)
	}

	show, err := s.media.UpsertShow(ref.ShowName, src.Kind, src.ID, dir.path)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("upsert show %q: %w", ref.ShowName, err)
	}

	title := ref.Title
	if title == "" {
		title = fmt.Sprintf("%s S%02dE%02d", ref.ShowName, ref.Season, ref.Episode)
	}
	item, err := s.media.Insert(models.MediaItem{
		Type:       models.MediaTypeEpisode,
		Title:      title,
		FilePath:   video.Path,
		FileSize:   size,
		SourceKind: src.Kind,
		SourceID:   src.ID,
	})
	if err != nil {
		return models.MediaItem{}, err
	}

	ep, err := s.media.InsertEpisode(models.Episode{
		TvShowID:      show.ID,
		SeasonNumber:  ref.Season,
		EpisodeNumber: ref.Episode,
		MediaItemID:   item.ID,
		Title:         ref.Title,
	})
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("insert episode: %w", err)
	}
	if ep.MediaItemID != item.ID {
		// Another file already holds this slot, usually a second release of
		// the same episode. Keep the first file and drop the newcomer.
		if delErr := s.media.Delete(item.ID); delErr != nil {
			log.Printf("[indexer] delete orphaned item %d: %v", item.ID, delErr)
		}
		return models.MediaItem{}, fmt.Errorf("%s S%02dE%02d already indexed from another file",
			ref.ShowName, ref.Season, ref.Episode)
	}
	return item, nil
}

// attachSubtitles scans the directory listing for sidecar files whose stem
// extends the video's stem.
func (s *Service) attachSubtitles(dir listing, video models.RemoteEntry, item models.MediaItem) {
	videoStem := strings.TrimSuffix(video.Name, path.Ext(video.Name))
	for _, entry := range dir.entries {
		if entry.IsDir {
			continue
		}
		format, ok := SubtitleFormatFor(entry.Name)
		if !ok {
			continue
		}
		stem := strings.TrimSuffix(entry.Name, path.Ext(entry.Name))
		if !sidecarMatches(videoStem, stem) {
			continue
		}
		exists, err := s.subtitles.ExistsForPath(item.ID, entry.Path)
		if err != nil || exists {
			continue
		}

		tag, label := SubtitleLanguage(videoStem, entry.Name)
		if _, err := s.subtitles.Insert(models.Subtitle{
			MediaItemID: item.ID,
			Language:    tag,
			Label:       label,
			FilePath:    entry.Path,
			Format:      format,
		}); err != nil {
			s.recordError(fmt.Sprintf("subtitle %s: %v", entry.Path, err))
		}
	}
}

// sidecarMatches pairs a subtitle stem with a video stem. The sidecar either
// extends the full video name ("Movie.mkv" + "Movie.en.srt") or names the
// release without its quality tags ("Show.S01E02.720p.mkv" +
// "Show.S01E02.en.srt").
func sidecarMatches(videoStem, subtitleStem string) bool {
	if strings.HasPrefix(subtitleStem, videoStem) {
		return true
	}
	base := subtitleStem
	if idx := strings.LastIndexAny(base, "._- "); idx > 0 {
		base = base[:idx]
	}
	return base != "" && strings.HasPrefix(videoStem, base)
}

func (s *Service) dispatchEnrichment(ctx context.Context, enrich *pool.Pool, item models.MediaItem) {
	if s.enricher == nil {
		return
	}
	enrich.Go(func() {
		if err := s.enricher.EnrichMediaItem(ctx, item); err != nil {
			s.recordError(fmt.Sprintf("enrich %q: %v", item.Title, err))
			return
		}
		s.mu.Lock()
		s.progress.MetadataFetched++
		s.mu.Unlock()
	})
}

func (s *Service) recordError(msg string) {
	log.Printf("[indexer] %s", msg)
	s.mu.Lock()
	s.progress.Errors = append(s.progress.Errors, msg)
	s.mu.Unlock()
}
