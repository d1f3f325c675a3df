package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lunastream/internal/database"
	"lunastream/models"
	"lunastream/services/protocols"
)

func newTestEnv(t *testing.T) (*Service, *database.DB, models.Source) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cipher, err := protocols.NewCredentialCipher("indexer-test-secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	clientPool := protocols.NewPool(cipher)
	t.Cleanup(clientPool.Shutdown)

	root := t.TempDir()
	writeFile := func(rel string, size int) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeFile("Movies/The Matrix (1999) 1080p.mp4", 1024*1024)
	writeFile("tv-shows/Breaking Bad/Breaking.Bad.S01E02.720p.mkv", 2*1024*1024)
	writeFile("tv-shows/Breaking Bad/Breaking.Bad.S01E02.en.srt", 100)

	src := models.Source{
		Name:     "library",
		Kind:     models.SourceKindLocal,
		BasePath: root,
		Enabled:  true,
	}
	svc := NewService(db.Media, db.Subtitles, clientPool, nil, []string{".mp4", ".mkv"})
	return svc, db, src
}

func TestScanIndexesLibrary(t *testing.T) {
	svc, db, src := newTestEnv(t)

	if err := svc.Scan(context.Background(), src); err != nil {
		t.Fatalf("scan: %v", err)
	}

	progress := svc.Progress()
	if progress.Running {
		t.Fatal("scan must clear the running flag")
	}
	if progress.TotalFiles != 2 || progress.ScannedFiles != 2 || progress.AddedFiles != 2 {
		t.Fatalf("progress = %+v", progress)
	}
	if len(progress.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", progress.Errors)
	}

	movies, err := db.Media.ListByType(models.MediaTypeMovie)
	if err != nil {
		t.Fatal(err)
	}
	if len(movies) != 1 || movies[0].Title != "The Matrix" || movies[0].Year != 1999 {
		t.Fatalf("movies = %+v", movies)
	}
	if movies[0].FileSize != 1024*1024 {
		t.Fatalf("movie size = %d", movies[0].FileSize)
	}

	show, err := db.Media.GetShowByTitle("Breaking Bad")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	episodes, err := db.Media.ListEpisodes(show.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(episodes) != 1 || episodes[0].SeasonNumber != 1 || episodes[0].EpisodeNumber != 2 {
		t.Fatalf("episodes = %+v", episodes)
	}
	if episodes[0].Title != "" {
		t.Fatalf("episode title = %q", episodes[0].Title)
	}

	subs, err := db.Subtitles.ListByMediaItem(episodes[0].MediaItemID)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("subtitles = %+v", subs)
	}
	if subs[0].Language != "en" || subs[0].Label != "English" || !subs[0].IsDefault {
		t.Fatalf("subtitle = %+v", subs[0])
	}
}

func TestScanIsIdempotent(t *testing.T) {
	svc, db, src := newTestEnv(t)

	if err := svc.Scan(context.Background(), src); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := svc.Scan(context.Background(), src); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	progress := svc.Progress()
	if progress.AddedFiles != 0 {
		t.Fatalf("second scan added %d files", progress.AddedFiles)
	}
	if progress.ScannedFiles != 2 {
		t.Fatalf("second scan scanned %d files", progress.ScannedFiles)
	}

	counts, err := db.Media.CountByType()
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.MediaTypeMovie] != 1 || counts[models.MediaTypeEpisode] != 1 || counts[models.MediaTypeTvShow] != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestScanRejectsConcurrent(t *testing.T) {
	svc, _, src := newTestEnv(t)

	svc.mu.Lock()
	svc.progress.Running = true
	svc.mu.Unlock()

	if err := svc.Scan(context.Background(), src); !errors.Is(err, ErrScanBusy) {
		t.Fatalf("err = %v, want ErrScanBusy", err)
	}
	if err := svc.StartScan(src); !errors.Is(err, ErrScanBusy) {
		t.Fatalf("err = %v, want ErrScanBusy", err)
	}
}

func TestStartScanClaimsSlotBeforeReturning(t *testing.T) {
	svc, db, src := newTestEnv(t)

	if err := svc.StartScan(src); err != nil {
		t.Fatalf("start scan: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		progress := svc.Progress()
		if !progress.Running && progress.ScannedFiles == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan never finished, progress = %+v", progress)
		}
		time.Sleep(5 * time.Millisecond)
	}

	counts, err := db.Media.CountByType()
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.MediaTypeMovie] != 1 || counts[models.MediaTypeEpisode] != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestScanDuplicateEpisodeSlotKeepsOneFile(t *testing.T) {
	svc, db, src := newTestEnv(t)

	// A second release of an episode the library already has one file for.
	extra := filepath.Join(src.BasePath, "tv-shows/Breaking Bad/Breaking.Bad.S01E02.1080p.mkv")
	if err := os.WriteFile(extra, make([]byte, 512), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := svc.Scan(context.Background(), src); err != nil {
		t.Fatalf("scan: %v", err)
	}

	progress := svc.Progress()
	if progress.ScannedFiles != 3 || progress.AddedFiles != 2 {
		t.Fatalf("progress = %+v", progress)
	}
	if len(progress.Errors) != 1 || !strings.Contains(progress.Errors[0], "S01E02") {
		t.Fatalf("errors = %v", progress.Errors)
	}

	show, err := db.Media.GetShowByTitle("Breaking Bad")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	episodes, err := db.Media.ListEpisodes(show.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(episodes) != 1 {
		t.Fatalf("episodes = %+v", episodes)
	}

	// The losing file left no orphaned media item behind.
	counts, err := db.Media.CountByType()
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.MediaTypeEpisode] != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestScanSubtitleOnlyDirectoryAddsNothing(t *testing.T) {
	svc, db, src := newTestEnv(t)

	subsOnly := filepath.Join(src.BasePath, "Subs")
	if err := os.MkdirAll(subsOnly, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(subsOnly, "orphan.en.srt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := svc.Scan(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	counts, err := db.Media.CountByType()
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.MediaTypeMovie] != 1 || counts[models.MediaTypeEpisode] != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}
