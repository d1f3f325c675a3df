package database

import (
	"errors"
	"path/filepath"
	"testing"

	"lunastream/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMediaRepository_InsertAndDuplicate(t *testing.T) {
	db := openTestDB(t)

	item, err := db.Media.Insert(models.MediaItem{
		Type:       models.MediaTypeMovie,
		Title:      "The Matrix",
		Year:       1999,
		FilePath:   "/movies/The Matrix (1999) 1080p.mp4",
		FileSize:   1 << 20,
		SourceKind: models.SourceKindLocal,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected assigned id")
	}

	exists, err := db.Media.Exists(models.SourceKindLocal, 0, item.FilePath)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected item to exist")
	}

	// Same path on a different source kind is a distinct item.
	exists, err = db.Media.Exists(models.SourceKindFTP, 0, item.FilePath)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("ftp variant should not exist")
	}

	// Re-inserting the same (kind, source, path) is ErrDuplicate, so callers
	// racing on the uniqueness constraint can resolve to "already indexed".
	if _, err := db.Media.Insert(models.MediaItem{
		Type:       models.MediaTypeMovie,
		Title:      "The Matrix",
		FilePath:   item.FilePath,
		SourceKind: models.SourceKindLocal,
	}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMediaRepository_Search(t *testing.T) {
	db := openTestDB(t)

	seed := []models.MediaItem{
		{Type: models.MediaTypeMovie, Title: "The Matrix", Rating: 8.7, Year: 1999, FilePath: "/m/matrix.mp4"},
		{Type: models.MediaTypeMovie, Title: "Matrix Reloaded", Rating: 7.2, Year: 2003, FilePath: "/m/reloaded.mp4"},
		{Type: models.MediaTypeMovie, Title: "Inception", Rating: 8.8, Year: 2010, FilePath: "/m/inception.mp4"},
	}
	for _, m := range seed {
		m.SourceKind = models.SourceKindLocal
		if _, err := db.Media.Insert(m); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	results, err := db.Media.Search("matrix", "", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Prefix match ranks above the substring match despite lower rating.
	if results[0].Title != "Matrix Reloaded" {
		t.Fatalf("expected prefix match first, got %q", results[0].Title)
	}
}

func TestEpisodes_NeighborsAcrossSeasons(t *testing.T) {
	db := openTestDB(t)

	show, err := db.Media.UpsertShow("Breaking Bad", models.SourceKindLocal, 0, "/tv-shows/Breaking Bad")
	if err != nil {
		t.Fatalf("upsert show: %v", err)
	}

	slots := [][2]int{{1, 1}, {1, 2}, {2, 1}}
	var eps []models.Episode
	for _, slot := range slots {
		item, err := db.Media.Insert(models.MediaItem{
			Type:       models.MediaTypeEpisode,
			Title:      "Breaking Bad",
			FilePath:   filepath.Join("/tv-shows/Breaking Bad", "s", "e", filepathName(slot)),
			SourceKind: models.SourceKindLocal,
		})
		if err != nil {
			t.Fatalf("insert episode item: %v", err)
		}
		ep, err := db.Media.InsertEpisode(models.Episode{
			TvShowID:      show.ID,
			SeasonNumber:  slot[0],
			EpisodeNumber: slot[1],
			MediaItemID:   item.ID,
		})
		if err != nil {
			t.Fatalf("insert episode: %v", err)
		}
		eps = append(eps, ep)
	}

	next, err := db.Media.NextEpisode(eps[1]) // S01E02 -> S02E01
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.SeasonNumber != 2 || next.EpisodeNumber != 1 {
		t.Fatalf("expected S02E01, got S%02dE%02d", next.SeasonNumber, next.EpisodeNumber)
	}

	prev, err := db.Media.PreviousEpisode(next) // S02E01 -> S01E02
	if err != nil {
		t.Fatalf("previous: %v", err)
	}
	if prev.SeasonNumber != 1 || prev.EpisodeNumber != 2 {
		t.Fatalf("expected S01E02, got S%02dE%02d", prev.SeasonNumber, prev.EpisodeNumber)
	}

	// Last episode of the last season has no successor.
	if _, err := db.Media.NextEpisode(eps[2]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEpisodes_DuplicateSlotResolvesToExisting(t *testing.T) {
	db := openTestDB(t)

	show, err := db.Media.UpsertShow("Severance", models.SourceKindLocal, 0, "/tv-shows/Severance")
	if err != nil {
		t.Fatalf("upsert show: %v", err)
	}
	item, err := db.Media.Insert(models.MediaItem{
		Type: models.MediaTypeEpisode, Title: "Severance",
		FilePath: "/tv-shows/Severance/S01E01.mkv", SourceKind: models.SourceKindLocal,
	})
	if err != nil {
		t.Fatalf("insert item: %v", err)
	}

	first, err := db.Media.InsertEpisode(models.Episode{
		TvShowID: show.ID, SeasonNumber: 1, EpisodeNumber: 1, MediaItemID: item.ID,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	item2, err := db.Media.Insert(models.MediaItem{
		Type: models.MediaTypeEpisode, Title: "Severance",
		FilePath: "/tv-shows/Severance/S01E01.dup.mkv", SourceKind: models.SourceKindLocal,
	})
	if err != nil {
		t.Fatalf("insert item2: %v", err)
	}
	again, err := db.Media.InsertEpisode(models.Episode{
		TvShowID: show.ID, SeasonNumber: 1, EpisodeNumber: 1, MediaItemID: item2.ID,
	})
	if err != nil {
		t.Fatalf("duplicate insert should resolve, got %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected existing episode %d, got %d", first.ID, again.ID)
	}
}

func TestMediaDelete_CascadesToSubtitlesAndWatch(t *testing.T) {
	db := openTestDB(t)

	user, err := db.Users.Insert("alice", "hash")
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	item, err := db.Media.Insert(models.MediaItem{
		Type: models.MediaTypeMovie, Title: "Heat",
		FilePath: "/m/heat.mp4", SourceKind: models.SourceKindLocal,
	})
	if err != nil {
		t.Fatalf("insert item: %v", err)
	}
	if _, err := db.Subtitles.Insert(models.Subtitle{
		MediaItemID: item.ID, Language: "en", Label: "English",
		FilePath: "/m/heat.en.srt", Format: models.SubtitleSRT,
	}); err != nil {
		t.Fatalf("insert subtitle: %v", err)
	}
	if _, err := db.Watch.Upsert(models.WatchRecord{
		UserID: user.ID, MediaItemID: item.ID, Position: 10, Duration: 100, Progress: 0.1,
	}); err != nil {
		t.Fatalf("upsert watch: %v", err)
	}

	if err := db.Media.Delete(item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	subs, err := db.Subtitles.ListByMediaItem(item.ID)
	if err != nil {
		t.Fatalf("list subtitles: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected subtitles to cascade, got %d", len(subs))
	}
	if _, err := db.Watch.Get(user.ID, item.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected watch record gone, got %v", err)
	}
}

func filepathName(slot [2]int) string {
	return "S" + string(rune('0'+slot[0])) + "E" + string(rune('0'+slot[1])) + ".mkv"
}
