package database

import (
	"errors"
	"math"
	"testing"

	"lunastream/models"
)

func seedUserAndMovie(t *testing.T, db *DB) (models.User, models.MediaItem) {
	t.Helper()
	user, err := db.Users.Insert("bob", "hash")
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	item, err := db.Media.Insert(models.MediaItem{
		Type: models.MediaTypeMovie, Title: "Alien", Duration: 7000,
		FilePath: "/m/alien.mp4", SourceKind: models.SourceKindLocal,
	})
	if err != nil {
		t.Fatalf("insert item: %v", err)
	}
	return user, item
}

func TestWatchRepository_UpsertInvariants(t *testing.T) {
	db := openTestDB(t)
	user, item := seedUserAndMovie(t, db)

	rec, err := db.Watch.Upsert(models.WatchRecord{
		UserID: user.ID, MediaItemID: item.ID,
		Position: 3500, Duration: 7000, Progress: 0.5,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.Completed {
		t.Fatal("halfway through should not be completed")
	}
	if math.Abs(rec.Progress-0.5) > 1e-9 {
		t.Fatalf("progress = %v, want 0.5", rec.Progress)
	}
	if rec.WatchCount != 0 {
		t.Fatalf("watch count = %d, want 0 before completion", rec.WatchCount)
	}

	rec, err = db.Watch.Upsert(models.WatchRecord{
		UserID: user.ID, MediaItemID: item.ID,
		Position: 6700, Duration: 7000, Progress: 6700.0 / 7000, Completed: true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !rec.Completed {
		t.Fatal("95%+ should be completed")
	}
	if rec.WatchCount != 1 {
		t.Fatalf("first completion should count once, got %d", rec.WatchCount)
	}

	// A player keeps reporting positions through the final stretch. Those
	// reports belong to the same watch and must not inflate the count.
	for _, pos := range []float64{6800, 6900, 7000} {
		rec, err = db.Watch.Upsert(models.WatchRecord{
			UserID: user.ID, MediaItemID: item.ID,
			Position: pos, Duration: 7000, Progress: pos / 7000, Completed: true,
		})
		if err != nil {
			t.Fatalf("upsert at %v: %v", pos, err)
		}
	}
	if rec.WatchCount != 1 {
		t.Fatalf("polling within one watch inflated count to %d, want 1", rec.WatchCount)
	}

	// A rewatch starts from the top: progress resets, the completed flag
	// clears, and only crossing the threshold again counts watch number two.
	rec, err = db.Watch.Upsert(models.WatchRecord{
		UserID: user.ID, MediaItemID: item.ID,
		Position: 100, Duration: 7000, Progress: 100.0 / 7000,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.Completed || rec.WatchCount != 1 {
		t.Fatalf("reset should keep count at 1, got %+v", rec)
	}

	rec, err = db.Watch.Upsert(models.WatchRecord{
		UserID: user.ID, MediaItemID: item.ID,
		Position: 7000, Duration: 7000, Progress: 1, Completed: true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.WatchCount != 2 {
		t.Fatalf("second watch completed: count = %d, want 2", rec.WatchCount)
	}
}

func TestWatchRepository_MarkWatchedCountsRewatches(t *testing.T) {
	db := openTestDB(t)
	user, item := seedUserAndMovie(t, db)

	rec, err := db.Watch.MarkWatched(user.ID, item.ID)
	if err != nil {
		t.Fatalf("mark watched: %v", err)
	}
	if !rec.Completed || rec.Progress != 1 || rec.WatchCount != 1 {
		t.Fatalf("rec = %+v", rec)
	}

	// Marking an already-completed record is an explicit rewatch.
	rec, err = db.Watch.MarkWatched(user.ID, item.ID)
	if err != nil {
		t.Fatalf("mark watched again: %v", err)
	}
	if rec.WatchCount != 2 {
		t.Fatalf("watch count = %d, want 2", rec.WatchCount)
	}

	// Completing a watch already in progress counts it once, not twice.
	if _, err := db.Watch.Upsert(models.WatchRecord{
		UserID: user.ID, MediaItemID: item.ID,
		Position: 3500, Duration: 7000, Progress: 0.5,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec, err = db.Watch.MarkWatched(user.ID, item.ID)
	if err != nil {
		t.Fatalf("mark watched: %v", err)
	}
	if rec.WatchCount != 3 || rec.Position != 7000 {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestWatchRepository_PercentageMigrationOnRead(t *testing.T) {
	db := openTestDB(t)
	user, item := seedUserAndMovie(t, db)

	// Simulate a row written by an old build that stored 0-100 percentages.
	if _, err := db.Connection().Exec(`INSERT INTO watch_records
		(user_id, media_item_id, position, duration, progress, completed)
		VALUES (?, ?, 3500, 7000, 50.0, 0)`, user.ID, item.ID); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	rec, err := db.Watch.Get(user.ID, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if math.Abs(rec.Progress-0.5) > 1e-9 {
		t.Fatalf("legacy progress not normalized: %v", rec.Progress)
	}
}

func TestWatchRepository_ContinueWatchingAndStats(t *testing.T) {
	db := openTestDB(t)
	user, movie := seedUserAndMovie(t, db)

	other, err := db.Media.Insert(models.MediaItem{
		Type: models.MediaTypeMovie, Title: "Blade Runner", Duration: 7000,
		FilePath: "/m/br.mp4", SourceKind: models.SourceKindLocal,
	})
	if err != nil {
		t.Fatalf("insert item: %v", err)
	}

	if _, err := db.Watch.Upsert(models.WatchRecord{
		UserID: user.ID, MediaItemID: movie.ID,
		Position: 1000, Duration: 7000, Progress: 1000.0 / 7000,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := db.Watch.Upsert(models.WatchRecord{
		UserID: user.ID, MediaItemID: other.ID,
		Position: 7000, Duration: 7000, Progress: 1, Completed: true,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	items, err := db.Watch.ContinueWatching(user.ID, 10)
	if err != nil {
		t.Fatalf("continue watching: %v", err)
	}
	if len(items) != 1 || items[0].Item.ID != movie.ID {
		t.Fatalf("expected only the in-progress movie, got %d items", len(items))
	}

	stats, err := db.Watch.Stats(user.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalWatched != 1 || stats.InProgress != 1 || stats.MoviesWatched != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalSeconds != 8000 {
		t.Fatalf("total seconds = %v, want 8000", stats.TotalSeconds)
	}
}

func TestWatchRepository_DeleteMissing(t *testing.T) {
	db := openTestDB(t)
	user, item := seedUserAndMovie(t, db)

	if err := db.Watch.Delete(user.ID, item.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
