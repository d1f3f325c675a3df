package metadata

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"lunastream/internal/database"
	"lunastream/models"
)

// Service enriches library entries with external movie/TV metadata. When no
// API key is configured every call is a cheap no-op.
type Service struct {
	media *database.MediaRepository
	tmdb  *tmdbClient
}

func NewService(media *database.MediaRepository, apiKey, language string, httpc *http.Client) *Service {
	return &Service{
		media: media,
		tmdb:  newTMDBClient(apiKey, language, httpc),
	}
}

// Enabled reports whether a provider API key is configured.
func (s *Service) Enabled() bool {
	return s.tmdb.isConfigured()
}

// EnrichMediaItem fetches and stores metadata for one library entry.
func (s *Service) EnrichMediaItem(ctx context.Context, item models.MediaItem) error {
	if !s.Enabled() {
		return nil
	}
	switch item.Type {
	case models.MediaTypeMovie:
		return s.enrichMovie(ctx, item)
	case models.MediaTypeEpisode:
		return s.enrichEpisode(ctx, item)
	case models.MediaTypeTvShow:
		show, err := s.media.GetShowByTitle(item.Title)
		if err != nil {
			return err
		}
		_, err = s.enrichShow(ctx, show)
		return err
	default:
		return fmt.Errorf("unknown media type %q", item.Type)
	}
}

func (s *Service) enrichMovie(ctx context.Context, item models.MediaItem) error {
	match, err := s.tmdb.searchMovie(ctx, item.Title, item.Year)
	if err != nil {
		return err
	}
	details, err := s.tmdb.movieDetails(ctx, match.ID)
	if err != nil {
		return err
	}
	cast, err := s.tmdb.topCast(ctx, "movie", match.ID)
	if err != nil {
		// Cast is decoration; the rest of the record is still worth keeping.
		log.Printf("[metadata] cast for %q: %v", item.Title, err)
	}

	year := item.Year
	if year == 0 {
		year = parseTMDBYear(details.ReleaseDate)
	}
	return s.media.UpdateMetadata(item.ID,
		strconv.FormatInt(details.ID, 10),
		buildTMDBImage(details.PosterPath, tmdbPosterSize),
		buildTMDBImage(details.BackdropPath, tmdbBackdropSize),
		details.Overview,
		details.VoteAverage,
		joinGenres(details.Genres),
		cast,
		year,
	)
}

// enrichShow resolves and stores show-level metadata, returning the provider
// id for episode lookups.
func (s *Service) enrichShow(ctx context.Context, show models.TvShow) (int64, error) {
	if show.ProviderID != "" {
		id, err := strconv.ParseInt(show.ProviderID, 10, 64)
		if err == nil {
			return id, nil
		}
	}

	match, err := s.tmdb.searchTV(ctx, show.Title)
	if err != nil {
		return 0, err
	}
	details, err := s.tmdb.tvDetails(ctx, match.ID)
	if err != nil {
		return 0, err
	}

	if err := s.media.UpdateShowMetadata(show.ID,
		strconv.FormatInt(details.ID, 10),
		details.Overview,
		details.FirstAirDate,
		details.Status,
		buildTMDBImage(details.PosterPath, tmdbPosterSize),
		buildTMDBImage(details.BackdropPath, tmdbBackdropSize),
		joinGenres(details.Genres),
		details.NumberOfSeasons,
		details.NumberOfEpisodes,
	); err != nil {
		return 0, err
	}

	cast, err := s.tmdb.topCast(ctx, "tv", details.ID)
	if err != nil {
		log.Printf("[metadata] cast for %q: %v", show.Title, err)
	}
	if err := s.media.UpdateMetadata(show.MediaItemID,
		strconv.FormatInt(details.ID, 10),
		buildTMDBImage(details.PosterPath, tmdbPosterSize),
		buildTMDBImage(details.BackdropPath, tmdbBackdropSize),
		details.Overview,
		details.VoteAverage,
		joinGenres(details.Genres),
		cast,
		parseTMDBYear(details.FirstAirDate),
	); err != nil {
		return 0, err
	}
	return details.ID, nil
}

func (s *Service) enrichEpisode(ctx context.Context, item models.MediaItem) error {
	episode, err := s.media.GetEpisodeByMediaItem(item.ID)
	if err != nil {
		return err
	}
	show, err := s.media.GetShowByID(episode.TvShowID)
	if err != nil {
		return err
	}
	tvID, err := s.enrichShow(ctx, show)
	if err != nil {
		return err
	}

	details, err := s.tmdb.episodeDetails(ctx, tvID, episode.SeasonNumber, episode.EpisodeNumber)
	if err != nil {
		return err
	}
	return s.media.UpdateEpisodeMetadata(episode.ID,
		details.Name,
		details.Overview,
		details.AirDate,
		buildTMDBImage(details.StillPath, tmdbBackdropSize),
	)
}
