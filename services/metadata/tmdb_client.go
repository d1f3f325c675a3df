package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultTMDBBaseURL = "https://api.themoviedb.org/3"
	tmdbImageBaseURL   = "https://image.tmdb.org/t/p"
	// Optimized image sizes instead of "original": posters render at card
	// size, backdrops at 1080p backgrounds.
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"

	maxCastNames = 5
)

var errNotConfigured = errors.New("tmdb api key not configured")

type tmdbClient struct {
	apiKey   string
	language string
	baseURL  string
	httpc    *http.Client

	// Rate limiting
	throttleMu  sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func newTMDBClient(apiKey, language string, httpc *http.Client) *tmdbClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &tmdbClient{
		apiKey:      strings.TrimSpace(apiKey),
		language:    language,
		baseURL:     defaultTMDBBaseURL,
		httpc:       httpc,
		minInterval: 20 * time.Millisecond, // TMDB has generous rate limits
	}
}

func (c *tmdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

// doGET performs an HTTP GET with rate limiting and retry with exponential
// backoff. query may be nil.
func (c *tmdbClient) doGET(ctx context.Context, apiPath string, query url.Values, v any) error {
	if !c.isConfigured() {
		return errNotConfigured
	}

	endpoint, err := url.JoinPath(c.baseURL, apiPath)
	if err != nil {
		return err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	if lang := strings.TrimSpace(c.language); lang != "" {
		query.Set("language", normalizeLanguage(lang))
	} else {
		query.Set("language", "en-US")
	}
	endpoint = endpoint + "?" + query.Encode()

	var lastErr error
	backoff := 300 * time.Millisecond

	for attempt := 0; attempt < 3; attempt++ {
		c.throttleMu.Lock()
		since := time.Since(c.lastRequest)
		if since < c.minInterval {
			time.Sleep(c.minInterval - since)
		}
		c.lastRequest = time.Now()
		c.throttleMu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("[tmdb] http error (attempt %d/3): %v", attempt+1, err)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			log.Printf("[tmdb] rate limited or server error (attempt %d/3): status %d", attempt+1, resp.StatusCode)
			lastErr = fmt.Errorf("tmdb request failed: %s", resp.Status)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return fmt.Errorf("tmdb request failed: %s", resp.Status)
		}

		err = json.NewDecoder(resp.Body).Decode(v)
		resp.Body.Close()
		if err != nil {
			return err
		}
		return nil
	}

	return lastErr
}

type tmdbSearchResult struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	VoteAverage  float64 `json:"vote_average"`
}

type tmdbSearchResponse struct {
	Results []tmdbSearchResult `json:"results"`
}

type tmdbGenre struct {
	Name string `json:"name"`
}

type tmdbMovieDetails struct {
	ID           int64       `json:"id"`
	Title        string      `json:"title"`
	Overview     string      `json:"overview"`
	PosterPath   string      `json:"poster_path"`
	BackdropPath string      `json:"backdrop_path"`
	ReleaseDate  string      `json:"release_date"`
	VoteAverage  float64     `json:"vote_average"`
	Genres       []tmdbGenre `json:"genres"`
}

type tmdbTVDetails struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Overview         string      `json:"overview"`
	PosterPath       string      `json:"poster_path"`
	BackdropPath     string      `json:"backdrop_path"`
	FirstAirDate     string      `json:"first_air_date"`
	Status           string      `json:"status"`
	NumberOfSeasons  int         `json:"number_of_seasons"`
	NumberOfEpisodes int         `json:"number_of_episodes"`
	VoteAverage      float64     `json:"vote_average"`
	Genres           []tmdbGenre `json:"genres"`
}

type tmdbEpisodeDetails struct {
	Name      string `json:"name"`
	Overview  string `json:"overview"`
	AirDate   string `json:"air_date"`
	StillPath string `json:"still_path"`
}

type tmdbCreditsResponse struct {
	Cast []struct {
		Name string `json:"name"`
	} `json:"cast"`
}

// searchMovie returns the best match for a movie title, optionally pinned to
// a release year.
func (c *tmdbClient) searchMovie(ctx context.Context, title string, year int) (tmdbSearchResult, error) {
	query := url.Values{"query": {title}}
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}
	var payload tmdbSearchResponse
	if err := c.doGET(ctx, "search/movie", query, &payload); err != nil {
		return tmdbSearchResult{}, err
	}
	if len(payload.Results) == 0 {
		return tmdbSearchResult{}, fmt.Errorf("no tmdb match for movie %q", title)
	}
	return payload.Results[0], nil
}

// searchTV returns the best match for a show name.
func (c *tmdbClient) searchTV(ctx context.Context, name string) (tmdbSearchResult, error) {
	var payload tmdbSearchResponse
	if err := c.doGET(ctx, "search/tv", url.Values{"query": {name}}, &payload); err != nil {
		return tmdbSearchResult{}, err
	}
	if len(payload.Results) == 0 {
		return tmdbSearchResult{}, fmt.Errorf("no tmdb match for show %q", name)
	}
	return payload.Results[0], nil
}

func (c *tmdbClient) movieDetails(ctx context.Context, tmdbID int64) (tmdbMovieDetails, error) {
	var payload tmdbMovieDetails
	err := c.doGET(ctx, fmt.Sprintf("movie/%d", tmdbID), nil, &payload)
	return payload, err
}

func (c *tmdbClient) tvDetails(ctx context.Context, tmdbID int64) (tmdbTVDetails, error) {
	var payload tmdbTVDetails
	err := c.doGET(ctx, fmt.Sprintf("tv/%d", tmdbID), nil, &payload)
	return payload, err
}

func (c *tmdbClient) episodeDetails(ctx context.Context, tvID int64, season, episode int) (tmdbEpisodeDetails, error) {
	var payload tmdbEpisodeDetails
	err := c.doGET(ctx, fmt.Sprintf("tv/%d/season/%d/episode/%d", tvID, season, episode), nil, &payload)
	return payload, err
}

// topCast returns the leading cast names, comma-joined.
func (c *tmdbClient) topCast(ctx context.Context, mediaType string, tmdbID int64) (string, error) {
	var payload tmdbCreditsResponse
	if err := c.doGET(ctx, fmt.Sprintf("%s/%d/credits", mediaType, tmdbID), nil, &payload); err != nil {
		return "", err
	}
	names := make([]string, 0, maxCastNames)
	for _, member := range payload.Cast {
		if len(names) == maxCastNames {
			break
		}
		if name := strings.TrimSpace(member.Name); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", "), nil
}

func buildTMDBImage(imagePath, size string) string {
	trimmed := strings.TrimSpace(imagePath)
	if trimmed == "" {
		return ""
	}
	fullPath := path.Join(size, strings.TrimPrefix(trimmed, "/"))
	return fmt.Sprintf("%s/%s", tmdbImageBaseURL, fullPath)
}

func joinGenres(genres []tmdbGenre) string {
	names := make([]string, 0, len(genres))
	for _, g := range genres {
		if name := strings.TrimSpace(g.Name); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

func parseTMDBYear(date string) int {
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			return y
		}
	}
	return 0
}

func normalizeLanguage(lang string) string {
	lang = strings.ReplaceAll(lang, "_", "-")
	if len(lang) == 2 {
		return strings.ToLower(lang) + "-US"
	}
	if len(lang) >= 5 {
		return strings.ToLower(lang[:2]) + "-" + strings.ToUpper(lang[3:])
	}
	return "en-US"
}
