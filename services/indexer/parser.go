package indexer

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"lunastream/models"
)

// tvShowsSegment is the path segment that marks episodic content.
const tvShowsSegment = "tv-shows"

var (
	episodePattern = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*E(\d{1,3})\b|\b(\d{1,2})x(\d{1,3})\b`)
	yearPattern    = regexp.MustCompile(`[\(\[]?\b(19\d{2}|20\d{2})\b[\)\]]?`)
	qualityPattern = regexp.MustCompile(`(?i)\b(720p|1080p|2160p|4k|bluray|web-dl|webrip|hdtv|x264|x265|hevc)\b`)
	spacePattern   = regexp.MustCompile(`\s+`)
	bracketPattern = regexp.MustCompile(`[\(\[]\s*[\)\]]`)
)

// EpisodeRef is a parsed episode filename.
type EpisodeRef struct {
	ShowName string
	Season   int
	Episode  int
	Title    string
}

// IsEpisodePath reports whether a file counts as an episode: nested under a
// tv-shows segment and carrying a season/episode token in its name.
func IsEpisodePath(filePath string) bool {
	if !hasTvShowsSegment(filePath) {
		return false
	}
	return episodePattern.MatchString(path.Base(filePath))
}

func hasTvShowsSegment(filePath string) bool {
	for _, seg := range splitSegments(filePath) {
		if strings.EqualFold(seg, tvShowsSegment) {
			return true
		}
	}
	return false
}

func splitSegments(filePath string) []string {
	normalized := strings.ReplaceAll(filePath, "\\", "/")
	return strings.Split(strings.Trim(normalized, "/"), "/")
}

// ParseMovie extracts a display title and release year from a movie filename.
func ParseMovie(fileName string) (title string, year int) {
	stem := strings.TrimSuffix(fileName, path.Ext(fileName))
	cleaned := strings.NewReplacer(".", " ", "_", " ").Replace(stem)

	if m := yearPattern.FindStringSubmatch(cleaned); m != nil {
		year, _ = strconv.Atoi(m[1])
		cleaned = strings.Replace(cleaned, m[0], " ", 1)
	}
	cleaned = qualityPattern.ReplaceAllString(cleaned, " ")
	cleaned = bracketPattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	return cleaned, year
}

// ParseEpisode extracts show name, slot, and episode title from an episode
// path. The show name is the segment immediately following tv-shows; the
// episode title is whatever trails the season/episode token once quality
// tokens are stripped, usually nothing.
func ParseEpisode(filePath string) (EpisodeRef, bool) {
	segments := splitSegments(filePath)
	showName := ""
	for i, seg := range segments {
		if strings.EqualFold(seg, tvShowsSegment) && i+1 < len(segments)-1 {
			showName = cleanShowName(segments[i+1])
			break
		}
	}

	base := strings.TrimSuffix(path.Base(filePath), path.Ext(path.Base(filePath)))
	loc := episodePattern.FindStringSubmatchIndex(base)
	if loc == nil || showName == "" {
		return EpisodeRef{}, false
	}

	m := episodePattern.FindStringSubmatch(base)
	var season, episode int
	if m[1] != "" {
		season, _ = strconv.Atoi(m[1])
		episode, _ = strconv.Atoi(m[2])
	} else {
		season, _ = strconv.Atoi(m[3])
		episode, _ = strconv.Atoi(m[4])
	}
	if season < 1 || episode < 1 {
		return EpisodeRef{}, false
	}

	trailing := base[loc[1]:]
	trailing = strings.NewReplacer(".", " ", "_", " ").Replace(trailing)
	trailing = qualityPattern.ReplaceAllString(trailing, " ")
	trailing = strings.TrimSpace(spacePattern.ReplaceAllString(trailing, " "))
	trailing = strings.Trim(trailing, "-– ")

	return EpisodeRef{
		ShowName: showName,
		Season:   season,
		Episode:  episode,
		Title:    trailing,
	}, true
}

func cleanShowName(segment string) string {
	cleaned := strings.NewReplacer(".", " ", "_", " ").Replace(segment)
	return strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
}

// subtitleExtensions maps sidecar extensions to their format.
var subtitleExtensions = map[string]models.SubtitleFormat{
	".srt": models.SubtitleSRT,
	".vtt": models.SubtitleVTT,
	".ass": models.SubtitleASS,
}

// SubtitleFormatFor resolves a sidecar extension.
func SubtitleFormatFor(fileName string) (models.SubtitleFormat, bool) {
	format, ok := subtitleExtensions[strings.ToLower(path.Ext(fileName))]
	return format, ok
}

// SubtitleLanguage derives the language tag and human label from the sidecar
// suffix between the video stem and the extension ("en" in
// "Movie.en.srt" for video stem "Movie").
func SubtitleLanguage(videoStem, subtitleName string) (tag, label string) {
	stem := strings.TrimSuffix(subtitleName, path.Ext(subtitleName))
	suffix := strings.Trim(strings.TrimPrefix(stem, videoStem), "._- ")
	if suffix == strings.Trim(stem, "._- ") && !strings.HasPrefix(stem, videoStem) {
		// Sidecar named without the release tags of the video file; the
		// language is the last token of its own stem.
		suffix = ""
		if idx := strings.LastIndexAny(stem, "._- "); idx >= 0 {
			suffix = stem[idx+1:]
		}
	}

	code := strings.ToLower(suffix)
	if idx := strings.IndexAny(code, "._- "); idx > 0 {
		code = code[:idx]
	}
	if len(code) > 3 {
		code = code[:3]
	}
	if code == "" {
		return "und", "Unknown"
	}

	if parsed, err := language.Parse(code); err == nil {
		if name := display.English.Languages().Name(parsed); name != "" {
			return code, name
		}
	}
	return code, strings.ToUpper(code)
}
