package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server    ServerSettings    `json:"server"`
	Database  DatabaseSettings  `json:"database"`
	Library   LibrarySettings   `json:"library"`
	Metadata  MetadataSettings  `json:"metadata"`
	Cache     CacheSettings     `json:"cache"`
	Transcode TranscodeSettings `json:"transcode"`
	Log       LogSettings       `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// Secret signs auth tokens and derives the source-credential key.
	// Generated on first boot when empty.
	Secret        string `json:"secret"`
	TokenTTLHours int    `json:"tokenTtlHours"`
}

type DatabaseSettings struct {
	Path string `json:"path"`
}

type LibrarySettings struct {
	VideoExtensions []string `json:"videoExtensions"`
	AutoEnrich      bool     `json:"autoEnrich"`
}

type MetadataSettings struct {
	TMDBAPIKey string `json:"tmdbApiKey"`
	Language   string `json:"language"`
}

type CacheSettings struct {
	Directory   string `json:"directory"`
	MaxSizeMB   int64  `json:"maxSizeMb"`
	TTLHours    int    `json:"ttlHours"`
	SweepHours  int    `json:"sweepHours"`
}

type TranscodeSettings struct {
	FFmpegPath         string `json:"ffmpegPath"`
	FFprobePath        string `json:"ffprobePath"`
	HLSSegmentSeconds  int    `json:"hlsSegmentSeconds"`
	DefaultHLSQuality  string `json:"defaultHlsQuality"`
}

type LogSettings struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"` // megabytes
	MaxBackups int    `json:"maxBackups"`
	MaxAge     int    `json:"maxAge"` // days
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns the configuration used when no settings file exists.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host:          "0.0.0.0",
			Port:          8080,
			TokenTTLHours: 24 * 7,
		},
		Database: DatabaseSettings{Path: "data/lunastream.db"},
		Library: LibrarySettings{
			VideoExtensions: []string{".mp4", ".mkv", ".avi", ".mov", ".webm", ".m4v", ".ts", ".mpg", ".mpeg", ".wmv", ".flv"},
			AutoEnrich:      true,
		},
		Metadata: MetadataSettings{Language: "en-US"},
		Cache: CacheSettings{
			Directory:  "data/cache",
			MaxSizeMB:  10 * 1024,
			TTLHours:   24 * 7,
			SweepHours: 6,
		},
		Transcode: TranscodeSettings{
			FFmpegPath:        "ffmpeg",
			FFprobePath:       "ffprobe",
			HLSSegmentSeconds: 10,
			DefaultHLSQuality: "720p",
		},
		Log: LogSettings{
			File:       "data/logs/lunastream.log",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Manager loads and persists the settings file.
type Manager struct {
	path string
}

// NewManager creates a manager for the given settings path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the settings file location.
func (m *Manager) Path() string { return m.path }

// EnsureDir creates the directory holding the settings file.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk or creates defaults if missing. Environment
// variables override individual fields after the file is read.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}

	var s Settings
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		s = DefaultSettings()
		if err := m.Save(s); err != nil {
			return Settings{}, err
		}
	} else {
		f, err := os.Open(m.path)
		if err != nil {
			return Settings{}, err
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&s); err != nil {
			return Settings{}, err
		}
	}

	backfill(&s)
	applyEnvOverrides(&s)
	return s, nil
}

// backfill fills defaults for fields added after a config file was written.
func backfill(s *Settings) {
	def := DefaultSettings()
	if s.Server.Port == 0 {
		s.Server.Port = def.Server.Port
	}
	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = def.Server.Host
	}
	if s.Server.TokenTTLHours == 0 {
		s.Server.TokenTTLHours = def.Server.TokenTTLHours
	}
	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = def.Database.Path
	}
	if len(s.Library.VideoExtensions) == 0 {
		s.Library.VideoExtensions = def.Library.VideoExtensions
	}
	if strings.TrimSpace(s.Metadata.Language) == "" {
		s.Metadata.Language = def.Metadata.Language
	}
	if strings.TrimSpace(s.Cache.Directory) == "" {
		s.Cache.Directory = def.Cache.Directory
	}
	if s.Cache.MaxSizeMB == 0 {
		s.Cache.MaxSizeMB = def.Cache.MaxSizeMB
	}
	if s.Cache.TTLHours == 0 {
		s.Cache.TTLHours = def.Cache.TTLHours
	}
	if s.Cache.SweepHours == 0 {
		s.Cache.SweepHours = def.Cache.SweepHours
	}
	if strings.TrimSpace(s.Transcode.FFmpegPath) == "" {
		s.Transcode.FFmpegPath = def.Transcode.FFmpegPath
	}
	if strings.TrimSpace(s.Transcode.FFprobePath) == "" {
		s.Transcode.FFprobePath = def.Transcode.FFprobePath
	}
	if s.Transcode.HLSSegmentSeconds == 0 {
		s.Transcode.HLSSegmentSeconds = def.Transcode.HLSSegmentSeconds
	}
	if strings.TrimSpace(s.Transcode.DefaultHLSQuality) == "" {
		s.Transcode.DefaultHLSQuality = def.Transcode.DefaultHLSQuality
	}
	if strings.TrimSpace(s.Log.File) == "" {
		s.Log.File = def.Log.File
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = def.Log.MaxSize
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = def.Log.MaxBackups
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = def.Log.MaxAge
	}
}

func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("LUNASTREAM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			s.Server.Port = port
		}
	}
	if v := os.Getenv("LUNASTREAM_SECRET"); v != "" {
		s.Server.Secret = v
	}
	if v := os.Getenv("LUNASTREAM_TOKEN_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			s.Server.TokenTTLHours = hours
		}
	}
	if v := os.Getenv("LUNASTREAM_DB_PATH"); v != "" {
		s.Database.Path = v
	}
	if v := os.Getenv("LUNASTREAM_CACHE_DIR"); v != "" {
		s.Cache.Directory = v
	}
	if v := os.Getenv("LUNASTREAM_CACHE_MAX_MB"); v != "" {
		if mb, err := strconv.ParseInt(v, 10, 64); err == nil && mb > 0 {
			s.Cache.MaxSizeMB = mb
		}
	}
	if v := os.Getenv("LUNASTREAM_CACHE_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			s.Cache.TTLHours = hours
		}
	}
	if v := os.Getenv("LUNASTREAM_VIDEO_EXTENSIONS"); v != "" {
		var exts []string
		for _, e := range strings.Split(v, ",") {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts = append(exts, e)
		}
		if len(exts) > 0 {
			s.Library.VideoExtensions = exts
		}
	}
	if v := os.Getenv("LUNASTREAM_TMDB_API_KEY"); v != "" {
		s.Metadata.TMDBAPIKey = v
	}
	if v := os.Getenv("LUNASTREAM_METADATA_LANGUAGE"); v != "" {
		s.Metadata.Language = v
	}
	if v := os.Getenv("LUNASTREAM_AUTO_ENRICH"); v != "" {
		s.Library.AutoEnrich = v == "1" || strings.EqualFold(v, "true")
	}
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
