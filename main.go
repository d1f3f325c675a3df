package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sethvargo/go-password/password"
	"gopkg.in/natefinch/lumberjack.v2"

	"lunastream/api"
	"lunastream/config"
	"lunastream/handlers"
	"lunastream/internal/database"
	"lunastream/services/auth"
	"lunastream/services/cache"
	"lunastream/services/indexer"
	"lunastream/services/metadata"
	"lunastream/services/probe"
	"lunastream/services/protocols"
	"lunastream/services/transcoder"
	"lunastream/services/watch"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	configFlag := flag.String("config", "", "path to settings file")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("LUNASTREAM_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	manager := config.NewManager(configPath)
	settings, err := manager.Load()
	if err != nil {
		log.Fatalf("load settings from %s: %v", configPath, err)
	}
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Log to both console and a rotating file.
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	// The secret signs tokens and derives the credential key. Generate one
	// on first boot and persist it so sessions survive restarts.
	if settings.Server.Secret == "" {
		secret, err := password.Generate(48, 12, 0, false, true)
		if err != nil {
			log.Fatalf("generate server secret: %v", err)
		}
		settings.Server.Secret = secret
		if err := manager.Save(settings); err != nil {
			log.Fatalf("persist generated secret: %v", err)
		}
		log.Printf("[main] generated server secret (stored in %s)", configPath)
	}

	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	cipher, err := protocols.NewCredentialCipher(settings.Server.Secret)
	if err != nil {
		log.Fatalf("init credential cipher: %v", err)
	}
	clientPool := protocols.NewPool(cipher)
	defer clientPool.Shutdown()

	cacheMgr, err := cache.NewManager(
		settings.Cache.Directory,
		int(settings.Cache.MaxSizeMB),
		settings.Cache.TTLHours,
		settings.Cache.SweepHours,
	)
	if err != nil {
		log.Fatalf("init cache: %v", err)
	}

	prober := probe.NewProber(settings.Transcode.FFprobePath)
	transcoderSvc := transcoder.NewService(
		settings.Transcode.FFmpegPath,
		settings.Cache.Directory,
		settings.Transcode.HLSSegmentSeconds,
		cacheMgr,
	)

	var enricher indexer.Enricher
	metadataSvc := metadata.NewService(db.Media, settings.Metadata.TMDBAPIKey, settings.Metadata.Language, nil)
	if settings.Library.AutoEnrich && metadataSvc.Enabled() {
		enricher = metadataSvc
	} else {
		log.Printf("[main] metadata enrichment disabled")
	}

	indexerSvc := indexer.NewService(db.Media, db.Subtitles, clientPool, enricher, settings.Library.VideoExtensions)
	authSvc := auth.NewService(db.Users, settings.Server.Secret, time.Duration(settings.Server.TokenTTLHours)*time.Hour)
	watchSvc := watch.NewService(db.Watch)

	router := api.NewRouter(api.Deps{
		Auth:      handlers.NewAuthHandler(authSvc),
		Library:   handlers.NewLibraryHandler(db.Media, indexerSvc, db.Sources),
		Stream:    handlers.NewStreamHandler(db.Media, db.Sources, clientPool, prober, transcoderSvc, cacheMgr, settings.Transcode.DefaultHLSQuality),
		Subtitles: handlers.NewSubtitlesHandler(db.Subtitles),
		Watch:     handlers.NewWatchHandler(watchSvc),
		Network:   handlers.NewNetworkHandler(db.Sources, clientPool, cipher),
		Admin:     handlers.NewAdminHandler(db.Media, db.Users, db.Sources, indexerSvc, cacheMgr, transcoderSvc),
		Verifier:  authSvc,
		Users:     db.Users,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background cache sweeper.
	go cacheMgr.Run(ctx)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: streams and transcodes are long-lived.
	}

	go func() {
		log.Printf("[main] listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
}
