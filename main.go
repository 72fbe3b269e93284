package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/presence.report/internal/api"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/groups"
	"github.com/banshee-data/presence.report/internal/pipeline"
	"github.com/banshee-data/presence.report/internal/rooms"
	"github.com/banshee-data/presence.report/internal/store"
	"github.com/banshee-data/presence.report/internal/track"
	"github.com/banshee-data/presence.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db", "presence.db", "Path to the presence database")
	migrationsDir = flag.String("migrations", "migrations", "Path to the migrations directory")
	tuningPath    = flag.String("tuning", "", "Path to a tuning config JSON file (defaults to built-in tuning)")
	tickInterval  = flag.Duration("tick", 100*time.Millisecond, "Replay tick interval")

	cameras cameraFlags
)

// cameraFlags collects repeated -camera room=capture.jsonl arguments.
type cameraFlags map[string]string

func (c cameraFlags) String() string {
	parts := make([]string, 0, len(c))
	for room, path := range c {
		parts = append(parts, room+"="+path)
	}
	return strings.Join(parts, ",")
}

func (c cameraFlags) Set(value string) error {
	room, path, ok := strings.Cut(value, "=")
	if !ok || room == "" || path == "" {
		return fmt.Errorf("expected room=capture.jsonl, got %q", value)
	}
	c[room] = path
	return nil
}

func main() {
	cameras = make(cameraFlags)
	flag.Var(cameras, "camera", "Camera capture as room=capture.jsonl (repeatable)")
	flag.Parse()

	log.Printf("presence.report %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if len(cameras) == 0 {
		log.Fatal("At least one -camera room=capture.jsonl is required")
	}

	var tuning *config.TuningConfig
	if *tuningPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		tuning = config.MustLoadDefaultConfig()
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("invalid tuning config: %v", err)
	}

	db, err := store.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	for room := range cameras {
		if err := db.AddRoom(room); err != nil {
			log.Fatalf("failed to register room %s: %v", room, err)
		}
	}

	recorder := store.NewAsyncRecorder(db)
	defer recorder.Close()

	roomState := rooms.NewManager(recorder, db, tuning.GetMovementWindow(), tuning.GetMovementMinGap())
	groupState := groups.NewAnalyzer(recorder, tuning.GetCorrelationWindow())

	trackCfg := track.ConfigFromTuning(tuning)
	filterCfg := detect.FilterConfig{
		MinBoxHeight:   tuning.GetMinBoxHeight(),
		MinBoxArea:     tuning.GetMinBoxArea(),
		MaxAspectRatio: tuning.GetMaxAspectRatio(),
		MinAspectRatio: tuning.GetMinAspectRatio(),
		DuplicateIoU:   tuning.GetDuplicateIoU(),
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// one worker per camera; each owns its source and tracker
	for room, capturePath := range cameras {
		source, err := detect.OpenReplay(capturePath, *tickInterval)
		if err != nil {
			log.Fatalf("failed to open capture for %s: %v", room, err)
		}

		var tracker track.Tracker
		switch tuning.GetTracker() {
		case config.TrackerKalman:
			tracker = track.NewKalmanTracker(trackCfg, room, db)
		default:
			tracker = track.NewIoUTracker(trackCfg, room, db)
		}

		worker := &pipeline.CameraWorker{
			Room:    room,
			Source:  source,
			Tracker: tracker,
			Filter:  filterCfg,
			Rooms:   roomState,
			Groups:  groupState,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil {
				log.Printf("camera worker %s failed: %v", worker.Room, err)
			}
		}()
	}

	// sweep routine forgets stale disappearance records
	sweep := &pipeline.SweepWorker{
		Rooms:    roomState,
		MaxAge:   tuning.GetDisappearedMaxAge(),
		Interval: tuning.GetSweepInterval(),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep.Run(ctx)
		log.Print("sweep routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		db.AttachAdminRoutes(mux)

		apiMux := api.NewServer(roomState, groupState, db).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
