package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/Wuchinator/streamin-analytics/pkg/logger"
	"github.com/Wuchinator/streamin-analytics/pkg/tracker"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "analytics server base URL")
	dataDir := flag.String("data", "", "directory for durable tracker state, empty keeps it in memory")
	reset := flag.Bool("clear", false, "clear tracking data before the run")
	flag.Parse()

	zl, err := logger.NewLogger("debug", "development")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	storage, err := tracker.OpenBadgerStorage(*dataDir)
	if err != nil {
		log.Fatalf("Failed to open tracker storage: %v", err)
	}
	defer storage.Close()

	t := tracker.New(*baseURL, storage, zl, tracker.WithPage(tracker.Page{
		URL:   *baseURL + "/",
		Title: "Streamin - Home",
	}))

	if *reset {
		if err := t.ClearTrackingData(); err != nil {
			log.Fatalf("Failed to clear tracking data: %v", err)
		}
		if err := t.SetEnabled(true); err != nil {
			log.Fatalf("Failed to re-enable tracking: %v", err)
		}
		if _, err := t.EnsureSessionID(); err != nil {
			log.Fatalf("Failed to start session: %v", err)
		}
	}

	info := t.SessionInfo()
	fmt.Printf("Session: %s (active: %v)\n\n", info.SessionID, info.IsActive)

	fmt.Println("Browsing home page")
	t.TrackPageView("home", nil)

	fmt.Println("Searching")
	t.TrackSearch("matrix", 4)

	t.SetPage(tracker.Page{
		URL:      *baseURL + "/movie/603",
		Referrer: *baseURL + "/search?q=matrix",
		Title:    "The Matrix",
	})
	t.TrackContentClick("603", "The Matrix", tracker.CategoryMovie, "")
	t.TrackPageView("detail", map[string]any{
		"movieId":    "603",
		"movieTitle": "The Matrix",
		"category":   tracker.CategoryMovie,
	})

	fmt.Println("Watching")
	t.TrackVideoStart("603", "The Matrix", tracker.CategoryMovie, "vidsrc", nil)
	t.TrackServerChange("603", "vidsrc", "embedsu")
	for _, p := range []float64{12, 26, 40, 51, 77, 99.5} {
		t.TrackVideoProgress("603", p, 8160)
	}
	t.TrackVideoEnd("603", "The Matrix", tracker.CategoryMovie, 8160, 99.5, nil)

	fmt.Println("Browsing a series")
	t.TrackEpisodeSelect("1399", 1, 3)
	t.TrackFeatureUse("watchlist", map[string]any{"action": "add"})
	t.TrackError("stream timeout", "player", map[string]any{"server": "embedsu"})

	t.TrackPageUnload()
	t.Wait()

	info = t.SessionInfo()
	fmt.Printf("\nDone. Last activity: %s\n", info.LastActivity.Format("15:04:05"))
}
