package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ekyaaa/cafe-tone/player"
)

// watch is a terminal viewer for the shared player: it signs in, then mirrors
// whatever the connected admin is playing.
func main() {
	server := flag.String("server", "http://localhost:8080", "server URL")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	poll := flag.Duration("poll", 2*time.Second, "poll interval")
	tick := flag.Duration("tick", 250*time.Millisecond, "redraw interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "both -email and -password are required")
		os.Exit(1)
	}

	client, err := player.NewHTTPClient(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client setup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Login(ctx, *email, *password); err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	sync := player.NewSynchronizer(client, nil, *poll, *tick, logger)
	sync.OnTick = draw

	if err := sync.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
		os.Exit(1)
	}

	// parked states have no ticker, so paint the initial state once
	draw(sync.Snapshot())

	<-ctx.Done()
	sync.Stop()
	fmt.Println()
}

// draw repaints one status line in place.
func draw(snap player.Snapshot) {
	var line string

	switch snap.State {
	case player.StateLoading:
		line = "connecting..."
	case player.StateNoAdminConnected:
		line = "no admin connected yet"
	case player.StateAdminDisconnected:
		line = "spotify not connected - visit the web app to connect"
	default:
		if snap.Track == nil {
			line = "nothing playing"
			break
		}

		artist := ""
		if len(snap.Track.Artists) > 0 {
			artist = snap.Track.Artists[0].Name + " - "
		}

		marker := "||"
		if snap.IsPlaying {
			marker = ">"
		}

		line = fmt.Sprintf("%s %s%s  %s / %s",
			marker, artist, snap.Track.Name,
			fmtDuration(snap.ProgressMs), fmtDuration(snap.Track.DurationMs))
	}

	fmt.Printf("\r\033[K%s", line)
}

func fmtDuration(ms int64) string {
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
