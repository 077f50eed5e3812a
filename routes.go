package main

import (
	"net/http"

	"github.com/justinas/alice"

	"github.com/ekyaaa/cafe-tone/session"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	sm := app.sessionManager

	mux.HandleFunc("GET /{$}", session.WithAuth(app.home, sm))
	mux.HandleFunc("GET /login", app.authService.HandleLoginPage)
	mux.HandleFunc("POST /login", app.authService.HandleLogin)
	mux.HandleFunc("POST /logout", app.authService.HandleLogout)

	// OAuth routes: only the admin connects the shared account
	mux.HandleFunc("GET /spotify/login", session.WithAuth(app.playback.HandleSpotifyLogin, sm))
	mux.HandleFunc("GET /spotify/callback", session.WithAuth(app.playback.HandleSpotifyCallback, sm))
	mux.HandleFunc("POST /spotify/disconnect", session.WithAPIAuth(app.playback.HandleDisconnect, sm))

	// API routes: reads for everyone signed in, controls gated further down
	mux.HandleFunc("GET /api/spotify/check-connection", session.WithAPIAuth(app.playback.HandleCheckConnection, sm))
	mux.HandleFunc("GET /api/spotify/current-playback", session.WithAPIAuth(app.playback.HandleCurrentPlayback, sm))
	mux.HandleFunc("GET /api/spotify/recently-played", session.WithAPIAuth(app.playback.HandleRecentlyPlayed, sm))
	mux.HandleFunc("GET /api/spotify/search", session.WithAPIAuth(app.playback.HandleSearch, sm))
	mux.HandleFunc("GET /api/spotify/top-tracks", session.WithAPIAuth(app.playback.HandleTopTracks, sm))
	mux.HandleFunc("GET /api/spotify/devices", session.WithAPIAuth(app.playback.HandleDevices, sm))
	mux.HandleFunc("GET /api/spotify/playlists", session.WithAPIAuth(app.playback.HandlePlaylists, sm))
	mux.HandleFunc("GET /api/spotify/playlists/{id}/tracks", session.WithAPIAuth(app.playback.HandlePlaylistTracks, sm))
	mux.HandleFunc("GET /api/spotify/token", session.WithAPIAuth(app.playback.HandleToken, sm))

	mux.HandleFunc("POST /api/spotify/play", session.WithAPIAuth(app.playback.HandlePlay, sm))
	mux.HandleFunc("POST /api/spotify/pause", session.WithAPIAuth(app.playback.HandlePause, sm))
	mux.HandleFunc("POST /api/spotify/next", session.WithAPIAuth(app.playback.HandleNext, sm))
	mux.HandleFunc("POST /api/spotify/previous", session.WithAPIAuth(app.playback.HandlePrevious, sm))
	mux.HandleFunc("POST /api/spotify/seek", session.WithAPIAuth(app.playback.HandleSeek, sm))
	mux.HandleFunc("POST /api/spotify/volume", session.WithAPIAuth(app.playback.HandleVolume, sm))
	mux.HandleFunc("POST /api/spotify/transfer", session.WithAPIAuth(app.playback.HandleTransfer, sm))

	standard := alice.New(app.recoverPanic, app.logRequest, commonHeaders)

	return standard.Then(mux)
}
