package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/oauth2/spotify"

	"github.com/ekyaaa/cafe-tone/auth"
	"github.com/ekyaaa/cafe-tone/config"
	"github.com/ekyaaa/cafe-tone/db"
	playbackService "github.com/ekyaaa/cafe-tone/service/playback"
	tokenService "github.com/ekyaaa/cafe-tone/service/tokens"
	"github.com/ekyaaa/cafe-tone/session"
	spotifyClient "github.com/ekyaaa/cafe-tone/spotify"
)

type application struct {
	logger         *slog.Logger
	database       *db.DB
	sessionManager *session.SessionManager
	authService    *auth.Service
	tokenManager   *tokenService.Manager
	playback       *playbackService.Service
}

func main() {
	config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// create data folder if not exists with proper perms
	os.Mkdir("./data", 0755)

	database, err := db.New(viper.GetString("db.path"))
	if err != nil {
		logger.Error("error connecting to database", "error", err)
		os.Exit(1)
	}

	if err := database.Initialize(); err != nil {
		logger.Error("error initializing database", "error", err)
		os.Exit(1)
	}

	sessionLifetime := time.Duration(viper.GetInt("session.lifetime_hours")) * time.Hour
	sessionManager := session.NewSessionManager(database, sessionLifetime)

	authService := auth.NewService(database, sessionManager)
	if err := authService.Seed(); err != nil {
		logger.Error("error seeding users", "error", err)
		os.Exit(1)
	}

	authenticator := spotifyClient.NewAuthenticator(
		viper.GetString("spotify.client_id"),
		viper.GetString("spotify.client_secret"),
		viper.GetString("spotify.redirect_uri"),
		viper.GetStringSlice("spotify.scopes"),
		spotify.Endpoint,
	)

	gateway := spotifyClient.NewGateway(logger)
	tokenManager := tokenService.NewManager(database, authenticator, logger)
	playback := playbackService.NewService(tokenManager, authenticator, gateway, logger)

	app := &application{
		logger:         logger,
		database:       database,
		sessionManager: sessionManager,
		authService:    authService,
		tokenManager:   tokenManager,
		playback:       playback,
	}

	addr := viper.GetString("server.host") + ":" + viper.GetString("server.port")

	srv := &http.Server{
		Addr:         addr,
		Handler:      app.routes(),
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	logger.Info("starting server", "addr", addr)

	err = srv.ListenAndServe()
	logger.Error("server stopped", "error", err)
	os.Exit(1)
}
