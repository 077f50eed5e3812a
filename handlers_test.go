package main

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ekyaaa/cafe-tone/db"
	"github.com/ekyaaa/cafe-tone/models"
	playbackService "github.com/ekyaaa/cafe-tone/service/playback"
	tokenService "github.com/ekyaaa/cafe-tone/service/tokens"
	"github.com/ekyaaa/cafe-tone/session"
)

func newTestApp(t *testing.T) *application {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	// a second pooled connection to :memory: would see a fresh empty database
	database.SetMaxOpenConns(1)

	if err := database.Initialize(); err != nil {
		t.Fatalf("initialize database: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokenManager := tokenService.NewManager(database, nil, logger)
	playback := playbackService.NewService(tokenManager, nil, nil, logger)

	return &application{
		logger:   logger,
		database: database,
		playback: playback,
	}
}

func TestHomeEscapesUserName(t *testing.T) {
	app := newTestApp(t)

	user := &models.User{
		Name:         `<script>alert(1)</script>`,
		Email:        "sneaky@cafetone.local",
		PasswordHash: "x",
		Role:         models.RoleUser,
	}
	id, err := app.database.CreateUser(user)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	user.ID = id

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(session.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()

	app.home(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("user name rendered unescaped")
	}
	if !strings.Contains(body, "&lt;script&gt;alert(1)&lt;/script&gt;") {
		t.Errorf("escaped user name not found in page:\n%s", body)
	}
}
