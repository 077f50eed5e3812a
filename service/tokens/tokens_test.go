package tokens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/ekyaaa/cafe-tone/db"
	"github.com/ekyaaa/cafe-tone/models"
	"github.com/ekyaaa/cafe-tone/spotify"
)

func setupTestDB(t *testing.T) *db.DB {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	// a second pooled connection to :memory: would see a fresh empty database
	database.SetMaxOpenConns(1)
	if err := database.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func createAdmin(t *testing.T, database *db.DB) int64 {
	id, err := database.CreateUser(&models.User{
		Name:         "Admin",
		Email:        "admin@example.com",
		PasswordHash: "x",
		Role:         models.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return id
}

// newTestManager wires a manager to a fake token endpoint; refreshCalls
// counts how often that endpoint is hit.
func newTestManager(t *testing.T, database *db.DB, handler http.HandlerFunc) (*Manager, *atomic.Int64) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	auth := spotify.NewAuthenticator("id", "secret", "http://localhost/callback", nil,
		oauth2.Endpoint{AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/api/token"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(database, auth, logger), &calls
}

func TestGetValidAccessToken(t *testing.T) {
	t.Run("no row means not connected", func(t *testing.T) {
		database := setupTestDB(t)
		mgr, calls := newTestManager(t, database, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})

		_, err := mgr.GetValidAccessToken(context.Background(), 42)
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
		if calls.Load() != 0 {
			t.Errorf("provider called %d times", calls.Load())
		}
	})

	t.Run("fresh token returned without provider traffic", func(t *testing.T) {
		database := setupTestDB(t)
		adminID := createAdmin(t, database)
		if err := database.UpsertToken(adminID, "fresh", "refresh", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		mgr, calls := newTestManager(t, database, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"should-not-happen","token_type":"Bearer","expires_in":3600}`)
		})

		access, err := mgr.GetValidAccessToken(context.Background(), adminID)
		if err != nil {
			t.Fatalf("GetValidAccessToken: %v", err)
		}
		if access != "fresh" {
			t.Errorf("access = %q", access)
		}
		if calls.Load() != 0 {
			t.Errorf("expected no refresh calls, got %d", calls.Load())
		}
	})

	t.Run("expired token refreshed and persisted", func(t *testing.T) {
		database := setupTestDB(t)
		adminID := createAdmin(t, database)
		if err := database.UpsertToken(adminID, "stale", "old-refresh", time.Now().Add(-time.Minute)); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		mgr, calls := newTestManager(t, database, func(w http.ResponseWriter, r *http.Request) {
			// no refresh_token in the response: the stored one must survive
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"renewed","token_type":"Bearer","expires_in":3600}`)
		})

		access, err := mgr.GetValidAccessToken(context.Background(), adminID)
		if err != nil {
			t.Fatalf("GetValidAccessToken: %v", err)
		}
		if access != "renewed" {
			t.Errorf("access = %q", access)
		}
		if calls.Load() != 1 {
			t.Errorf("expected exactly one refresh call, got %d", calls.Load())
		}

		row, err := database.GetTokenByUserID(adminID)
		if err != nil {
			t.Fatalf("GetTokenByUserID: %v", err)
		}
		if row.AccessToken != "renewed" {
			t.Errorf("persisted access = %q", row.AccessToken)
		}
		if row.RefreshToken != "old-refresh" {
			t.Errorf("refresh token lost: %q", row.RefreshToken)
		}
		if !time.Now().Before(row.ExpiresAt) {
			t.Errorf("persisted expiry not advanced: %v", row.ExpiresAt)
		}
	})

	t.Run("concurrent callers coalesce on one refresh", func(t *testing.T) {
		database := setupTestDB(t)
		adminID := createAdmin(t, database)
		if err := database.UpsertToken(adminID, "stale", "refresh", time.Now().Add(-time.Minute)); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		mgr, calls := newTestManager(t, database, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond) // widen the race window
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"renewed","token_type":"Bearer","expires_in":3600}`)
		})

		var wg sync.WaitGroup
		results := make([]string, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				access, err := mgr.GetValidAccessToken(context.Background(), adminID)
				if err != nil {
					t.Errorf("caller %d: %v", i, err)
					return
				}
				results[i] = access
			}(i)
		}
		wg.Wait()

		if calls.Load() != 1 {
			t.Errorf("expected one coalesced refresh, got %d", calls.Load())
		}
		for i, access := range results {
			if access != "renewed" {
				t.Errorf("caller %d got %q", i, access)
			}
		}
	})

	t.Run("revoked grant keeps row and surfaces RefreshError", func(t *testing.T) {
		database := setupTestDB(t)
		adminID := createAdmin(t, database)
		if err := database.UpsertToken(adminID, "stale", "revoked", time.Now().Add(-time.Minute)); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		mgr, _ := newTestManager(t, database, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
		})

		_, err := mgr.GetValidAccessToken(context.Background(), adminID)

		var refreshErr *spotify.RefreshError
		if !errors.As(err, &refreshErr) {
			t.Fatalf("expected RefreshError, got %v", err)
		}

		// the row stays so the UI still shows a connection needing attention
		row, dbErr := database.GetTokenByUserID(adminID)
		if dbErr != nil || row == nil {
			t.Fatalf("expected row kept, got %+v, %v", row, dbErr)
		}
	})
}

func TestConnectAndDisconnect(t *testing.T) {
	database := setupTestDB(t)
	adminID := createAdmin(t, database)

	mgr, _ := newTestManager(t, database, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"acc","refresh_token":"ref","token_type":"Bearer","expires_in":3600}`)
	})

	if err := mgr.Connect(context.Background(), adminID, "auth-code"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	row, err := mgr.ActiveAdmin()
	if err != nil {
		t.Fatalf("ActiveAdmin: %v", err)
	}
	if row == nil || row.UserID != adminID {
		t.Fatalf("expected admin %d active, got %+v", adminID, row)
	}

	if err := mgr.Disconnect(adminID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	row, err = mgr.ActiveAdmin()
	if err != nil {
		t.Fatalf("ActiveAdmin after disconnect: %v", err)
	}
	if row != nil {
		t.Fatalf("expected no active admin, got %+v", row)
	}

	if _, err := mgr.GetValidAccessToken(context.Background(), adminID); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
}
