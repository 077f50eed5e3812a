package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

// newTestGateway runs a fake provider that answers every request with the
// given handler and records what it saw.
func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *[]recordedRequest) {
	var seen []recordedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGatewayWithBase(server.URL, logger), &seen
}

func TestCurrentPlayback(t *testing.T) {
	t.Run("parses playing state", func(t *testing.T) {
		gw, seen := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{
				"is_playing": true,
				"progress_ms": 31000,
				"item": {
					"id": "t1",
					"uri": "spotify:track:t1",
					"name": "Song",
					"duration_ms": 180000,
					"artists": [{"id": "a1", "name": "Artist"}],
					"album": {"name": "Album"}
				}
			}`)
		})

		state, err := gw.CurrentPlayback(context.Background(), "tok")
		if err != nil {
			t.Fatalf("CurrentPlayback: %v", err)
		}
		if state == nil || !state.IsPlaying || state.ProgressMs != 31000 {
			t.Fatalf("unexpected state: %+v", state)
		}
		if state.Item == nil || state.Item.Name != "Song" || state.Item.DurationMs != 180000 {
			t.Errorf("unexpected item: %+v", state.Item)
		}

		req := (*seen)[0]
		if req.method != http.MethodGet || req.path != "/me/player" {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.auth != "Bearer tok" {
			t.Errorf("missing bearer token: %q", req.auth)
		}
	})

	t.Run("204 means idle, not error", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		state, err := gw.CurrentPlayback(context.Background(), "tok")
		if err != nil {
			t.Fatalf("expected no error on 204, got %v", err)
		}
		if state != nil {
			t.Fatalf("expected nil state on 204, got %+v", state)
		}
	})

	t.Run("404 means no device, not error", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		state, err := gw.CurrentPlayback(context.Background(), "tok")
		if err != nil || state != nil {
			t.Fatalf("expected nil, nil on 404, got %+v, %v", state, err)
		}
	})

	t.Run("server error is an error", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"status":500,"message":"upstream broke"}}`)
		})

		_, err := gw.CurrentPlayback(context.Background(), "tok")
		if err == nil {
			t.Fatal("expected error on 500")
		}
	})
}

func TestControls(t *testing.T) {
	t.Run("paths and methods", func(t *testing.T) {
		gw, seen := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		ctx := context.Background()

		gw.Play(ctx, "tok", PlayOptions{})
		gw.Pause(ctx, "tok", "")
		gw.Next(ctx, "tok", "")
		gw.Previous(ctx, "tok", "")
		gw.Seek(ctx, "tok", "", 5000)
		gw.SetVolume(ctx, "tok", "", 40)
		gw.TransferPlayback(ctx, "tok", "dev-1", true)

		want := []recordedRequest{
			{method: "PUT", path: "/me/player/play"},
			{method: "PUT", path: "/me/player/pause"},
			{method: "POST", path: "/me/player/next"},
			{method: "POST", path: "/me/player/previous"},
			{method: "PUT", path: "/me/player/seek", query: "position_ms=5000"},
			{method: "PUT", path: "/me/player/volume", query: "volume_percent=40"},
			{method: "PUT", path: "/me/player"},
		}

		if len(*seen) != len(want) {
			t.Fatalf("expected %d requests, got %d", len(want), len(*seen))
		}
		for i, w := range want {
			got := (*seen)[i]
			if got.method != w.method || got.path != w.path {
				t.Errorf("request %d: got %s %s, want %s %s", i, got.method, got.path, w.method, w.path)
			}
			if w.query != "" && got.query != w.query {
				t.Errorf("request %d: query = %q, want %q", i, got.query, w.query)
			}
		}
	})

	t.Run("play forwards position and offset", func(t *testing.T) {
		gw, seen := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		position := int64(45000)
		index := 3
		err := gw.Play(context.Background(), "tok", PlayOptions{
			DeviceID:   "dev-1",
			ContextURI: "spotify:playlist:pl1",
			PositionMs: &position,
			Offset:     &PlayOffset{Position: &index},
		})
		if err != nil {
			t.Fatalf("Play: %v", err)
		}

		req := (*seen)[0]
		if req.query != "device_id=dev-1" {
			t.Errorf("query = %q", req.query)
		}

		var payload struct {
			ContextURI string `json:"context_uri"`
			PositionMs int64  `json:"position_ms"`
			Offset     struct {
				Position int `json:"position"`
			} `json:"offset"`
		}
		if err := json.Unmarshal([]byte(req.body), &payload); err != nil {
			t.Fatalf("body not JSON: %v (%q)", err, req.body)
		}
		if payload.ContextURI != "spotify:playlist:pl1" {
			t.Errorf("context_uri = %q", payload.ContextURI)
		}
		if payload.PositionMs != 45000 {
			t.Errorf("position_ms = %d, want 45000", payload.PositionMs)
		}
		if payload.Offset.Position != 3 {
			t.Errorf("offset.position = %d, want 3", payload.Offset.Position)
		}
	})

	t.Run("plain resume sends no body", func(t *testing.T) {
		gw, seen := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		if err := gw.Play(context.Background(), "tok", PlayOptions{}); err != nil {
			t.Fatalf("Play: %v", err)
		}
		if got := (*seen)[0].body; got != "" {
			t.Errorf("expected empty body, got %q", got)
		}
	})

	t.Run("volume is clamped", func(t *testing.T) {
		gw, seen := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		gw.SetVolume(context.Background(), "tok", "", 150)
		gw.SetVolume(context.Background(), "tok", "", -3)

		if got := (*seen)[0].query; got != "volume_percent=100" {
			t.Errorf("high clamp: %q", got)
		}
		if got := (*seen)[1].query; got != "volume_percent=0" {
			t.Errorf("low clamp: %q", got)
		}
	})

	t.Run("device id is forwarded", func(t *testing.T) {
		gw, seen := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		gw.Pause(context.Background(), "tok", "dev-9")

		if got := (*seen)[0].query; got != "device_id=dev-9" {
			t.Errorf("query = %q", got)
		}
	})

	t.Run("rejection carries provider reason and is not retried", func(t *testing.T) {
		gw, seen := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"status":403,"message":"Premium required"}}`)
		})

		err := gw.Next(context.Background(), "tok", "")

		var ctrlErr *ControlError
		if !errors.As(err, &ctrlErr) {
			t.Fatalf("expected ControlError, got %v", err)
		}
		if ctrlErr.Command != CmdNext || ctrlErr.Status != http.StatusForbidden {
			t.Errorf("unexpected error fields: %+v", ctrlErr)
		}
		if ctrlErr.Reason != "Premium required" {
			t.Errorf("reason = %q", ctrlErr.Reason)
		}
		if len(*seen) != 1 {
			t.Errorf("control command was retried: %d requests", len(*seen))
		}
	})
}

func TestReadProxies(t *testing.T) {
	gw, seen := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[]}`)
	})
	ctx := context.Background()

	if _, err := gw.RecentlyPlayed(ctx, "tok", 10); err != nil {
		t.Fatalf("RecentlyPlayed: %v", err)
	}
	if _, err := gw.Search(ctx, "tok", "query", "track", 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, err := gw.TopTracks(ctx, "tok", "short_term", 5); err != nil {
		t.Fatalf("TopTracks: %v", err)
	}
	if _, err := gw.Devices(ctx, "tok"); err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if _, err := gw.PlaylistTracks(ctx, "tok", "pl1", 50, 0); err != nil {
		t.Fatalf("PlaylistTracks: %v", err)
	}

	wantPaths := []string{
		"/me/player/recently-played",
		"/search",
		"/me/top/tracks",
		"/me/player/devices",
		"/playlists/pl1/tracks",
	}
	for i, want := range wantPaths {
		if got := (*seen)[i].path; got != want {
			t.Errorf("request %d: path = %q, want %q", i, got, want)
		}
	}
}
