package playback

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ekyaaa/cafe-tone/models"
	"github.com/ekyaaa/cafe-tone/service/tokens"
	"github.com/ekyaaa/cafe-tone/session"
	"github.com/ekyaaa/cafe-tone/spotify"
)

// Gateway is the slice of the provider client this service drives. Tests
// substitute a counting fake to prove forbidden requests never reach the
// provider.
type Gateway interface {
	CurrentPlayback(ctx context.Context, accessToken string) (*models.PlaybackState, error)
	RecentlyPlayed(ctx context.Context, accessToken string, limit int) (json.RawMessage, error)
	Search(ctx context.Context, accessToken, query, types string, limit int) (json.RawMessage, error)
	TopTracks(ctx context.Context, accessToken, timeRange string, limit int) (json.RawMessage, error)
	Playlists(ctx context.Context, accessToken string, limit, offset int) (json.RawMessage, error)
	PlaylistTracks(ctx context.Context, accessToken, playlistID string, limit, offset int) (json.RawMessage, error)
	Devices(ctx context.Context, accessToken string) (json.RawMessage, error)
	Play(ctx context.Context, accessToken string, opts spotify.PlayOptions) error
	Pause(ctx context.Context, accessToken, deviceID string) error
	Next(ctx context.Context, accessToken, deviceID string) error
	Previous(ctx context.Context, accessToken, deviceID string) error
	Seek(ctx context.Context, accessToken, deviceID string, positionMs int64) error
	SetVolume(ctx context.Context, accessToken, deviceID string, percent int) error
	TransferPlayback(ctx context.Context, accessToken, deviceID string, play bool) error
}

// Service exposes the shared player over HTTP: connection status and reads
// for every signed-in user, controls for the connected admin only.
type Service struct {
	tokens  *tokens.Manager
	auth    *spotify.Authenticator
	gateway Gateway
	logger  *slog.Logger
}

func NewService(tokenMgr *tokens.Manager, auth *spotify.Authenticator, gateway Gateway, logger *slog.Logger) *Service {
	return &Service{
		tokens:  tokenMgr,
		auth:    auth,
		gateway: gateway,
		logger:  logger,
	}
}

// Resolve computes the caller's view of the shared connection. "Not
// connected" is a valid answer, not an error.
func (s *Service) Resolve(user *models.User) (models.ConnectionStatus, error) {
	status := models.ConnectionStatus{
		IsAdmin: user.IsAdmin(),
		User:    user.Summary(),
	}

	row, err := s.tokens.ActiveAdmin()
	if err != nil {
		return status, err
	}

	if row != nil {
		status.IsConnected = true
		adminID := row.UserID
		status.ConnectedAdminID = &adminID
		// control belongs to the admin whose account is connected, not to
		// admins in general
		status.CanControl = user.IsAdmin() && row.UserID == user.ID
	}

	return status, nil
}

// ---- OAuth connect/disconnect ----

const stateCookie = "spotify_oauth_state"

// HandleSpotifyLogin starts the provider authorization flow. Admin only.
func (s *Service) HandleSpotifyLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := session.GetUser(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if !user.IsAdmin() {
		http.Error(w, "Only admins can connect a Spotify account", http.StatusForbidden)
		return
	}

	state := spotify.GenerateState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   300,
	})

	http.Redirect(w, r, s.auth.AuthURL(state), http.StatusSeeOther)
}

// HandleSpotifyCallback finishes the flow: verify state, exchange the code,
// store the tokens, and send the admin back to the player.
func (s *Service) HandleSpotifyCallback(w http.ResponseWriter, r *http.Request) {
	user, ok := session.GetUser(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if !user.IsAdmin() {
		http.Error(w, "Only admins can connect a Spotify account", http.StatusForbidden)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}

	// state is single-use
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "No code provided", http.StatusBadRequest)
		return
	}

	if err := s.tokens.Connect(r.Context(), user.ID, code); err != nil {
		s.logger.Error("spotify connect failed", "user_id", user.ID, "error", err)
		http.Error(w, "Could not connect Spotify account", http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleDisconnect removes the admin's stored credentials.
func (s *Service) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	user, ok := session.GetUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}

	if err := s.tokens.Disconnect(user.ID); err != nil {
		s.logger.Error("disconnect failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not disconnect")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// ---- status + reads ----

func (s *Service) HandleCheckConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := session.GetUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	status, err := s.Resolve(user)
	if err != nil {
		s.logger.Error("resolve failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not resolve connection")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Service) HandleCurrentPlayback(w http.ResponseWriter, r *http.Request) {
	access, ok := s.adminToken(w, r)
	if !ok {
		return
	}

	state, err := s.gateway.CurrentPlayback(r.Context(), access)
	if err != nil {
		s.logger.Error("playback read failed", "error", err)
		writeError(w, http.StatusBadGateway, "could not read playback state")
		return
	}

	// nothing playing anywhere
	if state == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (s *Service) HandleRecentlyPlayed(w http.ResponseWriter, r *http.Request) {
	access, ok := s.adminToken(w, r)
	if !ok {
		return
	}
	s.proxyRead(w, r, func(ctx context.Context) (json.RawMessage, error) {
		return s.gateway.RecentlyPlayed(ctx, access, queryInt(r, "limit", 20))
	})
}

func (s *Service) HandleSearch(w http.ResponseWriter, r *http.Request) {
	access, ok := s.adminToken(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}
	types := r.URL.Query().Get("type")
	if types == "" {
		types = "track"
	}

	s.proxyRead(w, r, func(ctx context.Context) (json.RawMessage, error) {
		return s.gateway.Search(ctx, access, query, types, queryInt(r, "limit", 20))
	})
}

func (s *Service) HandleTopTracks(w http.ResponseWriter, r *http.Request) {
	access, ok := s.adminToken(w, r)
	if !ok {
		return
	}
	s.proxyRead(w, r, func(ctx context.Context) (json.RawMessage, error) {
		return s.gateway.TopTracks(ctx, access, r.URL.Query().Get("time_range"), queryInt(r, "limit", 20))
	})
}

func (s *Service) HandleDevices(w http.ResponseWriter, r *http.Request) {
	access, ok := s.adminToken(w, r)
	if !ok {
		return
	}
	s.proxyRead(w, r, func(ctx context.Context) (json.RawMessage, error) {
		return s.gateway.Devices(ctx, access)
	})
}

func (s *Service) HandlePlaylists(w http.ResponseWriter, r *http.Request) {
	access, ok := s.adminToken(w, r)
	if !ok {
		return
	}
	s.proxyRead(w, r, func(ctx context.Context) (json.RawMessage, error) {
		return s.gateway.Playlists(ctx, access, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	})
}

func (s *Service) HandlePlaylistTracks(w http.ResponseWriter, r *http.Request) {
	access, ok := s.adminToken(w, r)
	if !ok {
		return
	}

	playlistID := r.PathValue("id")
	if playlistID == "" {
		writeError(w, http.StatusBadRequest, "missing playlist id")
		return
	}

	s.proxyRead(w, r, func(ctx context.Context) (json.RawMessage, error) {
		return s.gateway.PlaylistTracks(ctx, access, playlistID, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	})
}

// HandleToken hands the controller a valid access token for the in-browser
// playback SDK. Controller only: viewers never see the shared credential.
func (s *Service) HandleToken(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireController(w, r)
	if !ok {
		return
	}

	access, err := s.tokens.GetValidAccessToken(r.Context(), user.ID)
	if err != nil {
		s.writeTokenError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

// ---- controls ----

func (s *Service) HandlePlay(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireController(w, r)
	if !ok {
		return
	}

	var body struct {
		DeviceID   string              `json:"device_id"`
		ContextURI string              `json:"context_uri"`
		URIs       []string            `json:"uris"`
		PositionMs *int64              `json:"position_ms"`
		Offset     *spotify.PlayOffset `json:"offset"`
	}
	// empty body means plain resume
	json.NewDecoder(r.Body).Decode(&body)

	s.runControl(w, r, user, func(ctx context.Context, access string) error {
		return s.gateway.Play(ctx, access, spotify.PlayOptions{
			DeviceID:   body.DeviceID,
			ContextURI: body.ContextURI,
			URIs:       body.URIs,
			PositionMs: body.PositionMs,
			Offset:     body.Offset,
		})
	})
}

func (s *Service) HandlePause(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireController(w, r)
	if !ok {
		return
	}
	s.runControl(w, r, user, func(ctx context.Context, access string) error {
		return s.gateway.Pause(ctx, access, deviceID(r))
	})
}

func (s *Service) HandleNext(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireController(w, r)
	if !ok {
		return
	}
	s.runControl(w, r, user, func(ctx context.Context, access string) error {
		return s.gateway.Next(ctx, access, deviceID(r))
	})
}

func (s *Service) HandlePrevious(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireController(w, r)
	if !ok {
		return
	}
	s.runControl(w, r, user, func(ctx context.Context, access string) error {
		return s.gateway.Previous(ctx, access, deviceID(r))
	})
}

func (s *Service) HandleSeek(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireController(w, r)
	if !ok {
		return
	}

	var body struct {
		PositionMs int64  `json:"position_ms"`
		DeviceID   string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.runControl(w, r, user, func(ctx context.Context, access string) error {
		return s.gateway.Seek(ctx, access, body.DeviceID, body.PositionMs)
	})
}

func (s *Service) HandleVolume(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireController(w, r)
	if !ok {
		return
	}

	var body struct {
		VolumePercent int    `json:"volume_percent"`
		DeviceID      string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.runControl(w, r, user, func(ctx context.Context, access string) error {
		return s.gateway.SetVolume(ctx, access, body.DeviceID, body.VolumePercent)
	})
}

func (s *Service) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireController(w, r)
	if !ok {
		return
	}

	var body struct {
		DeviceID string `json:"device_id"`
		Play     bool   `json:"play"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "missing device_id")
		return
	}

	s.runControl(w, r, user, func(ctx context.Context, access string) error {
		return s.gateway.TransferPlayback(ctx, access, body.DeviceID, body.Play)
	})
}

// ---- plumbing ----

// requireController rejects the request before any provider traffic unless
// the caller is the connected admin.
func (s *Service) requireController(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := session.GetUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	status, err := s.Resolve(user)
	if err != nil {
		s.logger.Error("resolve failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not resolve connection")
		return nil, false
	}

	if !status.IsConnected {
		writeError(w, http.StatusUnauthorized, "no spotify account connected")
		return nil, false
	}
	if !status.CanControl {
		writeError(w, http.StatusForbidden, "playback is controlled by the connected admin")
		return nil, false
	}

	return user, true
}

// runControl fetches the controller's token and issues one command. A
// provider rejection comes back as 502 with the provider's reason; it is
// never retried.
func (s *Service) runControl(w http.ResponseWriter, r *http.Request, user *models.User, fn func(ctx context.Context, access string) error) {
	access, err := s.tokens.GetValidAccessToken(r.Context(), user.ID)
	if err != nil {
		s.writeTokenError(w, err)
		return
	}

	if err := fn(r.Context(), access); err != nil {
		var ctrlErr *spotify.ControlError
		if errors.As(err, &ctrlErr) {
			writeError(w, http.StatusBadGateway, ctrlErr.Reason)
			return
		}
		s.logger.Error("control failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusBadGateway, "command failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// adminToken resolves the connected admin's access token for read proxies.
func (s *Service) adminToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if _, ok := session.GetUser(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}

	access, _, err := s.tokens.GetActiveAdminAccessToken(r.Context())
	if err != nil {
		if errors.Is(err, tokens.ErrNotConnected) {
			writeError(w, http.StatusNotFound, "no spotify account connected")
			return "", false
		}
		s.writeTokenError(w, err)
		return "", false
	}

	return access, true
}

func (s *Service) proxyRead(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) (json.RawMessage, error)) {
	raw, err := fn(r.Context())
	if err != nil {
		s.logger.Error("proxy read failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "provider request failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// writeTokenError maps token manager failures onto client-facing statuses: a
// dead refresh grant means the admin must reconnect, everything else is a
// server fault.
func (s *Service) writeTokenError(w http.ResponseWriter, err error) {
	var refreshErr *spotify.RefreshError
	switch {
	case errors.Is(err, tokens.ErrNotConnected):
		writeError(w, http.StatusUnauthorized, "no spotify account connected")
	case errors.As(err, &refreshErr):
		writeError(w, http.StatusUnauthorized, "spotify session expired, reconnect required")
	default:
		s.logger.Error("token lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token unavailable")
	}
}

func deviceID(r *http.Request) string {
	var body struct {
		DeviceID string `json:"device_id"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	return body.DeviceID
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
