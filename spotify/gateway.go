package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ekyaaa/cafe-tone/models"
)

const defaultAPIBase = "https://api.spotify.com/v1"

// Command is the closed set of playback operations the gateway will issue.
// Handlers map routes onto these; nothing dispatches on raw strings.
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdNext
	CmdPrevious
	CmdSeek
	CmdVolume
	CmdTransfer
)

func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "play"
	case CmdPause:
		return "pause"
	case CmdNext:
		return "next"
	case CmdPrevious:
		return "previous"
	case CmdSeek:
		return "seek"
	case CmdVolume:
		return "volume"
	case CmdTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// ControlError is a provider rejection of a control command. Control writes
// are never retried; the error carries the provider's status and reason so
// the client can show it and the user can decide what to do.
type ControlError struct {
	Command Command
	Status  int
	Reason  string
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("spotify: %s failed (%d): %s", e.Command, e.Status, e.Reason)
}

// Gateway talks to the Spotify Web API with a single shared token per call.
// All requests pass through one rate limiter so a burst of viewers cannot
// starve the controller.
type Gateway struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{
		base:    defaultAPIBase,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		logger:  logger,
	}
}

// NewGatewayWithBase is the test constructor; it points the gateway at a
// local server instead of the real API.
func NewGatewayWithBase(base string, logger *slog.Logger) *Gateway {
	g := NewGateway(logger)
	g.base = base
	return g
}

func (g *Gateway) newRequest(ctx context.Context, method, path, accessToken string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// CurrentPlayback reads the shared player state. A 204 or 404 means no
// device is active; that is idle, not an error, so the caller gets nil, nil.
// Reads are retried once on transport failure since they are idempotent.
func (g *Gateway) CurrentPlayback(ctx context.Context, accessToken string) (*models.PlaybackState, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var req *http.Request
		req, err = g.newRequest(ctx, http.MethodGet, "/me/player", accessToken, nil)
		if err != nil {
			return nil, err
		}

		resp, err = g.http.Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, err
		}
		g.logger.Warn("playback read failed, retrying", "error", err)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	state := &models.PlaybackState{}
	if err := json.NewDecoder(resp.Body).Decode(state); err != nil {
		return nil, err
	}

	return state, nil
}

// RecentlyPlayed returns the provider's recently-played payload untouched.
func (g *Gateway) RecentlyPlayed(ctx context.Context, accessToken string, limit int) (json.RawMessage, error) {
	return g.getRaw(ctx, accessToken, "/me/player/recently-played?limit="+strconv.Itoa(limit))
}

// Devices lists the playback targets visible to the connected account.
func (g *Gateway) Devices(ctx context.Context, accessToken string) (json.RawMessage, error) {
	return g.getRaw(ctx, accessToken, "/me/player/devices")
}

// Search proxies a track/artist/album search.
func (g *Gateway) Search(ctx context.Context, accessToken, query, types string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", types)
	q.Set("limit", strconv.Itoa(limit))
	return g.getRaw(ctx, accessToken, "/search?"+q.Encode())
}

// TopTracks returns the connected account's top tracks over the given time
// range ("short_term", "medium_term" or "long_term").
func (g *Gateway) TopTracks(ctx context.Context, accessToken, timeRange string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if timeRange != "" {
		q.Set("time_range", timeRange)
	}
	q.Set("limit", strconv.Itoa(limit))
	return g.getRaw(ctx, accessToken, "/me/top/tracks?"+q.Encode())
}

// Playlists returns a page of the connected account's playlists.
func (g *Gateway) Playlists(ctx context.Context, accessToken string, limit, offset int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return g.getRaw(ctx, accessToken, "/me/playlists?"+q.Encode())
}

// PlaylistTracks returns a page of one playlist's items.
func (g *Gateway) PlaylistTracks(ctx context.Context, accessToken, playlistID string, limit, offset int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return g.getRaw(ctx, accessToken, "/playlists/"+url.PathEscape(playlistID)+"/tracks?"+q.Encode())
}

func (g *Gateway) getRaw(ctx context.Context, accessToken, path string) (json.RawMessage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := g.newRequest(ctx, http.MethodGet, path, accessToken, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return json.RawMessage(`{}`), nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(body), nil
}

// controlPath appends the optional device_id to a player path.
func controlPath(path string, q url.Values, deviceID string) string {
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// PlayOffset selects where in a context playback starts, by index or by
// track URI.
type PlayOffset struct {
	Position *int   `json:"position,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// PlayOptions are the optional parameters of a play command. The zero value
// is a plain resume.
type PlayOptions struct {
	DeviceID   string
	ContextURI string
	URIs       []string
	PositionMs *int64
	Offset     *PlayOffset
}

// Play resumes playback, optionally starting a specific context or track set
// at a specific position on a specific device.
func (g *Gateway) Play(ctx context.Context, accessToken string, opts PlayOptions) error {
	payload := map[string]any{}
	if opts.ContextURI != "" {
		payload["context_uri"] = opts.ContextURI
	}
	if len(opts.URIs) > 0 {
		payload["uris"] = opts.URIs
	}
	if opts.PositionMs != nil {
		payload["position_ms"] = *opts.PositionMs
	}
	if opts.Offset != nil {
		payload["offset"] = opts.Offset
	}

	var body io.Reader
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = jsonBody(b)
	}

	path := controlPath("/me/player/play", url.Values{}, opts.DeviceID)
	return g.control(ctx, accessToken, CmdPlay, http.MethodPut, path, body)
}

func (g *Gateway) Pause(ctx context.Context, accessToken, deviceID string) error {
	path := controlPath("/me/player/pause", url.Values{}, deviceID)
	return g.control(ctx, accessToken, CmdPause, http.MethodPut, path, nil)
}

func (g *Gateway) Next(ctx context.Context, accessToken, deviceID string) error {
	path := controlPath("/me/player/next", url.Values{}, deviceID)
	return g.control(ctx, accessToken, CmdNext, http.MethodPost, path, nil)
}

func (g *Gateway) Previous(ctx context.Context, accessToken, deviceID string) error {
	path := controlPath("/me/player/previous", url.Values{}, deviceID)
	return g.control(ctx, accessToken, CmdPrevious, http.MethodPost, path, nil)
}

func (g *Gateway) Seek(ctx context.Context, accessToken, deviceID string, positionMs int64) error {
	if positionMs < 0 {
		positionMs = 0
	}
	q := url.Values{}
	q.Set("position_ms", strconv.FormatInt(positionMs, 10))
	path := controlPath("/me/player/seek", q, deviceID)
	return g.control(ctx, accessToken, CmdSeek, http.MethodPut, path, nil)
}

// SetVolume sets the device volume, clamped to 0-100.
func (g *Gateway) SetVolume(ctx context.Context, accessToken, deviceID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	q := url.Values{}
	q.Set("volume_percent", strconv.Itoa(percent))
	path := controlPath("/me/player/volume", q, deviceID)
	return g.control(ctx, accessToken, CmdVolume, http.MethodPut, path, nil)
}

// TransferPlayback moves playback to another device.
func (g *Gateway) TransferPlayback(ctx context.Context, accessToken, deviceID string, play bool) error {
	b, err := json.Marshal(map[string]any{
		"device_ids": []string{deviceID},
		"play":       play,
	})
	if err != nil {
		return err
	}
	return g.control(ctx, accessToken, CmdTransfer, http.MethodPut, "/me/player", jsonBody(b))
}

// control issues one command, exactly once. Failures surface as ControlError
// and are never retried here: replaying a skip or a seek is worse than
// reporting it.
func (g *Gateway) control(ctx context.Context, accessToken string, cmd Command, method, path string, body io.Reader) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := g.newRequest(ctx, method, path, accessToken, body)
	if err != nil {
		return err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	reason := readErrorReason(resp)
	g.logger.Warn("control command rejected", "command", cmd.String(), "status", resp.StatusCode, "reason", reason)

	return &ControlError{Command: cmd, Status: resp.StatusCode, Reason: reason}
}

// apiError turns a non-2xx read response into an error carrying the
// provider's message.
func apiError(resp *http.Response) error {
	return fmt.Errorf("spotify API error (%d): %s", resp.StatusCode, readErrorReason(resp))
}

// readErrorReason pulls the message out of Spotify's error envelope,
// {"error": {"status": ..., "message": ...}}, falling back to the raw body.
func readErrorReason(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return resp.Status
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}

	return string(body)
}

func jsonBody(b []byte) io.Reader {
	return bytes.NewReader(b)
}
