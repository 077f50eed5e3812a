package player

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ekyaaa/cafe-tone/models"
)

// HTTPClient implements API against a running server using the same
// form-login and cookie session a browser would.
type HTTPClient struct {
	base string
	http *http.Client
}

func NewHTTPClient(base string) (*HTTPClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &HTTPClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			// the login form answers with a redirect; following it would
			// just fetch the home page
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Login authenticates with the password form and keeps the session cookie.
func (c *HTTPClient) Login(ctx context.Context, email, password string) error {
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		return fmt.Errorf("login failed (%d)", resp.StatusCode)
	}

	return nil
}

func (c *HTTPClient) CheckConnection(ctx context.Context) (*models.ConnectionStatus, error) {
	status := &models.ConnectionStatus{}
	if err := c.getJSON(ctx, "/api/spotify/check-connection", status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *HTTPClient) CurrentPlayback(ctx context.Context) (*models.PlaybackState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/spotify/current-playback", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
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

func (c *HTTPClient) RecentlyPlayed(ctx context.Context, limit int) ([]models.Track, error) {
	var payload struct {
		Items []struct {
			Track models.Track `json:"track"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "/api/spotify/recently-played?limit="+strconv.Itoa(limit), &payload); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(payload.Items))
	for _, item := range payload.Items {
		tracks = append(tracks, item.Track)
	}

	return tracks, nil
}

func (c *HTTPClient) Token(ctx context.Context) (string, error) {
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.getJSON(ctx, "/api/spotify/token", &payload); err != nil {
		return "", err
	}
	return payload.AccessToken, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, payload.Error)
	}

	return fmt.Errorf("server error (%d)", resp.StatusCode)
}
