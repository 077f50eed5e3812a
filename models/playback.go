package models

// PlaybackState mirrors the shape of Spotify's player endpoint so viewers
// polling the server see the same payload the controller derives from its
// live session.
type PlaybackState struct {
	IsPlaying    bool    `json:"is_playing"`
	ProgressMs   int64   `json:"progress_ms"`
	Item         *Track  `json:"item"`
	Device       *Device `json:"device,omitempty"`
	ShuffleState bool    `json:"shuffle_state"`
	RepeatState  string  `json:"repeat_state,omitempty"`
	Timestamp    int64   `json:"timestamp,omitempty"`
}

// Track is a playable item as reported by the provider.
type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
	DurationMs int64    `json:"duration_ms"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name"`
	Images []Image `json:"images,omitempty"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

// Device is a playback target known to the provider.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent int    `json:"volume_percent"`
}
