package player

import (
	"context"
	"time"

	"github.com/ekyaaa/cafe-tone/models"
)

// State is where the synchronizer currently sits. Every session starts in
// Loading and lands in exactly one of the other four after the first
// connection check.
type State int

const (
	StateLoading State = iota
	StateNoAdminConnected
	StateAdminDisconnected
	StateViewer
	StateController
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateNoAdminConnected:
		return "no-admin-connected"
	case StateAdminDisconnected:
		return "admin-disconnected"
	case StateViewer:
		return "viewer"
	case StateController:
		return "controller"
	default:
		return "unknown"
	}
}

// API is the server surface the synchronizer consumes. HTTPClient implements
// it against a running server; tests implement it directly.
type API interface {
	CheckConnection(ctx context.Context) (*models.ConnectionStatus, error)
	CurrentPlayback(ctx context.Context) (*models.PlaybackState, error)
	RecentlyPlayed(ctx context.Context, limit int) ([]models.Track, error)
	Token(ctx context.Context) (string, error)
}

// Session is a live push connection to the provider's in-browser player. The
// returned channel closes when the session ends.
type Session interface {
	Connect(ctx context.Context, accessToken string) (<-chan models.PlaybackState, error)
	Close() error
}

// Snapshot is a point-in-time view of the synchronizer for rendering.
// Progress carries the interpolated position; it is presentation-only and
// never feeds back into control decisions.
type Snapshot struct {
	State      State
	Status     *models.ConnectionStatus
	Track      *models.Track
	IsPlaying  bool
	ProgressMs int64
	UpdatedAt  time.Time
}
