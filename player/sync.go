package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ekyaaa/cafe-tone/models"
)

// Synchronizer keeps a local mirror of the shared player. Viewers poll the
// server; the controller additionally holds a push session. Between
// authoritative updates a sub-second ticker advances the progress counter so
// the UI moves smoothly.
type Synchronizer struct {
	api          API
	session      Session
	pollInterval time.Duration
	tickInterval time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	state     State
	status    *models.ConnectionStatus
	track     *models.Track
	isPlaying bool

	// authoritative progress and the instant it was observed; interpolation
	// derives from these, never mutates them until the next update
	baseProgressMs int64
	baseAt         time.Time
	updatedAt      time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnTick, when set before Start, is called from the interpolation ticker
	// with a fresh snapshot. Displays hang their redraw on it.
	OnTick func(Snapshot)
}

func NewSynchronizer(api API, session Session, pollInterval, tickInterval time.Duration, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		api:          api,
		session:      session,
		pollInterval: pollInterval,
		tickInterval: tickInterval,
		logger:       logger,
		state:        StateLoading,
	}
}

// Start resolves the connection and runs the loops for the resulting state.
// It returns once the initial state is decided; the loops run until Stop.
func (s *Synchronizer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.state = StateLoading
	s.mu.Unlock()

	status, err := s.api.CheckConnection(runCtx)
	if err != nil {
		// stay in Loading; recovery is an explicit Reconnect
		s.logger.Warn("connection check failed", "error", err)
		return nil
	}

	s.enterState(runCtx, status)
	return nil
}

// Stop tears everything down: loops, tickers and any live session. Safe to
// call more than once.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	if s.session != nil {
		if err := s.session.Close(); err != nil {
			s.logger.Warn("session close failed", "error", err)
		}
	}
}

// Reconnect tears down and re-enters Loading from scratch.
func (s *Synchronizer) Reconnect(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// State returns the current synchronizer state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current view with progress interpolated up to now.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress := s.baseProgressMs
	if s.isPlaying && !s.baseAt.IsZero() {
		progress += time.Since(s.baseAt).Milliseconds()
	}
	if s.track != nil && progress > s.track.DurationMs {
		progress = s.track.DurationMs
	}

	return Snapshot{
		State:      s.state,
		Status:     s.status,
		Track:      s.track,
		IsPlaying:  s.isPlaying,
		ProgressMs: progress,
		UpdatedAt:  s.updatedAt,
	}
}

// enterState maps a connection status onto a state and starts the matching
// loops.
func (s *Synchronizer) enterState(ctx context.Context, status *models.ConnectionStatus) {
	var next State
	switch {
	case !status.IsConnected && status.IsAdmin:
		next = StateAdminDisconnected
	case !status.IsConnected:
		next = StateNoAdminConnected
	case status.CanControl:
		next = StateController
	default:
		next = StateViewer
	}

	s.mu.Lock()
	s.state = next
	s.status = status
	s.mu.Unlock()

	s.logger.Info("player state", "state", next.String())

	// NoAdminConnected and AdminDisconnected are parked display states: no
	// timers run there, and only an explicit Reconnect leaves them
	if next != StateController && next != StateViewer {
		return
	}

	s.seed(ctx)

	if next == StateController && s.session != nil {
		s.wg.Add(1)
		go s.sessionLoop(ctx)
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// seed fills the display before the first poll or push event arrives: the
// live player state when something is on, otherwise the most recent track,
// paused at zero.
func (s *Synchronizer) seed(ctx context.Context) {
	state, err := s.api.CurrentPlayback(ctx)
	if err != nil {
		s.logger.Warn("seed playback read failed", "error", err)
		return
	}

	if state != nil {
		s.applyPlayback(state)
		return
	}

	recent, err := s.api.RecentlyPlayed(ctx, 1)
	if err != nil || len(recent) == 0 {
		return
	}

	s.mu.Lock()
	track := recent[0]
	s.track = &track
	s.isPlaying = false
	s.baseProgressMs = 0
	s.baseAt = time.Now()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// applyPlayback installs an authoritative update, fully overwriting local
// state and resetting the interpolation base.
func (s *Synchronizer) applyPlayback(state *models.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.track = state.Item
	s.isPlaying = state.IsPlaying
	s.baseProgressMs = state.ProgressMs
	s.baseAt = time.Now()
	s.updatedAt = time.Now()
}

// pollLoop refreshes status and playback at a fixed interval. Errors keep
// the last known state; they never crash the loop.
func (s *Synchronizer) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Synchronizer) pollOnce(ctx context.Context) {
	status, err := s.api.CheckConnection(ctx)
	if err != nil {
		s.logger.Warn("connection poll failed", "error", err)
		return
	}

	s.mu.Lock()
	prev := s.state
	s.mu.Unlock()

	next := stateFor(status)
	if prev != next {
		// the world changed under us; restart cleanly rather than mutate
		// loops in place
		s.logger.Info("player state changed", "from", prev.String(), "to", next.String())
		go s.Reconnect(context.WithoutCancel(ctx))
		return
	}

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	state, err := s.api.CurrentPlayback(ctx)
	if err != nil {
		s.logger.Warn("playback poll failed", "error", err)
		return
	}
	if state == nil {
		// nothing playing is "nothing new", keep showing the last track
		s.mu.Lock()
		s.isPlaying = false
		s.mu.Unlock()
		return
	}

	s.applyPlayback(state)
}

func stateFor(status *models.ConnectionStatus) State {
	switch {
	case !status.IsConnected && status.IsAdmin:
		return StateAdminDisconnected
	case !status.IsConnected:
		return StateNoAdminConnected
	case status.CanControl:
		return StateController
	default:
		return StateViewer
	}
}

// sessionLoop consumes push events from the live playback session.
func (s *Synchronizer) sessionLoop(ctx context.Context) {
	defer s.wg.Done()

	access, err := s.api.Token(ctx)
	if err != nil {
		s.logger.Error("token fetch for session failed", "error", err)
		return
	}

	events, err := s.session.Connect(ctx, access)
	if err != nil {
		s.logger.Error("playback session connect failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-events:
			if !ok {
				return
			}
			s.applyPlayback(&state)
		}
	}
}

// tickLoop advances the interpolated position while playing. The base values
// are untouched; Snapshot derives the displayed progress, so a late tick can
// never drift the authoritative state.
func (s *Synchronizer) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.OnTick != nil {
				s.OnTick(s.Snapshot())
			}
		}
	}
}
