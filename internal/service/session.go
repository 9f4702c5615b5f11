package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/devshare/control-server-go/internal/config"
	apperrors "github.com/devshare/control-server-go/internal/errors"
	"github.com/devshare/control-server-go/internal/events"
	"github.com/devshare/control-server-go/internal/livestate"
	"github.com/devshare/control-server-go/internal/model"
	"github.com/devshare/control-server-go/internal/repository"
)

// SessionService orchestrates session creation and teardown across the
// durable store, the live-state cache and the event bus. The steps of Create
// are ordered, not transactional: a failure after the row is written leaves a
// session without full cache mirroring, which the reconciliation sweep and
// the merge-on-read paths repair.
type SessionService struct {
	repo    repository.SessionRepository
	devices *DeviceService
	states  livestate.SessionStateStore
	pub     events.Publisher
}

func NewSessionService(
	repo repository.SessionRepository,
	devices *DeviceService,
	states livestate.SessionStateStore,
	pub events.Publisher,
) *SessionService {
	return &SessionService{
		repo:    repo,
		devices: devices,
		states:  states,
		pub:     pub,
	}
}

// Create starts a session on the host device for the given caller.
//
// The host must exist, the caller must own or co-own it, its live state must
// be present and available. Watchers that fail to resolve are dropped; an
// empty resolved set rejects the request. After the row is written the host
// and watcher cache entries are updated best-effort and the create fact is
// published with a message id, which must succeed.
func (s *SessionService) Create(ctx context.Context, callerID string, params model.CreateSessionParams) (*model.Session, error) {
	host, err := s.devices.GetByID(ctx, params.DeviceID)
	if err != nil {
		return nil, err
	}

	if callerID != host.OwnerID && !host.HasCoOwner(callerID) {
		return nil, apperrors.Forbidden("Cannot start this session because you are not the owner or co-owner of this device")
	}

	hostState, err := s.devices.GetLiveState(ctx, params.DeviceID)
	if err != nil || hostState == nil {
		// A live-state read failure behaves identically to "device not live".
		return nil, apperrors.NotFound("Device live state")
	}

	if hostState.Status != model.DeviceStatusAvailable {
		return nil, apperrors.Unavailable("Device is not available")
	}

	watchers := s.resolveWatchers(ctx, params.DeviceID, params.Watchers)
	if len(watchers) == 0 {
		return nil, apperrors.BadRequest("The session has no devices to stream")
	}

	session, err := s.repo.Create(ctx, params.DeviceID, watchers)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	for _, watcher := range watchers {
		s.indexWatchingSession(ctx, watcher.ID, session.ID)
	}

	hosting := append(hostState.HostingSessions, session.ID)
	if _, err := s.devices.UpsertLiveState(ctx, params.DeviceID, model.DeviceLiveStatePatch{
		HostingSessions: &hosting,
	}); err != nil {
		log.Error().Err(err).Str("deviceId", params.DeviceID).Str("sessionId", session.ID).
			Msg("failed to index hosting session, will be reconciled")
	}

	if err := s.states.Set(ctx, session.ID, &model.SessionLiveState{
		HostID:    params.DeviceID,
		CreatedAt: session.CreatedAt,
		Watchers:  watchers,
	}); err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).
			Msg("failed to write session live state, session will not show as living")
	}

	if _, err := s.pub.PublishDedup(ctx, events.SubjectSessionCreate, sessionMsgID(events.SubjectSessionCreate, session.ID), events.Fact{ID: session.ID}); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to publish session create event", err)
	}

	return session, nil
}

// resolveWatchers resolves each requested watcher device. Failures are
// logged and dropped rather than aborting the creation; the host itself is
// never a watcher.
func (s *SessionService) resolveWatchers(ctx context.Context, hostID string, requested []model.SessionWatcherRef) []model.SessionWatcherRef {
	resolved := make([]model.SessionWatcherRef, 0, len(requested))

	for _, watcher := range requested {
		if watcher.ID == hostID {
			log.Warn().Str("deviceId", watcher.ID).Msg("host device requested as its own watcher, dropping")
			continue
		}

		if _, err := s.devices.GetByID(ctx, watcher.ID); err != nil {
			log.Error().Err(err).Str("deviceId", watcher.ID).Msg("failed to resolve watcher device, dropping")
			continue
		}

		resolved = append(resolved, watcher)
	}

	return resolved
}

// indexWatchingSession appends the session id to the watcher's live-state
// index. A watcher with missing live state is tolerated; it is picked up on
// the next reconciliation read.
func (s *SessionService) indexWatchingSession(ctx context.Context, deviceID, sessionID string) {
	state, err := s.devices.GetLiveState(ctx, deviceID)
	if err != nil || state == nil {
		log.Warn().Err(err).Str("deviceId", deviceID).Str("sessionId", sessionID).
			Msg("watcher has no live state, skipping session index update")
		return
	}

	watching := append(state.WatchingSessions, sessionID)
	if _, err := s.devices.UpsertLiveState(ctx, deviceID, model.DeviceLiveStatePatch{
		WatchingSessions: &watching,
	}); err != nil {
		log.Error().Err(err).Str("deviceId", deviceID).Str("sessionId", sessionID).
			Msg("failed to index watching session")
	}
}

// FindByID merges the durable row with the session live-state entry. The
// durable row is the membership source of truth; the cache refines the
// per-watcher control flags and marks the session living.
func (s *SessionService) FindByID(ctx context.Context, id string) (*model.SessionView, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	views := s.attachLiveState(ctx, []model.Session{*session})
	return &views[0], nil
}

// List pages sessions newest first. When no date range is given the window
// defaults to the last 90 days ending now.
func (s *SessionService) List(ctx context.Context, params model.ListSessionsParams) (*model.SessionList, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = config.DefaultPageSize
	}
	if limit > config.MaxPageSize {
		limit = config.MaxPageSize
	}

	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	now := time.Now()
	start := now.Add(-config.SessionListWindow)
	end := now
	if params.StartDate != nil {
		start = *params.StartDate
	}
	if params.EndDate != nil {
		end = *params.EndDate
	}

	sessions, total, err := s.repo.FindPage(ctx, model.ListSessionsParams{
		StartDate: &start,
		EndDate:   &end,
		DeviceID:  params.DeviceID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	return &model.SessionList{
		Sessions: s.attachLiveState(ctx, sessions),
		Pagination: model.Pagination{
			Limit:      limit,
			TotalCount: total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// Update applies a partial update. The duration is derived from the elapsed
// time between creation and this update, so it is recomputed on every update
// whether or not one was supplied.
func (s *SessionService) Update(ctx context.Context, id string, params model.UpdateSessionParams) (*model.SessionView, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	now := time.Now()
	duration := formatDuration(now.Sub(session.CreatedAt))

	if err := s.repo.Update(ctx, id, duration, now, params.Watchers); err != nil {
		return nil, apperrors.Database(err)
	}

	return s.FindByID(ctx, id)
}

// Delete removes the durable row and, when a row existed, signals close.
func (s *SessionService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, apperrors.Database(err)
	}
	if !deleted {
		return false, nil
	}

	if _, err := s.Close(ctx, id); err != nil {
		return true, err
	}

	return true, nil
}

// Close publishes the stop fact. A duplicate acknowledgment means the
// session was already closed and yields false. The live-state entry is
// removed by the stop-fact consumer on the device side, not here; only the
// agent knows when the stream has actually torn down.
func (s *SessionService) Close(ctx context.Context, id string) (bool, error) {
	duplicate, err := s.pub.PublishDedup(ctx, events.SubjectSessionStop, sessionMsgID(events.SubjectSessionStop, id), events.Fact{ID: id})
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to publish session stop event", err)
	}

	if duplicate {
		return false, nil
	}

	return true, nil
}

func (s *SessionService) attachLiveState(ctx context.Context, sessions []model.Session) []model.SessionView {
	views := make([]model.SessionView, len(sessions))
	for i := range sessions {
		views[i] = model.SessionView{Session: sessions[i]}
	}

	if len(views) == 0 {
		return views
	}

	// A single row skips the key listing and reads the entry directly.
	if len(views) == 1 {
		s.refineView(ctx, &views[0])
		return views
	}

	keys, err := s.states.Keys(ctx)
	if err != nil {
		// Full cache outage: everything reads as not living.
		log.Warn().Err(err).Msg("failed to list session live-state keys, sessions shown as not living")
		return views
	}

	live := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		live[key] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.LiveStateMergeConcurrency)

	for i := range views {
		if _, ok := live[views[i].ID]; !ok {
			continue
		}
		i := i
		g.Go(func() error {
			s.refineView(gctx, &views[i])
			return nil
		})
	}

	_ = g.Wait()

	return views
}

func (s *SessionService) refineView(ctx context.Context, view *model.SessionView) {
	state, err := s.states.Get(ctx, view.ID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", view.ID).Msg("failed to read session live state")
		return
	}
	if state == nil {
		return
	}

	view.IsLiving = true

	controlling := make(map[string]bool, len(state.Watchers))
	for _, w := range state.Watchers {
		controlling[w.ID] = w.IsControlling
	}
	for i := range view.Watchers {
		view.Watchers[i].IsControlling = controlling[view.Watchers[i].DeviceID]
	}
}

func sessionMsgID(subject, id string) string {
	return fmt.Sprintf("%s:%s", subject, id)
}

// formatDuration renders an elapsed time as HH:MM.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%02d:%02d", hours, minutes)
}
