package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devshare/control-server-go/internal/livestate"
	"github.com/devshare/control-server-go/internal/model"
	"github.com/devshare/control-server-go/internal/repository"
)

// liveStateUpserter is the slice of the device service the sweep needs.
type liveStateUpserter interface {
	UpsertLiveState(ctx context.Context, id string, patch model.DeviceLiveStatePatch) (*model.DeviceLiveState, error)
}

// ReconcileJob periodically repairs the live-state cache against the durable
// store. Session creation is not transactional, so device entries can index
// sessions whose rows are gone and session entries can outlive their rows;
// the sweep prunes both.
type ReconcileJob struct {
	deviceStates  livestate.DeviceStateStore
	sessionStates livestate.SessionStateStore
	sessionRepo   repository.SessionRepository
	devices       liveStateUpserter
	interval      time.Duration
	done          chan struct{}
}

func NewReconcileJob(
	deviceStates livestate.DeviceStateStore,
	sessionStates livestate.SessionStateStore,
	sessionRepo repository.SessionRepository,
	devices liveStateUpserter,
	interval time.Duration,
) *ReconcileJob {
	return &ReconcileJob{
		deviceStates:  deviceStates,
		sessionStates: sessionStates,
		sessionRepo:   sessionRepo,
		devices:       devices,
		interval:      interval,
		done:          make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("reconcile job started")
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	log.Info().Msg("reconcile job stopped")
}

func (j *ReconcileJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.reconcile()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.reconcile()
		}
	}
}

func (j *ReconcileJob) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	j.pruneDeviceIndexes(ctx)
	j.pruneSessionEntries(ctx)
}

// pruneDeviceIndexes drops session ids from device hosting and watching
// indexes when the session row no longer exists.
func (j *ReconcileJob) pruneDeviceIndexes(ctx context.Context) {
	deviceIDs, err := j.deviceStates.Keys(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list device live-state keys")
		return
	}

	for _, deviceID := range deviceIDs {
		state, err := j.deviceStates.Get(ctx, deviceID)
		if err != nil || state == nil {
			continue
		}
		if len(state.HostingSessions) == 0 && len(state.WatchingSessions) == 0 {
			continue
		}

		referenced := append(append([]string{}, state.HostingSessions...), state.WatchingSessions...)
		existing, err := j.sessionRepo.ExistingIDs(ctx, referenced)
		if err != nil {
			log.Error().Err(err).Str("deviceId", deviceID).Msg("failed to check session rows")
			continue
		}

		hosting, droppedHosting := keep(state.HostingSessions, existing)
		watching, droppedWatching := keep(state.WatchingSessions, existing)
		if droppedHosting == 0 && droppedWatching == 0 {
			continue
		}

		if _, err := j.devices.UpsertLiveState(ctx, deviceID, model.DeviceLiveStatePatch{
			HostingSessions:  &hosting,
			WatchingSessions: &watching,
		}); err != nil {
			log.Error().Err(err).Str("deviceId", deviceID).Msg("failed to prune session indexes")
			continue
		}

		log.Info().Str("deviceId", deviceID).
			Int("hosting", droppedHosting).Int("watching", droppedWatching).
			Msg("pruned dangling session indexes")
	}
}

// pruneSessionEntries removes session live-state entries whose durable row is
// gone.
func (j *ReconcileJob) pruneSessionEntries(ctx context.Context) {
	sessionIDs, err := j.sessionStates.Keys(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list session live-state keys")
		return
	}
	if len(sessionIDs) == 0 {
		return
	}

	existing, err := j.sessionRepo.ExistingIDs(ctx, sessionIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to check session rows")
		return
	}

	pruned := 0
	for _, id := range sessionIDs {
		if _, ok := existing[id]; ok {
			continue
		}
		if err := j.sessionStates.Delete(ctx, id); err != nil {
			log.Error().Err(err).Str("sessionId", id).Msg("failed to delete orphan session entry")
			continue
		}
		pruned++
	}

	if pruned > 0 {
		log.Info().Int("count", pruned).Msg("pruned orphan session live-state entries")
	}
}

func keep(ids []string, existing map[string]struct{}) ([]string, int) {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			kept = append(kept, id)
		}
	}
	return kept, len(ids) - len(kept)
}
