package service

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/devshare/control-server-go/internal/config"
	apperrors "github.com/devshare/control-server-go/internal/errors"
	"github.com/devshare/control-server-go/internal/events"
	"github.com/devshare/control-server-go/internal/livestate"
	"github.com/devshare/control-server-go/internal/model"
	"github.com/devshare/control-server-go/internal/repository"
)

// DeviceService merges durable device rows with live-state cache entries and
// maintains the cache on writes. It holds no state of its own; every call
// goes back to the adapters.
type DeviceService struct {
	repo   repository.DeviceRepository
	states livestate.DeviceStateStore
	pub    events.Publisher
}

func NewDeviceService(
	repo repository.DeviceRepository,
	states livestate.DeviceStateStore,
	pub events.Publisher,
) *DeviceService {
	return &DeviceService{
		repo:   repo,
		states: states,
		pub:    pub,
	}
}

// GetByID returns the device merged with its live state. A cache miss or
// unreadable entry degrades to status unknown; only a missing durable row is
// an error.
func (s *DeviceService) GetByID(ctx context.Context, id string) (*model.ExtendedDevice, error) {
	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil {
		return nil, apperrors.NotFound("Device")
	}

	merged := s.mergeLiveState(ctx, *device)
	return &merged, nil
}

func (s *DeviceService) GetByMac(ctx context.Context, mac string) (*model.ExtendedDevice, error) {
	device, err := s.repo.FindByMac(ctx, mac)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil {
		return nil, apperrors.NotFound("Device")
	}

	merged := s.mergeLiveState(ctx, *device)
	return &merged, nil
}

// List pages devices. Status is a live-state field, so sorting by it cannot
// be pushed to the store: the full filtered set is merged, sorted lexically
// and windowed in memory, and the total is the pre-window size. Any other
// sort key pages at the store and merges live state only for the page.
func (s *DeviceService) List(ctx context.Context, params model.ListDevicesParams) (*model.DeviceList, error) {
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

	orderBy := params.OrderBy
	if orderBy == "" {
		orderBy = model.DeviceOrderByCreatedAt
	}

	direction := params.OrderDirection
	if direction == "" {
		direction = model.OrderAsc
	}

	var merged []model.ExtendedDevice
	var total int

	if orderBy == model.DeviceOrderByStatus {
		rows, err := s.repo.FindAllFiltered(ctx, params.OwnerID)
		if err != nil {
			return nil, apperrors.Database(err)
		}

		merged, err = s.mergeLiveStates(ctx, rows)
		if err != nil {
			return nil, err
		}

		sort.SliceStable(merged, func(i, j int) bool {
			if direction == model.OrderAsc {
				return merged[i].Status < merged[j].Status
			}
			return merged[i].Status > merged[j].Status
		})

		total = len(merged)
		merged = window(merged, offset, limit)
	} else {
		rows, count, err := s.repo.FindPage(ctx, model.ListDevicesParams{
			OwnerID:        params.OwnerID,
			Limit:          limit,
			Offset:         offset,
			OrderBy:        orderBy,
			OrderDirection: direction,
		})
		if err != nil {
			return nil, apperrors.Database(err)
		}

		merged, err = s.mergeLiveStates(ctx, rows)
		if err != nil {
			return nil, err
		}

		total = count
	}

	return &model.DeviceList{
		Devices: merged,
		Pagination: model.Pagination{
			Limit:      limit,
			TotalCount: total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

func (s *DeviceService) Create(ctx context.Context, params model.CreateDeviceParams) (*model.ExtendedDevice, error) {
	params.CoOwnersID = sanitizeCoOwners(params.OwnerID, params.CoOwnersID)

	device, err := s.repo.Create(ctx, params)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.Conflict("A device with this mac is already registered")
		}
		return nil, apperrors.Database(err)
	}

	s.publish(ctx, events.SubjectDeviceCreated, device.ID)

	merged := s.mergeLiveState(ctx, *device)
	return &merged, nil
}

func (s *DeviceService) Update(ctx context.Context, id string, params model.UpdateDeviceParams) (*model.ExtendedDevice, error) {
	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil {
		return nil, apperrors.NotFound("Device")
	}

	device.Name = params.Name
	device.LoggedUserName = params.LoggedUserName
	device.Mac = params.Mac
	device.CoOwnersID = sanitizeCoOwners(device.OwnerID, params.CoOwnersID)
	device.CanHostConnections = params.CanHostConnections
	device.Specs = params.Specs

	return s.persistUpdate(ctx, device)
}

// Patch applies a read-merge-write partial update; nil fields keep the
// current value.
func (s *DeviceService) Patch(ctx context.Context, id string, params model.PatchDeviceParams) (*model.ExtendedDevice, error) {
	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil {
		return nil, apperrors.NotFound("Device")
	}

	if params.Name != nil {
		device.Name = *params.Name
	}
	if params.LoggedUserName != nil {
		device.LoggedUserName = *params.LoggedUserName
	}
	if params.Mac != nil {
		device.Mac = *params.Mac
	}
	if params.CoOwnersID != nil {
		device.CoOwnersID = sanitizeCoOwners(device.OwnerID, *params.CoOwnersID)
	}
	if params.CanHostConnections != nil {
		device.CanHostConnections = *params.CanHostConnections
	}
	if params.Specs != nil {
		device.Specs = *params.Specs
	}

	return s.persistUpdate(ctx, device)
}

func (s *DeviceService) persistUpdate(ctx context.Context, device *model.Device) (*model.ExtendedDevice, error) {
	updated, err := s.repo.Update(ctx, device)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.Conflict("A device with this mac is already registered")
		}
		return nil, apperrors.Database(err)
	}
	if updated == nil {
		return nil, apperrors.NotFound("Device")
	}

	s.publish(ctx, events.SubjectDeviceUpdated, updated.ID)

	merged := s.mergeLiveState(ctx, *updated)
	return &merged, nil
}

// Delete removes the durable row and drops the live-state entry. Returns
// false without error when nothing was deleted.
func (s *DeviceService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, apperrors.Database(err)
	}

	if deleted {
		if err := s.states.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("deviceId", id).Msg("failed to delete device live state")
		} else {
			s.publish(ctx, events.SubjectDeviceKVDelete, id)
		}
		s.publish(ctx, events.SubjectDeviceDeleted, id)
	}

	return deleted, nil
}

// AddCoOwner grants userID co-ownership. Granting to the owner or to an
// existing co-owner is a no-op, which makes at-least-once delivery of
// approval facts safe.
func (s *DeviceService) AddCoOwner(ctx context.Context, deviceID, userID string) error {
	device, err := s.repo.FindByID(ctx, deviceID)
	if err != nil {
		return apperrors.Database(err)
	}
	if device == nil {
		return apperrors.NotFound("Device")
	}

	if userID == device.OwnerID || device.HasCoOwner(userID) {
		return nil
	}

	device.CoOwnersID = append(device.CoOwnersID, userID)

	if _, err := s.persistUpdate(ctx, device); err != nil {
		return err
	}

	log.Info().Str("deviceId", deviceID).Str("userId", userID).Msg("co-owner added")
	return nil
}

// GetLiveState returns the raw cache entry, or (nil, nil) when the entry is
// missing or unreadable. Only a cache infrastructure failure is an error.
func (s *DeviceService) GetLiveState(ctx context.Context, id string) (*model.DeviceLiveState, error) {
	state, err := s.states.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to read device live state", err)
	}
	return state, nil
}

// UpsertLiveState shallow-merges the patch over the current entry (or an
// empty one) and writes it back.
func (s *DeviceService) UpsertLiveState(ctx context.Context, id string, patch model.DeviceLiveStatePatch) (*model.DeviceLiveState, error) {
	current, err := s.states.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("deviceId", id).Msg("live-state read failed before upsert, starting from empty")
		current = nil
	}

	merged := patch.Apply(current)

	if err := s.states.Set(ctx, id, merged); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to write device live state", err)
	}

	s.publish(ctx, events.SubjectDeviceKVUpsert, id)

	return merged, nil
}

// mergeLiveState builds the merged read view. Any cache failure degrades to
// unknown status with empty lists; it never surfaces to the caller.
func (s *DeviceService) mergeLiveState(ctx context.Context, device model.Device) model.ExtendedDevice {
	merged := model.ExtendedDevice{
		Device:           device,
		Status:           model.DeviceStatusUnknown,
		SocketIDs:        []string{},
		HostingSessions:  []string{},
		WatchingSessions: []string{},
	}

	state, err := s.states.Get(ctx, device.ID)
	if err != nil {
		log.Warn().Err(err).Str("deviceId", device.ID).Msg("live-state read failed, falling back to unknown")
		return merged
	}
	if state == nil {
		return merged
	}

	if state.Status != "" {
		merged.Status = state.Status
	}
	merged.IP = state.IP
	merged.IdleSince = state.IdleSince
	if state.SocketIDs != nil {
		merged.SocketIDs = state.SocketIDs
	}
	if state.HostingSessions != nil {
		merged.HostingSessions = state.HostingSessions
	}
	if state.WatchingSessions != nil {
		merged.WatchingSessions = state.WatchingSessions
	}

	return merged
}

// mergeLiveStates merges a set of rows with bounded concurrency, one cache
// lookup per row.
func (s *DeviceService) mergeLiveStates(ctx context.Context, devices []model.Device) ([]model.ExtendedDevice, error) {
	merged := make([]model.ExtendedDevice, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.LiveStateMergeConcurrency)

	for i := range devices {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			merged[i] = s.mergeLiveState(gctx, devices[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merged, nil
}

func (s *DeviceService) publish(ctx context.Context, subject, id string) {
	if err := s.pub.Publish(ctx, subject, events.Fact{ID: id}); err != nil {
		log.Error().Err(err).Str("subject", subject).Str("id", id).Msg("failed to publish device event")
	}
}

func sanitizeCoOwners(ownerID string, coOwners []string) []string {
	seen := make(map[string]struct{}, len(coOwners))
	result := make([]string, 0, len(coOwners))

	for _, id := range coOwners {
		if id == "" || id == ownerID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}

	return result
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
