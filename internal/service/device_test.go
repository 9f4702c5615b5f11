package service

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/devshare/control-server-go/internal/errors"
	"github.com/devshare/control-server-go/internal/model"
)

type mockDeviceRepo struct {
	mock.Mock
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, id string) (*model.Device, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) FindByMac(ctx context.Context, mac string) (*model.Device, error) {
	args := m.Called(ctx, mac)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) FindPage(ctx context.Context, params model.ListDevicesParams) ([]model.Device, int, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.Device), args.Int(1), args.Error(2)
}

func (m *mockDeviceRepo) FindAllFiltered(ctx context.Context, ownerID string) ([]model.Device, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Device), args.Error(1)
}

func (m *mockDeviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) Update(ctx context.Context, device *model.Device) (*model.Device, error) {
	args := m.Called(ctx, device)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type mockDeviceStates struct {
	mock.Mock
}

func (m *mockDeviceStates) Get(ctx context.Context, deviceID string) (*model.DeviceLiveState, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DeviceLiveState), args.Error(1)
}

func (m *mockDeviceStates) Set(ctx context.Context, deviceID string, state *model.DeviceLiveState) error {
	args := m.Called(ctx, deviceID, state)
	return args.Error(0)
}

func (m *mockDeviceStates) Delete(ctx context.Context, deviceID string) error {
	args := m.Called(ctx, deviceID)
	return args.Error(0)
}

func (m *mockDeviceStates) Keys(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, subject string, payload any) error {
	args := m.Called(ctx, subject, payload)
	return args.Error(0)
}

func (m *mockPublisher) PublishDedup(ctx context.Context, subject, msgID string, payload any) (bool, error) {
	args := m.Called(ctx, subject, msgID, payload)
	return args.Bool(0), args.Error(1)
}

func TestDeviceService_GetByID(t *testing.T) {
	t.Run("merges live state into the device", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindByID", ctx, "dev-1").Return(&model.Device{ID: "dev-1", OwnerID: "user-1"}, nil)
		states.On("Get", mock.Anything, "dev-1").Return(&model.DeviceLiveState{
			Status:          model.DeviceStatusAvailable,
			IP:              "10.0.0.7",
			HostingSessions: []string{"ses-1"},
		}, nil)

		device, err := svc.GetByID(ctx, "dev-1")

		assert.NoError(t, err)
		assert.Equal(t, model.DeviceStatusAvailable, device.Status)
		assert.Equal(t, "10.0.0.7", device.IP)
		assert.Equal(t, []string{"ses-1"}, device.HostingSessions)
		repo.AssertExpectations(t)
	})

	t.Run("cache miss degrades to unknown status", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindByID", ctx, "dev-1").Return(&model.Device{ID: "dev-1"}, nil)
		states.On("Get", mock.Anything, "dev-1").Return(nil, nil)

		device, err := svc.GetByID(ctx, "dev-1")

		assert.NoError(t, err)
		assert.Equal(t, model.DeviceStatusUnknown, device.Status)
		assert.Empty(t, device.SocketIDs)
		assert.NotNil(t, device.SocketIDs)
	})

	t.Run("cache failure degrades to unknown, never an error", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindByID", ctx, "dev-1").Return(&model.Device{ID: "dev-1"}, nil)
		states.On("Get", mock.Anything, "dev-1").Return(nil, assert.AnError)

		device, err := svc.GetByID(ctx, "dev-1")

		assert.NoError(t, err)
		assert.Equal(t, model.DeviceStatusUnknown, device.Status)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindByID", ctx, "dev-missing").Return(nil, nil)

		device, err := svc.GetByID(ctx, "dev-missing")

		assert.Nil(t, device)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestDeviceService_Create(t *testing.T) {
	t.Run("strips the owner and duplicates from co-owners", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("Create", ctx, mock.MatchedBy(func(p model.CreateDeviceParams) bool {
			return len(p.CoOwnersID) == 1 && p.CoOwnersID[0] == "user-2"
		})).Return(&model.Device{ID: "dev-1", OwnerID: "user-1"}, nil)
		states.On("Get", mock.Anything, "dev-1").Return(nil, nil)
		pub.On("Publish", mock.Anything, "devices:created", mock.Anything).Return(nil)

		device, err := svc.Create(ctx, model.CreateDeviceParams{
			Mac:        "aa:bb:cc:dd:ee:ff",
			OwnerID:    "user-1",
			CoOwnersID: []string{"user-1", "user-2", "user-2", ""},
		})

		assert.NoError(t, err)
		assert.Equal(t, "dev-1", device.ID)
		repo.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("duplicate mac is a conflict", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("Create", ctx, mock.Anything).Return(nil, &pq.Error{Code: "23505"})

		device, err := svc.Create(ctx, model.CreateDeviceParams{Mac: "aa:bb:cc:dd:ee:ff", OwnerID: "user-1"})

		assert.Nil(t, device)
		assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))
	})
}

func TestDeviceService_Patch(t *testing.T) {
	t.Run("missing device is not found and nothing is written", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindByID", ctx, "dev-missing").Return(nil, nil)

		device, err := svc.Patch(ctx, "dev-missing", model.PatchDeviceParams{})

		assert.Nil(t, device)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("nil fields keep current values", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		name := "workbench"
		repo.On("FindByID", ctx, "dev-1").Return(&model.Device{
			ID: "dev-1", Name: "old", Mac: "aa:bb:cc:dd:ee:ff", OwnerID: "user-1",
		}, nil)
		repo.On("Update", ctx, mock.MatchedBy(func(d *model.Device) bool {
			return d.Name == "workbench" && d.Mac == "aa:bb:cc:dd:ee:ff"
		})).Return(&model.Device{ID: "dev-1", Name: "workbench", Mac: "aa:bb:cc:dd:ee:ff"}, nil)
		states.On("Get", mock.Anything, "dev-1").Return(nil, nil)
		pub.On("Publish", mock.Anything, "devices:updated", mock.Anything).Return(nil)

		device, err := svc.Patch(ctx, "dev-1", model.PatchDeviceParams{Name: &name})

		assert.NoError(t, err)
		assert.Equal(t, "workbench", device.Name)
		repo.AssertExpectations(t)
	})
}

func TestDeviceService_AddCoOwner(t *testing.T) {
	t.Run("grants co-ownership once", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindByID", ctx, "dev-1").Return(&model.Device{ID: "dev-1", OwnerID: "user-1"}, nil)
		repo.On("Update", ctx, mock.MatchedBy(func(d *model.Device) bool {
			return d.HasCoOwner("user-2")
		})).Return(&model.Device{ID: "dev-1", OwnerID: "user-1", CoOwnersID: []string{"user-2"}}, nil)
		states.On("Get", mock.Anything, "dev-1").Return(nil, nil)
		pub.On("Publish", mock.Anything, "devices:updated", mock.Anything).Return(nil)

		err := svc.AddCoOwner(ctx, "dev-1", "user-2")

		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("existing co-owner is a no-op", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindByID", ctx, "dev-1").Return(&model.Device{
			ID: "dev-1", OwnerID: "user-1", CoOwnersID: []string{"user-2"},
		}, nil)

		err := svc.AddCoOwner(ctx, "dev-1", "user-2")

		assert.NoError(t, err)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("granting to the owner is a no-op", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindByID", ctx, "dev-1").Return(&model.Device{ID: "dev-1", OwnerID: "user-1"}, nil)

		err := svc.AddCoOwner(ctx, "dev-1", "user-1")

		assert.NoError(t, err)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestDeviceService_List(t *testing.T) {
	t.Run("status sort merges the full set and orders lexically", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindAllFiltered", ctx, "user-1").Return([]model.Device{
			{ID: "dev-a"}, {ID: "dev-b"}, {ID: "dev-c"},
		}, nil)
		states.On("Get", mock.Anything, "dev-a").Return(&model.DeviceLiveState{Status: model.DeviceStatusAvailable}, nil)
		states.On("Get", mock.Anything, "dev-b").Return(&model.DeviceLiveState{Status: model.DeviceStatusOffline}, nil)
		states.On("Get", mock.Anything, "dev-c").Return(&model.DeviceLiveState{Status: model.DeviceStatusHosting}, nil)

		list, err := svc.List(ctx, model.ListDevicesParams{
			OwnerID:        "user-1",
			OrderBy:        model.DeviceOrderByStatus,
			OrderDirection: model.OrderDesc,
			Limit:          10,
		})

		assert.NoError(t, err)
		assert.Len(t, list.Devices, 3)
		assert.Equal(t, model.DeviceStatusOffline, list.Devices[0].Status)
		assert.Equal(t, model.DeviceStatusHosting, list.Devices[1].Status)
		assert.Equal(t, model.DeviceStatusAvailable, list.Devices[2].Status)
		assert.Equal(t, 3, list.Pagination.TotalCount)
		repo.AssertNotCalled(t, "FindPage", mock.Anything, mock.Anything)
	})

	t.Run("status sort windows after sorting with the full total", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindAllFiltered", ctx, "").Return([]model.Device{
			{ID: "dev-a"}, {ID: "dev-b"}, {ID: "dev-c"},
		}, nil)
		states.On("Get", mock.Anything, mock.Anything).Return(nil, nil)

		list, err := svc.List(ctx, model.ListDevicesParams{
			OrderBy: model.DeviceOrderByStatus,
			Limit:   2,
			Offset:  2,
		})

		assert.NoError(t, err)
		assert.Len(t, list.Devices, 1)
		assert.Equal(t, 3, list.Pagination.TotalCount)
		assert.Equal(t, 2, list.Pagination.TotalPages)
	})

	t.Run("store-side sort pages at the repository", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindPage", ctx, mock.MatchedBy(func(p model.ListDevicesParams) bool {
			return p.OrderBy == model.DeviceOrderByCreatedAt && p.Limit == 100 && p.Offset == 0
		})).Return([]model.Device{{ID: "dev-a"}}, 42, nil)
		states.On("Get", mock.Anything, "dev-a").Return(nil, nil)

		list, err := svc.List(ctx, model.ListDevicesParams{})

		assert.NoError(t, err)
		assert.Len(t, list.Devices, 1)
		assert.Equal(t, 42, list.Pagination.TotalCount)
		assert.Equal(t, 100, list.Pagination.Limit)
	})

	t.Run("limit is clamped to the ceiling", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("FindPage", ctx, mock.MatchedBy(func(p model.ListDevicesParams) bool {
			return p.Limit == 1000
		})).Return([]model.Device{}, 0, nil)

		list, err := svc.List(ctx, model.ListDevicesParams{Limit: 5000})

		assert.NoError(t, err)
		assert.Equal(t, 1000, list.Pagination.Limit)
	})
}

func TestDeviceService_UpsertLiveState(t *testing.T) {
	t.Run("shallow-merges over the current entry", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		status := model.DeviceStatusHosting
		states.On("Get", ctx, "dev-1").Return(&model.DeviceLiveState{
			Status:          model.DeviceStatusAvailable,
			HostingSessions: []string{"ses-1"},
		}, nil)
		states.On("Set", ctx, "dev-1", mock.MatchedBy(func(s *model.DeviceLiveState) bool {
			return s.Status == model.DeviceStatusHosting && len(s.HostingSessions) == 1
		})).Return(nil)
		pub.On("Publish", mock.Anything, "devices:kv:upsert", mock.Anything).Return(nil)

		state, err := svc.UpsertLiveState(ctx, "dev-1", model.DeviceLiveStatePatch{Status: &status})

		assert.NoError(t, err)
		assert.Equal(t, model.DeviceStatusHosting, state.Status)
		assert.Equal(t, []string{"ses-1"}, state.HostingSessions)
		states.AssertExpectations(t)
	})

	t.Run("absent entry starts from unknown", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		ip := "10.0.0.9"
		states.On("Get", ctx, "dev-1").Return(nil, nil)
		states.On("Set", ctx, "dev-1", mock.MatchedBy(func(s *model.DeviceLiveState) bool {
			return s.Status == model.DeviceStatusUnknown && s.IP == "10.0.0.9"
		})).Return(nil)
		pub.On("Publish", mock.Anything, "devices:kv:upsert", mock.Anything).Return(nil)

		state, err := svc.UpsertLiveState(ctx, "dev-1", model.DeviceLiveStatePatch{IP: &ip})

		assert.NoError(t, err)
		assert.Equal(t, model.DeviceStatusUnknown, state.Status)
	})
}

func TestDeviceService_Delete(t *testing.T) {
	t.Run("drops the live-state entry with the row", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("Delete", ctx, "dev-1").Return(true, nil)
		states.On("Delete", ctx, "dev-1").Return(nil)
		pub.On("Publish", mock.Anything, "devices:kv:delete", mock.Anything).Return(nil)
		pub.On("Publish", mock.Anything, "devices:deleted", mock.Anything).Return(nil)

		deleted, err := svc.Delete(ctx, "dev-1")

		assert.NoError(t, err)
		assert.True(t, deleted)
		states.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("missing row deletes nothing and publishes nothing", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		repo.On("Delete", ctx, "dev-missing").Return(false, nil)

		deleted, err := svc.Delete(ctx, "dev-missing")

		assert.NoError(t, err)
		assert.False(t, deleted)
		states.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDeviceService_GetLiveState(t *testing.T) {
	t.Run("absent entry returns nil without error", func(t *testing.T) {
		repo := new(mockDeviceRepo)
		states := new(mockDeviceStates)
		pub := new(mockPublisher)
		svc := NewDeviceService(repo, states, pub)

		ctx := context.Background()
		states.On("Get", ctx, "dev-1").Return(nil, nil)

		state, err := svc.GetLiveState(ctx, "dev-1")

		assert.NoError(t, err)
		assert.Nil(t, state)
	})
}
