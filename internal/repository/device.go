package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devshare/control-server-go/internal/model"
)

type DeviceRepository interface {
	FindByID(ctx context.Context, id string) (*model.Device, error)
	FindByMac(ctx context.Context, mac string) (*model.Device, error)
	// FindPage pushes ordering and pagination to the store.
	FindPage(ctx context.Context, params model.ListDevicesParams) ([]model.Device, int, error)
	// FindAllFiltered returns the full owner-filtered set, unbounded by page
	// size. Used when sorting by the live-state status field, which the store
	// cannot order by.
	FindAllFiltered(ctx context.Context, ownerID string) ([]model.Device, error)
	Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error)
	Update(ctx context.Context, device *model.Device) (*model.Device, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// orderColumns whitelists store-side sort keys.
var orderColumns = map[model.DeviceOrderBy]string{
	model.DeviceOrderByCreatedAt: "created_at",
	model.DeviceOrderByUpdatedAt: "updated_at",
	model.DeviceOrderByName:      "name",
	model.DeviceOrderByMac:       "mac",
}

const deviceOwnerFilter = `($1 = '' OR owner_id = $1 OR $1 = ANY(co_owners_id))`

type deviceRepo struct {
	db *sqlx.DB
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) FindByID(ctx context.Context, id string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices WHERE id = $1
	`, id)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) FindByMac(ctx context.Context, mac string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices WHERE mac = $1
	`, mac)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) FindPage(ctx context.Context, params model.ListDevicesParams) ([]model.Device, int, error) {
	column, ok := orderColumns[params.OrderBy]
	if !ok {
		column = "created_at"
	}

	direction := "ASC"
	if params.OrderDirection == model.OrderDesc {
		direction = "DESC"
	}

	var devices []model.Device
	query := fmt.Sprintf(`
		SELECT * FROM devices
		WHERE %s
		ORDER BY %s %s
		LIMIT $2 OFFSET $3
	`, deviceOwnerFilter, column, direction)
	if err := r.db.SelectContext(ctx, &devices, query, params.OwnerID, params.Limit, params.Offset); err != nil {
		return nil, 0, err
	}

	var count int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM devices WHERE %s`, deviceOwnerFilter)
	if err := r.db.GetContext(ctx, &count, countQuery, params.OwnerID); err != nil {
		return nil, 0, err
	}

	return devices, count, nil
}

func (r *deviceRepo) FindAllFiltered(ctx context.Context, ownerID string) ([]model.Device, error) {
	var devices []model.Device
	query := fmt.Sprintf(`SELECT * FROM devices WHERE %s`, deviceOwnerFilter)
	err := r.db.SelectContext(ctx, &devices, query, ownerID)
	return devices, err
}

func (r *deviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		INSERT INTO devices
			(id, name, logged_user_name, mac, owner_id, co_owners_id, can_host_connections, specs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, uuid.New().String(), params.Name, params.LoggedUserName, params.Mac,
		params.OwnerID, pq.StringArray(params.CoOwnersID), params.CanHostConnections, params.Specs)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) Update(ctx context.Context, device *model.Device) (*model.Device, error) {
	var updated model.Device
	err := r.db.GetContext(ctx, &updated, `
		UPDATE devices SET
			name = $2,
			logged_user_name = $3,
			mac = $4,
			co_owners_id = $5,
			can_host_connections = $6,
			specs = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, device.ID, device.Name, device.LoggedUserName, device.Mac,
		device.CoOwnersID, device.CanHostConnections, device.Specs)
	return HandleNotFound(&updated, err)
}

func (r *deviceRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}
