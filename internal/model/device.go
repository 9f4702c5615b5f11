package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Specs is the embedded hardware descriptor reported by the device agent.
// Stored as a jsonb column.
type Specs struct {
	CPUName      string `json:"cpuName"`
	RAM          int    `json:"ram"`
	DiskTotal    int    `json:"diskTotal"`
	Architecture string `json:"architecture"`
	Platform     string `json:"platform"`
	OS           string `json:"os"`
}

func (s Specs) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Specs) Scan(src any) error {
	if src == nil {
		*s = Specs{}
		return nil
	}

	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("specs: unsupported scan type %T", src)
	}
}

// Device is the durable device row. Live status is not stored here; it is
// merged in from the live-state cache at read time.
type Device struct {
	ID                 string         `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	LoggedUserName     string         `db:"logged_user_name" json:"loggedUserName"`
	Mac                string         `db:"mac" json:"mac"`
	OwnerID            string         `db:"owner_id" json:"ownerId"`
	CoOwnersID         pq.StringArray `db:"co_owners_id" json:"coOwnersId"`
	CanHostConnections bool           `db:"can_host_connections" json:"canHostConnections"`
	Specs              Specs          `db:"specs" json:"specs"`
	CreatedAt          time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updatedAt"`
}

// HasCoOwner reports whether userID has been granted co-ownership.
func (d *Device) HasCoOwner(userID string) bool {
	for _, id := range d.CoOwnersID {
		if id == userID {
			return true
		}
	}
	return false
}

// ExtendedDevice is a device row merged with its live-state cache entry.
// When no cache entry exists the status is unknown and the lists are empty.
type ExtendedDevice struct {
	Device
	Status           DeviceStatus `json:"status"`
	IP               string       `json:"ip,omitempty"`
	IdleSince        *time.Time   `json:"idleSince,omitempty"`
	SocketIDs        []string     `json:"socketIds"`
	HostingSessions  []string     `json:"hostingSessions"`
	WatchingSessions []string     `json:"watchingSessions"`
}

type CreateDeviceParams struct {
	Name               string   `json:"name"`
	LoggedUserName     string   `json:"loggedUserName"`
	Mac                string   `json:"mac"`
	OwnerID            string   `json:"ownerId"`
	CoOwnersID         []string `json:"coOwnersId"`
	CanHostConnections bool     `json:"canHostConnections"`
	Specs              Specs    `json:"specs"`
}

type UpdateDeviceParams struct {
	Name               string   `json:"name"`
	LoggedUserName     string   `json:"loggedUserName"`
	Mac                string   `json:"mac"`
	CoOwnersID         []string `json:"coOwnersId"`
	CanHostConnections bool     `json:"canHostConnections"`
	Specs              Specs    `json:"specs"`
}

// PatchDeviceParams carries a partial update; nil fields are left untouched.
type PatchDeviceParams struct {
	Name               *string   `json:"name"`
	LoggedUserName     *string   `json:"loggedUserName"`
	Mac                *string   `json:"mac"`
	CoOwnersID         *[]string `json:"coOwnersId"`
	CanHostConnections *bool     `json:"canHostConnections"`
	Specs              *Specs    `json:"specs"`
}

type DeviceOrderBy string

const (
	DeviceOrderByCreatedAt DeviceOrderBy = "createdAt"
	DeviceOrderByUpdatedAt DeviceOrderBy = "updatedAt"
	DeviceOrderByName      DeviceOrderBy = "name"
	DeviceOrderByMac       DeviceOrderBy = "mac"
	DeviceOrderByStatus    DeviceOrderBy = "status"
)

type OrderDirection string

const (
	OrderAsc  OrderDirection = "ASC"
	OrderDesc OrderDirection = "DESC"
)

// ListDevicesParams filters and pages the device list. When OwnerID is set the
// result is restricted to devices the user owns or co-owns.
type ListDevicesParams struct {
	OwnerID        string
	Limit          int
	Offset         int
	OrderBy        DeviceOrderBy
	OrderDirection OrderDirection
}

type Pagination struct {
	Limit      int `json:"limit"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

type DeviceList struct {
	Devices    []ExtendedDevice `json:"devices"`
	Pagination Pagination       `json:"pagination"`
}
