package model

import "time"

// SessionWatcher is a durable watcher row from the session_watchers join
// table. The durable row is the membership source of truth; the control flag
// is refined from the live-state cache when the session is live.
type SessionWatcher struct {
	SessionID     string `db:"session_id" json:"-"`
	DeviceID      string `db:"device_id" json:"deviceId"`
	IsControlling bool   `db:"is_controlling" json:"isControlling"`
	Position      int    `db:"position" json:"-"`
}

// Session is the durable session row plus its watcher rows.
type Session struct {
	ID        string           `db:"id" json:"id"`
	DeviceID  string           `db:"device_id" json:"deviceId"`
	Duration  *string          `db:"duration" json:"duration,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time        `db:"updated_at" json:"updatedAt"`
	Watchers  []SessionWatcher `db:"-" json:"watchers"`
}

// SessionView is a session merged with its live-state entry.
type SessionView struct {
	Session
	IsLiving bool `json:"isLiving"`
}

type CreateSessionParams struct {
	DeviceID string              `json:"deviceId"`
	Watchers []SessionWatcherRef `json:"watchers"`
}

type UpdateSessionParams struct {
	Duration *string              `json:"duration"`
	Watchers *[]SessionWatcherRef `json:"watchers"`
}

type ListSessionsParams struct {
	StartDate *time.Time
	EndDate   *time.Time
	DeviceID  string
	Limit     int
	Offset    int
}

type SessionList struct {
	Sessions   []SessionView `json:"sessions"`
	Pagination Pagination    `json:"pagination"`
}
