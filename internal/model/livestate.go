package model

import "time"

// DeviceLiveState is the ephemeral cache document for a device, keyed by
// device id. The device agent owns status, ip, idleSince and socketIds; the
// session coordinator maintains the session-id index lists. Absence of an
// entry means "status unknown" and is never an error on read paths.
type DeviceLiveState struct {
	Status           DeviceStatus `json:"status"`
	UpdatedAt        string       `json:"updatedAt,omitempty"`
	Retries          int          `json:"retries"`
	IP               string       `json:"ip,omitempty"`
	IdleSince        *time.Time   `json:"idleSince,omitempty"`
	SocketIDs        []string     `json:"socketIds,omitempty"`
	HostingSessions  []string     `json:"hostingSessions,omitempty"`
	WatchingSessions []string     `json:"watchingSessions,omitempty"`
}

// DeviceLiveStatePatch is a shallow partial update of DeviceLiveState.
// Nil fields keep the current value.
type DeviceLiveStatePatch struct {
	Status           *DeviceStatus `json:"status"`
	UpdatedAt        *string       `json:"updatedAt"`
	Retries          *int          `json:"retries"`
	IP               *string       `json:"ip"`
	IdleSince        *time.Time    `json:"idleSince"`
	SocketIDs        *[]string     `json:"socketIds"`
	HostingSessions  *[]string     `json:"hostingSessions"`
	WatchingSessions *[]string     `json:"watchingSessions"`
}

// Apply shallow-merges the patch over cur. A nil cur starts from an empty
// document with status unknown.
func (p DeviceLiveStatePatch) Apply(cur *DeviceLiveState) *DeviceLiveState {
	merged := DeviceLiveState{Status: DeviceStatusUnknown}
	if cur != nil {
		merged = *cur
	}

	if p.Status != nil {
		merged.Status = *p.Status
	}
	if p.UpdatedAt != nil {
		merged.UpdatedAt = *p.UpdatedAt
	}
	if p.Retries != nil {
		merged.Retries = *p.Retries
	}
	if p.IP != nil {
		merged.IP = *p.IP
	}
	if p.IdleSince != nil {
		merged.IdleSince = p.IdleSince
	}
	if p.SocketIDs != nil {
		merged.SocketIDs = *p.SocketIDs
	}
	if p.HostingSessions != nil {
		merged.HostingSessions = *p.HostingSessions
	}
	if p.WatchingSessions != nil {
		merged.WatchingSessions = *p.WatchingSessions
	}

	return &merged
}

// SessionWatcherRef is a watcher membership entry as stored in the session
// live-state document.
type SessionWatcherRef struct {
	ID            string `json:"id"`
	IsControlling bool   `json:"isControlling"`
}

// SessionLiveState is the ephemeral cache document for a session, keyed by
// session id. Its presence is the signal that the session is live; its
// absence means the session is historical even if the durable row remains.
type SessionLiveState struct {
	HostID    string              `json:"hostId"`
	CreatedAt time.Time           `json:"createdAt"`
	Watchers  []SessionWatcherRef `json:"watchers"`
}
