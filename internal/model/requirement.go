package model

import (
	"encoding/json"
	"time"
)

// Requirement is a device-access request. Created pending by a requester and
// resolved by the owner; an approved use_device requirement grants the
// requester co-ownership of the device named in the payload.
type Requirement struct {
	ID          string            `db:"id" json:"id"`
	OwnerID     string            `db:"owner_id" json:"ownerId"`
	RequesterID string            `db:"requester_id" json:"requesterId"`
	Type        RequirementType   `db:"type" json:"type"`
	Status      RequirementStatus `db:"status" json:"status"`
	Payload     json.RawMessage   `db:"payload" json:"payload,omitempty"`
	RequestedAt time.Time         `db:"requested_at" json:"requestedAt"`
	RespondedAt *time.Time        `db:"responded_at" json:"respondedAt,omitempty"`
}

// RequirementPayload is the payload shape for use_device requirements.
type RequirementPayload struct {
	DeviceID string `json:"deviceId"`
}

type CreateRequirementParams struct {
	OwnerID string          `json:"ownerId"`
	Type    RequirementType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type UpdateRequirementParams struct {
	Status RequirementStatus `json:"status"`
}
