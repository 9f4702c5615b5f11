package model

// DeviceStatus is the transient status reported by the device agent through
// the live-state cache. It never appears as a durable column.
type DeviceStatus string

const (
	DeviceStatusHosting       DeviceStatus = "hosting"
	DeviceStatusAvailable     DeviceStatus = "available"
	DeviceStatusOffline       DeviceStatus = "offline"
	DeviceStatusNotResponding DeviceStatus = "not responding"
	DeviceStatusUnknown       DeviceStatus = "unknown"
)

type RequirementType string

const (
	RequirementTypeUseDevice RequirementType = "use_device"
)

type RequirementStatus string

const (
	RequirementStatusPending  RequirementStatus = "pending"
	RequirementStatusApproved RequirementStatus = "approved"
	RequirementStatusRejected RequirementStatus = "rejected"
)
