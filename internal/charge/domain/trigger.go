package domain

// TriggerKind identifies which actor is requesting a status transition.
// Edge validity depends on the trigger as well as the endpoints: a user
// cancel may not drive the same edge a gateway notification drives.
type TriggerKind string

const (
	TriggerAPI          TriggerKind = "api"
	TriggerNotification TriggerKind = "gateway_notification"
	TriggerCapture      TriggerKind = "capture_worker"
	TriggerExpiry       TriggerKind = "expiry_sweep"
	TriggerUserCancel   TriggerKind = "user_cancel"
	TriggerSystemCancel TriggerKind = "system_cancel"
)
