package sync

type TriggerSyncPayload struct {
	Force   bool    `json:"force"`
	Payload *string `json:"payload,omitempty" validate:"omitempty,oneof=minimal full"`
}
