package outbox

type EnqueuePayload struct {
	Endpoint       string            `json:"endpoint" validate:"required,startswith=/"`
	Method         string            `json:"method" validate:"required,oneof=POST PUT PATCH DELETE"`
	Payload        string            `json:"payload,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type ListOutboxQuery struct {
	// Stalled restricts the listing to records with at least this many failed
	// attempts, for surfacing mutations that aren't getting through.
	Stalled *int `query:"stalled" json:"stalled,omitempty" validate:"omitempty,min=1"`
	Limit   int  `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=500"`
}
