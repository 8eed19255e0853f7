package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

// OutboxRecord is a durable, at-least-once-delivered mutation destined for
// the remote API. A record is only removed after a delivery attempt completes
// without error; failed attempts reschedule it with exponential backoff and
// never delete it.
type OutboxRecord struct {
	bun.BaseModel `bun:"table:outbox_records,alias:o"`

	ID             string            `bun:",pk" json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Endpoint       string            `bun:",nullzero" json:"endpoint"`
	Method         string            `bun:",nullzero" json:"method"`
	Payload        string            `bun:",nullzero" json:"payload"`
	Headers        string            `bun:",nullzero" json:"-"`
	HeadersParsed  map[string]string `bun:"-" json:"headers,omitempty"`
	IdempotencyKey string            `bun:",nullzero" json:"idempotency_key"`
	Attempts       int               `json:"attempts"`
	LastError      *string           `json:"last_error,omitempty"`
	NextAttemptAt  time.Time         `json:"next_attempt_at"`
}

func (rec *OutboxRecord) MarshalHeaders() error {
	if rec.HeadersParsed == nil {
		rec.Headers = ""
		return nil
	}

	data, err := json.Marshal(rec.HeadersParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	rec.Headers = string(data)

	return nil
}

func (rec *OutboxRecord) UnmarshalHeaders() error {
	if rec.Headers == "" {
		return nil
	}

	err := json.Unmarshal([]byte(rec.Headers), &rec.HeadersParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
