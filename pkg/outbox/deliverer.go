package outbox

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tangolearn/tango/pkg/models"
)

// Deliverer performs the HTTP call for one outbox record against the remote
// API. Any non-2xx response is an error; the processor treats every error as
// retryable.
type Deliverer struct {
	baseURL string
	client  *http.Client
}

func NewDeliverer(baseURL string, timeout time.Duration) *Deliverer {
	return &Deliverer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *Deliverer) Deliver(ctx context.Context, rec *models.OutboxRecord) error {
	req, err := http.NewRequestWithContext(ctx, rec.Method, d.baseURL+rec.Endpoint, strings.NewReader(rec.Payload))
	if err != nil {
		return errors.WithStack(err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range rec.HeadersParsed {
		req.Header.Set(k, v)
	}
	// The idempotency key rides on every attempt so a redelivery after a
	// crash between "remote succeeded" and "local delete recorded" is
	// deduplicated server-side.
	req.Header.Set("Idempotency-Key", rec.IdempotencyKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(fmt.Sprintf("delivery failed with status %d for %s %s", resp.StatusCode, rec.Method, rec.Endpoint))
	}

	return nil
}
