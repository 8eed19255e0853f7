package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// UnitPayload is a unit as the remote API ships it during a pull. Optional
// fields are pointers so an absent field can be told apart from a zero value
// during merge.
type UnitPayload struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   *string `json:"description"`
	LearnerLevel  *string `json:"learner_level"`
	IsGlobal      bool    `json:"is_global"`
	UpdatedAt     int64   `json:"updated_at"`
	SchemaVersion int     `json:"schema_version"`
	Payload       *string `json:"payload"`
}

type LessonPayload struct {
	ID            string  `json:"id"`
	UnitID        string  `json:"unit_id"`
	Title         string  `json:"title"`
	Position      int     `json:"position"`
	UpdatedAt     int64   `json:"updated_at"`
	SchemaVersion int     `json:"schema_version"`
	Payload       *string `json:"payload"`
}

type AssetPayload struct {
	ID        string  `json:"id"`
	UnitID    string  `json:"unit_id"`
	MediaType string  `json:"media_type"`
	RemoteURI string  `json:"remote_uri"`
	Checksum  *string `json:"checksum"`
	UpdatedAt int64   `json:"updated_at"`
}

// PullRequest asks the remote for changes. A nil cursor requests a complete
// snapshot; the payload hint tells the server which fidelity of content to
// include.
type PullRequest struct {
	Cursor  *string `json:"cursor"`
	Payload string  `json:"payload"`
}

// PullResponse carries the remote's changes since the request cursor. A nil
// returned cursor on a snapshot pull means the response is the complete
// catalog.
type PullResponse struct {
	Units   []*UnitPayload   `json:"units"`
	Lessons []*LessonPayload `json:"lessons"`
	Assets  []*AssetPayload  `json:"assets"`
	Cursor  *string          `json:"cursor"`
}

// Puller fetches changes from the remote API.
type Puller interface {
	Pull(ctx context.Context, req PullRequest) (*PullResponse, error)
}

// Client is the HTTP Puller against the remote sync endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Pull(ctx context.Context, pullReq PullRequest) (*PullResponse, error) {
	body, err := json.Marshal(pullReq)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync/pull", strings.NewReader(string(body)))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(fmt.Sprintf("pull failed with status %d", resp.StatusCode))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	pullResp := &PullResponse{}
	err = json.Unmarshal(respBody, pullResp)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return pullResp, nil
}
