// Package export ships run summaries to an external findings endpoint, for
// teams aggregating remediation activity outside the hosting provider.
// Export failures are logged and never fail the run.
package export

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

// Client posts run records to a configured HTTP endpoint.
type Client struct {
	httpc  *resty.Client
	logger hclog.Logger
}

// New builds an export client. url is the endpoint base; token, when set,
// is sent as a bearer credential.
func New(url, token string, logger hclog.Logger) *Client {
	httpc := resty.New()
	httpc.SetBaseURL(url)
	httpc.SetTimeout(15 * time.Second)
	if token != "" {
		httpc.SetHeader("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return &Client{httpc: httpc, logger: logger}
}

// RunRecord is the exported shape of one run.
type RunRecord struct {
	RunID          string    `json:"run_id"`
	Repository     string    `json:"repository"`
	ChangeRequest  int       `json:"change_request"`
	HeadSHA        string    `json:"head_sha"`
	FinishedAt     time.Time `json:"finished_at"`
	PatchesApplied int       `json:"patches_applied"`
	FindingsOpen   int       `json:"findings_open"`
	Errors         []string  `json:"errors,omitempty"`
}

// PublishRun posts the run record. Callers treat a returned error as
// informational only.
func (c *Client) PublishRun(ctx context.Context, repository string, changeRequest int, headSHA string, result findings.RunResult) error {
	record := RunRecord{
		RunID:          result.RunID,
		Repository:     repository,
		ChangeRequest:  changeRequest,
		HeadSHA:        headSHA,
		FinishedAt:     time.Now().UTC(),
		PatchesApplied: len(result.PatchesApplied),
		FindingsOpen:   len(result.FindingsSkipped),
		Errors:         result.Errors,
	}

	resp, err := c.httpc.R().
		SetContext(ctx).
		SetBody(record).
		Post("/api/v1/runs")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("%d on publishing run %q", resp.StatusCode(), result.RunID)
	}
	c.logger.Debug("run record exported", "run_id", result.RunID, "status", resp.StatusCode())
	return nil
}
