package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/justmike1/promptops/ci"
)

const DefaultBaseURL = "https://gitlab.com"

// pipelinesPerPage bounds the branch lookup; only the first entry is used.
const pipelinesPerPage = 20

// Client implements ci.Backend against the GitLab REST API v4.
type Client struct {
	api          *gl.Client
	trigger      *gl.Client // nil when no trigger token is configured
	projectID    string
	triggerToken string
}

// NewClient builds a backend for projectID (numeric ID or "group/project").
// token is used for reads and cancels, triggerToken only for triggers.
// httpClient carries the outbound timeout and may be nil.
func NewClient(baseURL, projectID, token, triggerToken string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	api, err := newAPIClient(token, baseURL, httpClient)
	if err != nil {
		return nil, err
	}
	c := &Client{api: api, projectID: projectID, triggerToken: triggerToken}

	if triggerToken != "" {
		// The trigger endpoint authenticates with the token in the body only.
		c.trigger, err = newAPIClient("", baseURL, httpClient)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newAPIClient(token, baseURL string, httpClient *http.Client) (*gl.Client, error) {
	api, err := gl.NewClient(token,
		gl.WithBaseURL(strings.TrimRight(baseURL, "/")),
		gl.WithHTTPClient(httpClient),
		gl.WithoutRetries(),
		gl.WithCustomLimiter(rate.NewLimiter(rate.Inf, 0)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitlab client: %w", err)
	}
	return api, nil
}

func (c *Client) TriggerPipeline(ctx context.Context, ref string, variables map[string]string) (*ci.Pipeline, error) {
	if c.trigger == nil {
		return nil, ci.ErrTriggerTokenMissing
	}

	opts := &gl.RunPipelineTriggerOptions{
		Ref:   gl.Ptr(ref),
		Token: gl.Ptr(c.triggerToken),
	}
	for k, v := range variables {
		if v == "" {
			continue
		}
		if opts.Variables == nil {
			opts.Variables = make(map[string]string)
		}
		opts.Variables[k] = v
	}

	glp, _, err := c.trigger.PipelineTriggers.RunPipelineTrigger(c.projectID, opts, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to trigger pipeline on %s: %w", ref, err)
	}
	return convertPipeline(glp.ID, glp.Ref, glp.Status, glp.WebURL, glp.CreatedAt), nil
}

// ListPipelines returns pipelines for ref ordered by id, newest first.
func (c *Client) ListPipelines(ctx context.Context, ref string) ([]ci.Pipeline, error) {
	opts := &gl.ListProjectPipelinesOptions{
		ListOptions: gl.ListOptions{PerPage: pipelinesPerPage},
		Ref:         gl.Ptr(ref),
		OrderBy:     gl.Ptr("id"),
		Sort:        gl.Ptr("desc"),
	}

	glPipelines, _, err := c.api.Pipelines.ListProjectPipelines(c.projectID, opts, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines for %s: %w", ref, err)
	}

	pipelines := make([]ci.Pipeline, 0, len(glPipelines))
	for _, glp := range glPipelines {
		pipelines = append(pipelines, *convertPipeline(glp.ID, glp.Ref, glp.Status, glp.WebURL, glp.CreatedAt))
	}
	return pipelines, nil
}

func (c *Client) GetPipeline(ctx context.Context, id int64) (*ci.Pipeline, error) {
	glp, _, err := c.api.Pipelines.GetPipeline(c.projectID, int(id), gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline %d: %w", id, err)
	}
	return convertPipeline(glp.ID, glp.Ref, glp.Status, glp.WebURL, glp.CreatedAt), nil
}

func (c *Client) CancelPipeline(ctx context.Context, id int64) error {
	if _, _, err := c.api.Pipelines.CancelPipelineBuild(c.projectID, int(id), gl.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to cancel pipeline %d: %w", id, err)
	}
	return nil
}

func (c *Client) ListOpenMergeRequests(ctx context.Context) ([]ci.MergeRequest, error) {
	opts := &gl.ListProjectMergeRequestsOptions{State: gl.Ptr("opened")}

	glMRs, _, err := c.api.MergeRequests.ListProjectMergeRequests(c.projectID, opts, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list merge requests: %w", err)
	}

	mrs := make([]ci.MergeRequest, 0, len(glMRs))
	for _, mr := range glMRs {
		mrs = append(mrs, ci.MergeRequest{Title: mr.Title, WebURL: mr.WebURL})
	}
	return mrs, nil
}

func convertPipeline(id int, ref, status, webURL string, createdAt *time.Time) *ci.Pipeline {
	p := &ci.Pipeline{
		ID:     int64(id),
		Ref:    ref,
		Status: convertStatus(status),
		WebURL: webURL,
	}
	if createdAt != nil {
		p.CreatedAt = *createdAt
	}
	return p
}

func convertStatus(glStatus string) ci.Status {
	switch glStatus {
	case "created", "waiting_for_resource", "preparing", "pending", "scheduled", "manual":
		return ci.StatusPending
	case "running":
		return ci.StatusRunning
	case "success":
		return ci.StatusSuccess
	case "failed":
		return ci.StatusFailed
	case "canceled", "canceling":
		return ci.StatusCanceled
	case "skipped":
		return ci.StatusSkipped
	case "":
		return ci.StatusUnknown
	default:
		return ci.Status(glStatus)
	}
}
