package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	"github.com/justmike1/promptops/ci"
)

const runsPerPage = 20

// Client implements ci.Backend on top of GitHub Actions. A workflow run is
// treated as a pipeline and open pull requests as merge requests.
type Client struct {
	api      *gh.Client
	dispatch *gh.Client // nil when no trigger token is configured
	owner    string
	repo     string
	workflow string
	now      func() time.Time
}

// NewClient builds a backend for repository ("owner/repo"). token is used for
// reads and cancels, triggerToken only for workflow dispatch. base carries the
// outbound timeout and may be nil.
func NewClient(token, triggerToken, repository, workflow string, base *http.Client) (*Client, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repository %q, expected owner/repo", repository)
	}

	c := &Client{
		api:      gh.NewClient(tokenClient(token, base)),
		owner:    owner,
		repo:     repo,
		workflow: workflow,
		now:      time.Now,
	}
	if triggerToken != "" {
		c.dispatch = gh.NewClient(tokenClient(triggerToken, base))
	}
	return c, nil
}

// WithBaseURL points both API clients at a GitHub Enterprise or test server.
func (c *Client) WithBaseURL(baseURL string) (*Client, error) {
	api, err := c.api.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to set base URL: %w", err)
	}
	c.api = api
	if c.dispatch != nil {
		dispatch, err := c.dispatch.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set base URL: %w", err)
		}
		c.dispatch = dispatch
	}
	return c, nil
}

func tokenClient(token string, base *http.Client) *http.Client {
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	if base != nil {
		httpClient.Timeout = base.Timeout
	}
	return httpClient
}

// TriggerPipeline dispatches the configured workflow on ref. GitHub does not
// return the created run, so the newest dispatched run on ref created since
// the dispatch is looked up; if none is visible yet the workflow page is
// returned instead.
func (c *Client) TriggerPipeline(ctx context.Context, ref string, variables map[string]string) (*ci.Pipeline, error) {
	if c.dispatch == nil {
		return nil, ci.ErrTriggerTokenMissing
	}

	inputs := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		if v != "" {
			inputs[k] = v
		}
	}

	// created_at has second precision.
	since := c.now().UTC().Truncate(time.Second)

	event := gh.CreateWorkflowDispatchEventRequest{Ref: ref, Inputs: inputs}
	if _, err := c.dispatch.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.owner, c.repo, c.workflow, event); err != nil {
		return nil, fmt.Errorf("failed to dispatch workflow %s on %s: %w", c.workflow, ref, err)
	}

	runs, _, err := c.api.Actions.ListWorkflowRunsByFileName(ctx, c.owner, c.repo, c.workflow, &gh.ListWorkflowRunsOptions{
		Branch:      ref,
		Event:       "workflow_dispatch",
		Created:     ">=" + since.Format(time.RFC3339),
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err == nil {
		for _, run := range runs.WorkflowRuns {
			if !run.GetCreatedAt().Time.Before(since) {
				return convertRun(run), nil
			}
		}
	}

	return &ci.Pipeline{
		Ref:       ref,
		Status:    ci.StatusPending,
		WebURL:    fmt.Sprintf("https://github.com/%s/%s/actions/workflows/%s", c.owner, c.repo, c.workflow),
		CreatedAt: since,
	}, nil
}

// ListPipelines returns workflow runs on ref, newest first.
func (c *Client) ListPipelines(ctx context.Context, ref string) ([]ci.Pipeline, error) {
	runs, _, err := c.api.Actions.ListRepositoryWorkflowRuns(ctx, c.owner, c.repo, &gh.ListWorkflowRunsOptions{
		Branch:      ref,
		ListOptions: gh.ListOptions{PerPage: runsPerPage},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs for %s: %w", ref, err)
	}

	pipelines := make([]ci.Pipeline, 0, len(runs.WorkflowRuns))
	for _, run := range runs.WorkflowRuns {
		pipelines = append(pipelines, *convertRun(run))
	}
	return pipelines, nil
}

func (c *Client) GetPipeline(ctx context.Context, id int64) (*ci.Pipeline, error) {
	run, _, err := c.api.Actions.GetWorkflowRunByID(ctx, c.owner, c.repo, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow run %d: %w", id, err)
	}
	return convertRun(run), nil
}

// CancelPipeline cancels a workflow run. GitHub answers 202 Accepted, which
// go-github reports as an AcceptedError.
func (c *Client) CancelPipeline(ctx context.Context, id int64) error {
	_, err := c.api.Actions.CancelWorkflowRunByID(ctx, c.owner, c.repo, id)
	var accepted *gh.AcceptedError
	if err != nil && !errors.As(err, &accepted) {
		return fmt.Errorf("failed to cancel workflow run %d: %w", id, err)
	}
	return nil
}

// ListOpenMergeRequests returns open pull requests.
func (c *Client) ListOpenMergeRequests(ctx context.Context) ([]ci.MergeRequest, error) {
	prs, _, err := c.api.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list PRs: %w", err)
	}

	mrs := make([]ci.MergeRequest, 0, len(prs))
	for _, pr := range prs {
		mrs = append(mrs, ci.MergeRequest{Title: pr.GetTitle(), WebURL: pr.GetHTMLURL()})
	}
	return mrs, nil
}

func convertRun(run *gh.WorkflowRun) *ci.Pipeline {
	return &ci.Pipeline{
		ID:        run.GetID(),
		Ref:       run.GetHeadBranch(),
		Status:    convertStatus(run.GetStatus(), run.GetConclusion()),
		WebURL:    run.GetHTMLURL(),
		CreatedAt: run.GetCreatedAt().Time,
	}
}

func convertStatus(status, conclusion string) ci.Status {
	switch status {
	case "queued", "waiting", "requested", "pending":
		return ci.StatusPending
	case "in_progress":
		return ci.StatusRunning
	case "completed":
		switch conclusion {
		case "success":
			return ci.StatusSuccess
		case "failure", "timed_out", "startup_failure":
			return ci.StatusFailed
		case "cancelled":
			return ci.StatusCanceled
		case "skipped", "neutral":
			return ci.StatusSkipped
		}
	}
	if status == "" {
		return ci.StatusUnknown
	}
	return ci.Status(status)
}
