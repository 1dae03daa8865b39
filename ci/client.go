package ci

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// Client runs pipeline operations against a Backend. No method returns an
// error: any failure is logged and reported as an absent result.
type Client struct {
	backend Backend
}

func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// TriggerPipeline starts a pipeline on ref. It returns nil when the trigger
// credential is missing or the provider call fails.
func (c *Client) TriggerPipeline(ctx context.Context, ref string, variables map[string]string) *Pipeline {
	entry := log.WithFields(log.Fields{"op": "trigger", "branch": ref})

	p, err := c.backend.TriggerPipeline(ctx, ref, variables)
	if errors.Is(err, ErrTriggerTokenMissing) {
		entry.Warn("pipeline trigger skipped: trigger token is not configured")
		return nil
	}
	if err != nil {
		entry.WithError(err).Error("failed to trigger pipeline")
		return nil
	}
	if p == nil {
		entry.Error("provider returned no pipeline for trigger")
		return nil
	}

	entry.WithField("pipeline", p.ID).Info("pipeline triggered")
	return p
}

// PipelineStatus returns the full record of the latest pipeline on branch,
// or nil if there is none or the lookup failed.
func (c *Client) PipelineStatus(ctx context.Context, branch string) *Pipeline {
	entry := log.WithFields(log.Fields{"op": "status", "branch": branch})

	latest, ok := c.latest(ctx, entry, branch)
	if !ok {
		return nil
	}

	p, err := c.backend.GetPipeline(ctx, latest.ID)
	if err != nil {
		entry.WithError(err).WithField("pipeline", latest.ID).Error("failed to fetch pipeline detail")
		return nil
	}
	return p
}

// CancelRunningPipeline cancels the latest pipeline on branch. It returns
// false when there is no pipeline, when the latest one already finished, or
// when the cancel call fails.
func (c *Client) CancelRunningPipeline(ctx context.Context, branch string) bool {
	entry := log.WithFields(log.Fields{"op": "cancel", "branch": branch})

	latest, ok := c.latest(ctx, entry, branch)
	if !ok {
		return false
	}
	entry = entry.WithField("pipeline", latest.ID)

	if latest.Status.IsTerminal() {
		entry.WithField("status", latest.Status).Info("latest pipeline already finished, nothing to cancel")
		return false
	}

	if err := c.backend.CancelPipeline(ctx, latest.ID); err != nil {
		entry.WithError(err).Error("failed to cancel pipeline")
		return false
	}

	entry.Info("pipeline canceled")
	return true
}

// OpenMergeRequests lists open merge requests in provider order. ok is false
// only when the listing failed; an empty listing is a valid result.
func (c *Client) OpenMergeRequests(ctx context.Context) ([]MergeRequest, bool) {
	mrs, err := c.backend.ListOpenMergeRequests(ctx)
	if err != nil {
		log.WithField("op", "merge_requests").WithError(err).Error("failed to list merge requests")
		return nil, false
	}
	if mrs == nil {
		mrs = []MergeRequest{}
	}
	return mrs, true
}

func (c *Client) latest(ctx context.Context, entry *log.Entry, branch string) (Pipeline, bool) {
	pipelines, err := c.backend.ListPipelines(ctx, branch)
	if err != nil {
		entry.WithError(err).Error("failed to list pipelines")
		return Pipeline{}, false
	}
	if len(pipelines) == 0 {
		entry.Info("no pipelines found for branch")
		return Pipeline{}, false
	}
	return pipelines[0], true
}
