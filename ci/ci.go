package ci

import (
	"context"
	"errors"
	"time"
)

// ErrTriggerTokenMissing is returned by a Backend asked to trigger a pipeline
// without a configured trigger credential.
var ErrTriggerTokenMissing = errors.New("trigger token is not configured")

// Status represents the state of a pipeline.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
	StatusSkipped  Status = "skipped"
)

// IsTerminal returns true if the status is in a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled || s == StatusSkipped
}

// Pipeline is a single CI run as reported by the provider.
type Pipeline struct {
	ID        int64
	Ref       string
	Status    Status
	WebURL    string
	CreatedAt time.Time
}

// MergeRequest is an open merge/pull request.
type MergeRequest struct {
	Title  string
	WebURL string
}

// Backend talks to one CI provider. Implementations return errors; Client
// turns them into absent results.
type Backend interface {
	TriggerPipeline(ctx context.Context, ref string, variables map[string]string) (*Pipeline, error)
	// ListPipelines returns pipelines for ref, most recent first.
	ListPipelines(ctx context.Context, ref string) ([]Pipeline, error)
	GetPipeline(ctx context.Context, id int64) (*Pipeline, error)
	CancelPipeline(ctx context.Context, id int64) error
	ListOpenMergeRequests(ctx context.Context) ([]MergeRequest, error)
}
