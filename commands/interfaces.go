package commands

import (
	"context"

	"github.com/justmike1/promptops/ci"
)

// Pipelines is the CI surface the router drives. Failures come back as nil,
// false or ok=false, never as errors.
type Pipelines interface {
	TriggerPipeline(ctx context.Context, ref string, variables map[string]string) *ci.Pipeline
	PipelineStatus(ctx context.Context, branch string) *ci.Pipeline
	CancelRunningPipeline(ctx context.Context, branch string) bool
	OpenMergeRequests(ctx context.Context) ([]ci.MergeRequest, bool)
}

// Notifier delivers a chat message without reporting failures.
type Notifier interface {
	Notify(ctx context.Context, channelID, text string)
}

// IntentDetector asks an external agent to answer free text it could not
// match locally. sessionID keeps one conversation per user.
type IntentDetector interface {
	DetectIntent(ctx context.Context, sessionID, text string) (string, error)
}
