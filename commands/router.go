package commands

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/justmike1/promptops/parse"
	"github.com/justmike1/promptops/replies"
)

// Router dispatches parsed commands to the CI client and renders the reply.
// Every chat command produces exactly one outbound message.
type Router struct {
	pipelines Pipelines
	notifier  Notifier
	detector  IntentDetector
	replies   *replies.Catalog
}

// NewRouter builds a router. detector may be nil, in which case unmatched
// text goes straight to the local keyword classifier.
func NewRouter(pipelines Pipelines, notifier Notifier, detector IntentDetector, catalog *replies.Catalog) *Router {
	if catalog == nil {
		catalog = replies.Default()
	}
	return &Router{
		pipelines: pipelines,
		notifier:  notifier,
		detector:  detector,
		replies:   catalog,
	}
}

// Route handles one chat message and posts the reply to channelID.
func (r *Router) Route(ctx context.Context, text, channelID, userID string) {
	cmd := parse.Parse(text)

	entry := log.WithFields(log.Fields{
		"intent":  cmd.Intent,
		"branch":  cmd.Branch,
		"user":    userID,
		"channel": channelID,
	})
	entry.Debug("routing chat command")

	var reply string
	if cmd.Intent == parse.Unknown {
		reply = r.fallback(ctx, text, userID)
	} else {
		reply = r.reply(ctx, replies.Chat, cmd, userID)
	}

	r.notifier.Notify(ctx, channelID, reply)
}

// Fulfill runs a pre-classified command and returns the webhook reply text.
// Only the four pipeline intents are served; anything else gets the fixed
// fallback text.
func (r *Router) Fulfill(ctx context.Context, cmd parse.Command, userID string) string {
	log.WithFields(log.Fields{
		"intent": cmd.Intent,
		"branch": cmd.Branch,
		"user":   userID,
	}).Debug("fulfilling webhook intent")

	switch cmd.Intent {
	case parse.TriggerPipeline, parse.PipelineStatus, parse.CancelPipeline, parse.ListMergeRequests:
		return r.reply(ctx, replies.Fulfillment, cmd, userID)
	default:
		return r.Unrecognized()
	}
}

// Unrecognized is the webhook reply for unknown intents and bad payloads.
func (r *Router) Unrecognized() string {
	return r.replies.Render(replies.Fulfillment, replies.Unknown)
}

// fallback answers text that matched no command phrase: the external agent
// first, then the keyword classifier, then a fixed apology. Keywords alone
// only ever run read-only commands; pipeline changes need the exact phrase.
func (r *Router) fallback(ctx context.Context, text, userID string) string {
	if r.detector != nil {
		answer, err := r.detector.DetectIntent(ctx, userID, text)
		switch {
		case err != nil:
			log.WithField("user", userID).WithError(err).Warn("intent detection failed, using keyword classifier")
		case strings.TrimSpace(answer) != "":
			return answer
		}
	}

	switch intent := parse.DetectIntentLabel(text); intent {
	case parse.PipelineStatus, parse.ListMergeRequests:
		return r.reply(ctx, replies.Chat, parse.WithIntent(intent, text), userID)
	case parse.TriggerPipeline:
		return r.replies.Render(replies.Chat, replies.ExactPhrase, "user", userID, "action", "trigger")
	case parse.CancelPipeline:
		return r.replies.Render(replies.Chat, replies.ExactPhrase, "user", userID, "action", "cancel")
	}
	return r.replies.Render(replies.Chat, replies.Unknown, "user", userID)
}

func (r *Router) reply(ctx context.Context, surface replies.Surface, cmd parse.Command, userID string) string {
	render := func(key string, args ...string) string {
		return r.replies.Render(surface, key, append([]string{"user", userID, "branch", cmd.Branch}, args...)...)
	}

	switch cmd.Intent {
	case parse.TriggerPipeline:
		p := r.pipelines.TriggerPipeline(ctx, cmd.Branch, cmd.Variables)
		if p == nil {
			return render(replies.TriggerFailed)
		}
		return render(replies.TriggerOK, "url", p.WebURL)

	case parse.PipelineStatus:
		p := r.pipelines.PipelineStatus(ctx, cmd.Branch)
		if p == nil {
			return render(replies.StatusFailed)
		}
		return render(replies.StatusOK, "state", string(p.Status), "url", p.WebURL)

	case parse.CancelPipeline:
		if r.pipelines.CancelRunningPipeline(ctx, cmd.Branch) {
			return render(replies.CancelOK)
		}
		return render(replies.CancelNone)

	case parse.ListMergeRequests:
		mrs, ok := r.pipelines.OpenMergeRequests(ctx)
		if !ok {
			return render(replies.MRsFailed)
		}
		if len(mrs) == 0 {
			return render(replies.MRsEmpty)
		}
		lines := make([]string, 0, len(mrs)+1)
		lines = append(lines, render(replies.MRsHeader))
		for _, mr := range mrs {
			lines = append(lines, render(replies.MRsItem, "title", mr.Title, "url", mr.WebURL))
		}
		return strings.Join(lines, "\n")

	case parse.Greeting:
		return render(replies.Greeting)

	case parse.Help:
		return render(replies.Help)

	default:
		return render(replies.Unknown)
	}
}
