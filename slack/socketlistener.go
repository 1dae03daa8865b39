package slack

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	slacklib "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/justmike1/promptops/worker"
)

// SocketListener receives Events API payloads over Socket Mode (outbound
// WebSocket) and routes chat messages exactly like Handler does. The
// app-level token authenticates the connection, so no signature is checked.
type SocketListener struct {
	smClient  *socketmode.Client
	botUserID string
	router    Router
	pool      *worker.Pool
	connected atomic.Bool
}

// NewSocketListener creates a Socket Mode listener.
// appToken is the Slack app-level token (xapp-...) with connections:write scope.
// botUserID is the bot's own Slack user ID (used to ignore self-messages).
// Set env SOCKET_MODE_DEBUG=1 to enable verbose wire-level logging.
func NewSocketListener(appToken, botToken, botUserID string, router Router, pool *worker.Pool, opts ...slacklib.Option) *SocketListener {
	debug := os.Getenv("SOCKET_MODE_DEBUG") == "1"

	apiOpts := append([]slacklib.Option{slacklib.OptionAppLevelToken(appToken)}, opts...)
	if debug {
		apiOpts = append(apiOpts, slacklib.OptionDebug(true))
	}

	smOpts := []socketmode.Option{}
	if debug {
		smOpts = append(smOpts, socketmode.OptionDebug(true))
	}

	return &SocketListener{
		smClient:  socketmode.New(slacklib.New(botToken, apiOpts...), smOpts...),
		botUserID: botUserID,
		router:    router,
		pool:      pool,
	}
}

// Run connects to Slack and blocks until ctx is done. It reconnects
// automatically on disconnection.
func (sl *SocketListener) Run(ctx context.Context) error {
	go sl.handleEvents(ctx)

	log.Info("[socket-mode] connecting to Slack")
	if err := sl.smClient.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode stopped: %w", err)
	}
	return nil
}

func (sl *SocketListener) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sl.smClient.Events:
			if !ok {
				log.Info("[socket-mode] event channel closed, listener stopped")
				return
			}
			sl.handleEvent(ctx, evt)
		}
	}
}

func (sl *SocketListener) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		if sl.connected.Load() {
			log.Info("[socket-mode] reconnecting...")
		}

	case socketmode.EventTypeConnected:
		if !sl.connected.Swap(true) {
			log.Info("[socket-mode] connected")
		}

	case socketmode.EventTypeConnectionError:
		sl.connected.Store(false)
		log.Warn("[socket-mode] connection error, will retry...")

	case socketmode.EventTypeEventsAPI:
		// Acknowledge immediately to prevent Slack retries.
		if evt.Request != nil {
			sl.smClient.Ack(*evt.Request)
		}

		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			log.Warnf("[socket-mode] EventsAPI data is %T, skipping", evt.Data)
			return
		}
		if event.Type != slackevents.CallbackEvent {
			return
		}

		msg, ok := chatEventFrom(event.InnerEvent.Data)
		if !ok || msg.user == sl.botUserID {
			return
		}
		submitRoute(ctx, sl.pool, sl.router, msg)

	default:
		// Acknowledge everything else (interactive, slash commands) to avoid retries.
		if evt.Request != nil {
			sl.smClient.Ack(*evt.Request)
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("…(%d more)", len(s)-max)
}
