package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack/slackevents"

	"github.com/justmike1/promptops/worker"
)

const maxBodyBytes = 1 << 20

// HeaderRetryNum is set by Slack on redeliveries of an event it did not see
// acknowledged in time.
const HeaderRetryNum = "X-Slack-Retry-Num"

// Router handles one chat command. It reports outcomes through chat
// messages and never returns an error.
type Router interface {
	Route(ctx context.Context, text, channelID, userID string)
}

// Handler serves the Events API endpoint.
type Handler struct {
	signingSecret string
	router        Router
	pool          *worker.Pool
	now           func() time.Time
}

func NewHandler(signingSecret string, router Router, pool *worker.Pool) *Handler {
	return &Handler{
		signingSecret: signingSecret,
		router:        router,
		pool:          pool,
		now:           time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.WithError(err).Warn("failed to read slack request body")
		http.Error(w, "Invalid request signature", http.StatusForbidden)
		return
	}

	if !Verify(r.Header, body, h.signingSecret, h.now()) {
		log.WithField("remote", r.RemoteAddr).Warn("slack signature verification failed")
		http.Error(w, "Invalid request signature", http.StatusForbidden)
		return
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.WithError(err).Warn("slack payload is not a JSON object")
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}

	if challenge, ok := envelope["challenge"]; ok {
		writeJSON(w, map[string]json.RawMessage{"challenge": challenge})
		return
	}

	if retry := r.Header.Get(HeaderRetryNum); retry != "" {
		log.WithFields(log.Fields{
			"retry":  retry,
			"reason": r.Header.Get("X-Slack-Retry-Reason"),
		}).Info("acknowledging slack retry without routing")
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}

	if inner, ok := envelope["event"]; ok && string(inner) != "null" {
		h.dispatch(r.Context(), body)
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) dispatch(ctx context.Context, body []byte) {
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		log.WithError(err).Debug("ignoring unsupported slack event")
		return
	}
	if event.Type != slackevents.CallbackEvent {
		log.WithField("type", event.Type).Debug("ignoring non-callback slack event")
		return
	}

	msg, ok := chatEventFrom(event.InnerEvent.Data)
	if !ok {
		return
	}
	submitRoute(ctx, h.pool, h.router, msg)
}

// chatEvent is a user message addressed to the bot.
type chatEvent struct {
	kind    string
	user    string
	text    string
	channel string
}

// chatEventFrom extracts a routable message from an inner event. Bot
// messages and message subtypes (edits, joins, ...) are skipped so the bot
// never answers itself.
func chatEventFrom(data interface{}) (chatEvent, bool) {
	switch ev := data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" {
			return chatEvent{}, false
		}
		return chatEvent{kind: "app_mention", user: ev.User, text: ev.Text, channel: ev.Channel}, true
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" {
			return chatEvent{}, false
		}
		return chatEvent{kind: "message", user: ev.User, text: ev.Text, channel: ev.Channel}, true
	default:
		return chatEvent{}, false
	}
}

func submitRoute(ctx context.Context, pool *worker.Pool, router Router, msg chatEvent) {
	entry := log.WithFields(log.Fields{
		"type":    msg.kind,
		"user":    msg.user,
		"channel": msg.channel,
	})
	entry.Infof("received %s: %q", msg.kind, truncate(msg.text, 80))

	err := pool.TrySubmit(ctx, "route "+msg.kind, func(ctx context.Context) error {
		router.Route(ctx, msg.text, msg.channel, msg.user)
		return nil
	})
	if err != nil {
		entry.WithError(err).Error("dropping command, could not queue it")
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
