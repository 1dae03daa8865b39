package dialogflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/justmike1/promptops/parse"
)

const maxBodyBytes = 1 << 20

// Fulfiller runs a classified command and renders the fulfillment text.
type Fulfiller interface {
	Fulfill(ctx context.Context, cmd parse.Command, userID string) string
	Unrecognized() string
}

type webhookRequest struct {
	QueryResult struct {
		QueryText  string                 `json:"queryText"`
		Parameters map[string]interface{} `json:"parameters"`
		Intent     struct {
			DisplayName string `json:"displayName"`
		} `json:"intent"`
	} `json:"queryResult"`
	OriginalDetectIntentRequest struct {
		Payload struct {
			Data struct {
				User json.RawMessage `json:"user"`
			} `json:"data"`
		} `json:"payload"`
	} `json:"originalDetectIntentRequest"`
}

type webhookResponse struct {
	FulfillmentText string `json:"fulfillmentText"`
}

// Webhook serves Dialogflow fulfillment requests. It always answers 200 with
// a fulfillmentText.
type Webhook struct {
	fulfiller Fulfiller
}

func NewWebhook(fulfiller Fulfiller) *Webhook {
	return &Webhook{fulfiller: fulfiller}
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.WithError(err).Warn("failed to read webhook body")
		writeFulfillment(w, h.fulfiller.Unrecognized())
		return
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.WithError(err).Warn("malformed webhook payload")
		writeFulfillment(w, h.fulfiller.Unrecognized())
		return
	}

	cmd := commandFrom(&req)
	userID := userFrom(req.OriginalDetectIntentRequest.Payload.Data.User)

	log.WithFields(log.Fields{
		"intent": req.QueryResult.Intent.DisplayName,
		"branch": cmd.Branch,
		"user":   userID,
	}).Info("received webhook intent")

	writeFulfillment(w, h.fulfiller.Fulfill(r.Context(), cmd, userID))
}

// commandFrom maps the intent name and parameters to a Command. Variables
// found in the query text are used when the agent sent no matching parameter.
func commandFrom(req *webhookRequest) parse.Command {
	params := req.QueryResult.Parameters

	branch := stringParam(params, "branch")
	if branch == "" {
		branch = parse.DefaultBranch
	}

	vars := parse.ExtractVariables(strings.ToLower(req.QueryResult.QueryText))
	for key, param := range map[string]string{
		parse.VarDeployEnv: "environment",
		parse.VarService:   "service",
		parse.VarVersion:   "version",
	} {
		if v := stringParam(params, param); v != "" {
			vars[key] = v
		}
	}

	return parse.Command{
		Intent:    parse.IntentFromDisplayName(req.QueryResult.Intent.DisplayName),
		Branch:    branch,
		Variables: vars,
	}
}

func stringParam(params map[string]interface{}, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// userFrom accepts either a bare user id string or an object carrying one.
func userFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}

	var user struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &user); err != nil {
		return ""
	}
	if user.ID != "" {
		return user.ID
	}
	return user.UserID
}

func writeFulfillment(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(webhookResponse{FulfillmentText: text})
}
