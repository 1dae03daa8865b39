package dialogflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Dialogflow ES v2 API root.
const DefaultBaseURL = "https://dialogflow.googleapis.com/v2"

const languageCode = "en"

// Client calls detectIntent on a Dialogflow agent.
type Client struct {
	baseURL    string
	projectID  string
	httpClient *http.Client
}

type detectIntentRequest struct {
	QueryInput queryInput `json:"queryInput"`
}

type queryInput struct {
	Text textInput `json:"text"`
}

type textInput struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
}

type detectIntentResponse struct {
	QueryResult struct {
		FulfillmentText string `json:"fulfillmentText"`
	} `json:"queryResult"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient authenticates every call with accessToken. base supplies the
// transport and timeout; nil means http.DefaultClient.
func NewClient(projectID, accessToken string, base *http.Client) *Client {
	if base == nil {
		base = http.DefaultClient
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	httpClient.Timeout = base.Timeout

	return &Client{
		baseURL:    DefaultBaseURL,
		projectID:  projectID,
		httpClient: httpClient,
	}
}

// WithBaseURL points the client at another API root.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// DetectIntent sends text to the agent under sessionID and returns the
// agent's fulfillment text.
func (c *Client) DetectIntent(ctx context.Context, sessionID, text string) (string, error) {
	payload, err := json.Marshal(detectIntentRequest{
		QueryInput: queryInput{Text: textInput{Text: text, LanguageCode: languageCode}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/agent/sessions/%s:detectIntent",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to Dialogflow failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var out detectIntentResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(body, &out) == nil && out.Error != nil {
			return "", fmt.Errorf("Dialogflow API returned %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("Dialogflow API returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return out.QueryResult.FulfillmentText, nil
}
