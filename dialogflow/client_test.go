package dialogflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDetectIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/projects/ops-agent/agent/sessions/U42:detectIntent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ya29.token" {
			t.Errorf("Authorization = %q", got)
		}

		var req detectIntentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			return
		}
		if req.QueryInput.Text.Text != "ship it to staging" || req.QueryInput.Text.LanguageCode != "en" {
			t.Errorf("queryInput = %+v", req.QueryInput)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responseId":"r1","queryResult":{"queryText":"ship it to staging","fulfillmentText":"Deploying to staging."}}`))
	}))
	defer srv.Close()

	c := NewClient("ops-agent", "ya29.token", &http.Client{Timeout: time.Second}).WithBaseURL(srv.URL + "/")

	got, err := c.DetectIntent(context.Background(), "U42", "ship it to staging")

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "Deploying to staging." {
		t.Errorf("DetectIntent = %q", got)
	}
}

func TestDetectIntent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:    "api error",
			status:  http.StatusForbidden,
			body:    `{"error":{"code":403,"message":"permission denied","status":"PERMISSION_DENIED"}}`,
			wantErr: "permission denied",
		},
		{
			name:    "plain error",
			status:  http.StatusBadGateway,
			body:    `upstream down`,
			wantErr: "502",
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `{"queryResult":`,
			wantErr: "unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("p", "t", nil).WithBaseURL(srv.URL)

			_, err := c.DetectIntent(context.Background(), "U1", "hi")

			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
