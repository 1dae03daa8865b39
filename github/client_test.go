package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/justmike1/promptops/ci"
)

var dispatchTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, triggerToken string, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient("api-token", triggerToken, "acme/app", "deploy.yml", &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c, err = c.WithBaseURL(srv.URL + "/")
	if err != nil {
		t.Fatalf("WithBaseURL: %v", err)
	}
	return c
}

func TestNewClient_InvalidRepository(t *testing.T) {
	for _, repo := range []string{"", "acme", "/app", "acme/"} {
		if _, err := NewClient("t", "", repo, "deploy.yml", nil); err == nil {
			t.Errorf("expected error for repository %q", repo)
		}
	}
}

func TestTriggerPipeline_NoTriggerToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	c := newTestClient(t, "", mux)

	_, err := c.TriggerPipeline(context.Background(), "main", nil)

	if !errors.Is(err, ci.ErrTriggerTokenMissing) {
		t.Errorf("err = %v, want ErrTriggerTokenMissing", err)
	}
}

func TestTriggerPipeline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/actions/workflows/deploy.yml/dispatches", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer trigger-token" {
			t.Errorf("Authorization = %q, want trigger token", got)
		}
		var body struct {
			Ref    string            `json:"ref"`
			Inputs map[string]string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode dispatch body: %v", err)
			return
		}
		if body.Ref != "feature-x" || body.Inputs["VERSION"] != "1.2.0" {
			t.Errorf("unexpected dispatch body %+v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v3/repos/acme/app/actions/workflows/deploy.yml/runs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer api-token" {
			t.Errorf("Authorization = %q, want api token", got)
		}
		if got := r.URL.Query().Get("created"); got != ">=2024-05-01T12:00:00Z" {
			t.Errorf("created = %q, want runs since the dispatch", got)
		}
		_, _ = w.Write([]byte(`{"total_count": 1, "workflow_runs": [
			{"id": 77, "head_branch": "feature-x", "status": "queued", "created_at": "2024-05-01T12:00:03Z",
			 "html_url": "https://github.com/acme/app/actions/runs/77"}
		]}`))
	})
	c := newTestClient(t, "trigger-token", mux)
	c.now = func() time.Time { return dispatchTime }

	p, err := c.TriggerPipeline(context.Background(), "feature-x", map[string]string{"VERSION": "1.2.0"})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.ID != 77 || p.Status != ci.StatusPending {
		t.Errorf("unexpected pipeline %+v", p)
	}
}

func TestTriggerPipeline_IgnoresRunsBeforeDispatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/actions/workflows/deploy.yml/dispatches", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v3/repos/acme/app/actions/workflows/deploy.yml/runs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total_count": 1, "workflow_runs": [
			{"id": 5, "head_branch": "main", "status": "completed", "conclusion": "success",
			 "created_at": "2020-01-01T00:00:00Z", "html_url": "https://github.com/acme/app/actions/runs/5"}
		]}`))
	})
	c := newTestClient(t, "trigger-token", mux)
	c.now = func() time.Time { return dispatchTime }

	p, err := c.TriggerPipeline(context.Background(), "main", nil)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.ID != 0 || p.Status != ci.StatusPending {
		t.Errorf("expected a pending placeholder, got %+v", p)
	}
	if p.WebURL != "https://github.com/acme/app/actions/workflows/deploy.yml" {
		t.Errorf("WebURL = %q, want the workflow page", p.WebURL)
	}
}

func TestTriggerPipeline_RunListFailsFallsBackToWorkflowPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/actions/workflows/deploy.yml/dispatches", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v3/repos/acme/app/actions/workflows/deploy.yml/runs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, "trigger-token", mux)

	p, err := c.TriggerPipeline(context.Background(), "main", nil)

	if err != nil || p == nil || p.ID != 0 {
		t.Errorf("expected placeholder pipeline, got %+v, %v", p, err)
	}
}

func TestListPipelinesAndDetail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("branch") != "main" {
			t.Errorf("branch = %q, want main", r.URL.Query().Get("branch"))
		}
		_, _ = w.Write([]byte(`{"total_count": 2, "workflow_runs": [
			{"id": 2, "head_branch": "main", "status": "in_progress"},
			{"id": 1, "head_branch": "main", "status": "completed", "conclusion": "success"}
		]}`))
	})
	mux.HandleFunc("/api/v3/repos/acme/app/actions/runs/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 2, "head_branch": "main", "status": "completed", "conclusion": "failure", "html_url": "https://github.com/acme/app/actions/runs/2"}`))
	})
	c := newTestClient(t, "", mux)

	runs, err := c.ListPipelines(context.Background(), "main")
	if err != nil {
		t.Fatalf("ListPipelines: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != 2 || runs[0].Status != ci.StatusRunning {
		t.Fatalf("unexpected runs %+v", runs)
	}

	p, err := c.GetPipeline(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if p.Status != ci.StatusFailed || p.WebURL != "https://github.com/acme/app/actions/runs/2" {
		t.Errorf("unexpected detail %+v", p)
	}
}

func TestCancelPipeline_Accepted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/actions/runs/5/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{}`))
	})
	c := newTestClient(t, "", mux)

	if err := c.CancelPipeline(context.Background(), 5); err != nil {
		t.Errorf("expected 202 to count as success, got %v", err)
	}
}

func TestCancelPipeline_Conflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/actions/runs/5/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message": "Cannot cancel a workflow run that is completed."}`))
	})
	c := newTestClient(t, "", mux)

	if err := c.CancelPipeline(context.Background(), 5); err == nil {
		t.Error("expected error for 409")
	}
}

func TestListOpenMergeRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/pulls", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "open" {
			t.Errorf("state = %q, want open", r.URL.Query().Get("state"))
		}
		_, _ = w.Write([]byte(`[
			{"number": 3, "title": "Bump deps", "html_url": "https://github.com/acme/app/pull/3"},
			{"number": 1, "title": "Init", "html_url": "https://github.com/acme/app/pull/1"}
		]`))
	})
	c := newTestClient(t, "", mux)

	mrs, err := c.ListOpenMergeRequests(context.Background())

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(mrs) != 2 || mrs[0].Title != "Bump deps" || mrs[1].WebURL != "https://github.com/acme/app/pull/1" {
		t.Errorf("unexpected merge requests %+v", mrs)
	}
}

func TestConvertStatus(t *testing.T) {
	tests := []struct {
		status, conclusion string
		want               ci.Status
	}{
		{"queued", "", ci.StatusPending},
		{"in_progress", "", ci.StatusRunning},
		{"completed", "success", ci.StatusSuccess},
		{"completed", "failure", ci.StatusFailed},
		{"completed", "timed_out", ci.StatusFailed},
		{"completed", "cancelled", ci.StatusCanceled},
		{"completed", "skipped", ci.StatusSkipped},
		{"", "", ci.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.conclusion, func(t *testing.T) {
			if got := convertStatus(tt.status, tt.conclusion); got != tt.want {
				t.Errorf("convertStatus(%q, %q) = %s, want %s", tt.status, tt.conclusion, got, tt.want)
			}
		})
	}
}
