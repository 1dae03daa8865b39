package slack

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	slacklib "github.com/slack-go/slack"

	"github.com/justmike1/promptops/worker"
)

func newSlackServer(t *testing.T, response string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "C123") {
			t.Errorf("expected channel in request body, got %s", body)
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPostMessage(t *testing.T) {
	var calls atomic.Int32
	srv := newSlackServer(t, `{"ok": true, "channel": "C123", "ts": "1700000000.000100"}`, &calls)
	pool := worker.New("test", 1, time.Second)
	defer pool.Close()

	c := NewClient("xoxb-test", pool, slacklib.OptionAPIURL(srv.URL+"/"))

	ts, err := c.PostMessage(context.Background(), "C123", "hello")

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ts != "1700000000.000100" {
		t.Errorf("ts = %q", ts)
	}
}

func TestPostMessage_NotOK(t *testing.T) {
	var calls atomic.Int32
	srv := newSlackServer(t, `{"ok": false, "error": "channel_not_found"}`, &calls)
	pool := worker.New("test", 1, time.Second)
	defer pool.Close()

	c := NewClient("xoxb-test", pool, slacklib.OptionAPIURL(srv.URL+"/"))

	_, err := c.PostMessage(context.Background(), "C123", "hello")

	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected channel_not_found error, got %v", err)
	}
}

func TestNotify_DeliversInBackground(t *testing.T) {
	var calls atomic.Int32
	srv := newSlackServer(t, `{"ok": true, "channel": "C123", "ts": "1"}`, &calls)
	pool := worker.New("test", 2, time.Second)
	defer pool.Close()

	c := NewClient("xoxb-test", pool, slacklib.OptionAPIURL(srv.URL+"/"))

	c.Notify(context.Background(), "C123", "pipeline triggered")
	pool.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestNotify_SwallowsPlatformError(t *testing.T) {
	var calls atomic.Int32
	srv := newSlackServer(t, `{"ok": false, "error": "not_in_channel"}`, &calls)
	pool := worker.New("test", 1, time.Second)
	defer pool.Close()

	c := NewClient("xoxb-test", pool, slacklib.OptionAPIURL(srv.URL+"/"))

	c.Notify(context.Background(), "C123", "hello")
	pool.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly one attempt without retry", calls.Load())
	}
}
